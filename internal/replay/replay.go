// Package replay прогоняет записанные сенсорные данные через детектор на
// ручных часах, чтобы подбирать пороги без устройства.
package replay

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"falldetect-service/internal/clock"
	"falldetect-service/internal/models"
	"falldetect-service/internal/monitor"
)

// Record строка записи. Malformed означает пустой обратный вызов сенсора.
type Record struct {
	Sample    models.SensorSample
	Malformed bool
}

// ReadCSV читает запись формата t_ms,kind,x,y,z. Строка заголовка
// необязательна; строка с пустыми осями считается поврежденным отсчетом.
func ReadCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var (
		out  []Record
		line int
	)
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		line++
		if line == 1 && strings.EqualFold(strings.TrimSpace(fields[0]), "t_ms") {
			continue
		}

		rec, err := parseRecord(fields)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, rec)
	}
}

func parseRecord(fields []string) (Record, error) {
	if len(fields) < 2 {
		return Record{}, fmt.Errorf("expected t_ms,kind,x,y,z, got %d fields", len(fields))
	}
	ts, err := strconv.ParseUint(strings.TrimSpace(fields[0]), 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("timestamp: %w", err)
	}
	kind, err := models.ParseSensorKind(strings.TrimSpace(fields[1]))
	if err != nil {
		return Record{}, err
	}

	rec := Record{Sample: models.SensorSample{Timestamp: ts, Kind: kind}}
	if len(fields) != 5 {
		rec.Malformed = true
		return rec, nil
	}
	for i, f := range fields[2:] {
		f = strings.TrimSpace(f)
		if f == "" {
			rec.Malformed = true
			return rec, nil
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return Record{}, fmt.Errorf("axis %d: %w", i, err)
		}
		rec.Sample.Values[i] = v
	}
	return rec, nil
}

// Options параметры прогона
type Options struct {
	Config  monitor.Config
	Battery monitor.BatterySource
	// NoGyro моделирует устройство без гироскопа
	NoGyro bool
}

// Result итог прогона
type Result struct {
	Events   []models.DiagnosticEvent
	Verdicts []models.Verdict
	Status   models.MonitorStatus
}

// Run прогоняет записи по порядку. Время часов следует за метками отсчетов;
// после последней записи время сдвигается на окно проверки, чтобы
// незавершенная проверка вынесла решение.
func Run(records []Record, opts Options) (Result, error) {
	var res Result
	if len(records) == 0 {
		return res, errors.New("empty recording")
	}

	clk := clock.NewManual(records[0].Sample.Timestamp)
	rec := &recorder{res: &res}
	mon, err := monitor.New(opts.Config, monitor.Deps{
		Sensors:     device{gyro: !opts.NoGyro},
		Clock:       clk,
		Battery:     opts.Battery,
		Outcomes:    rec,
		Diagnostics: rec,
	})
	if err != nil {
		return res, err
	}
	if err := mon.Start(); err != nil {
		return res, err
	}

	for _, r := range records {
		clk.AdvanceTo(r.Sample.Timestamp)
		if r.Malformed {
			mon.HandleMalformed(r.Sample.Kind)
			continue
		}
		mon.HandleSample(r.Sample)
	}
	clk.Advance(opts.Config.Thresholds.PostImpactDuration + time.Millisecond)

	res.Status = mon.Status()
	mon.Stop()
	return res, nil
}

type device struct {
	gyro bool
}

func (d device) Register(kind models.SensorKind, _ models.SamplingTier) bool {
	return kind == models.Acceleration || d.gyro
}

func (device) Unregister(models.SensorKind) {}

type recorder struct {
	res *Result
}

func (r *recorder) Record(e models.DiagnosticEvent) { r.res.Events = append(r.res.Events, e) }
func (r *recorder) FallConfirmed(v models.Verdict) { r.res.Verdicts = append(r.res.Verdicts, v) }
func (r *recorder) FallDismissed(v models.Verdict) { r.res.Verdicts = append(r.res.Verdicts, v) }
