// Package battery предоставляет источники состояния батареи для контроллера
// частоты опроса.
package battery

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"falldetect-service/internal/metrics"
	"falldetect-service/internal/models"
)

// Reported состояние батареи, присылаемое устройством (HTTP или MQTT).
// До первого отчета действует начальный уровень.
type Reported struct {
	mu       sync.RWMutex
	percent  int
	charging bool
}

// NewReported создает источник с начальным уровнем percent
func NewReported(percent int) *Reported {
	metrics.BatteryPercent.Set(float64(percent))
	return &Reported{percent: percent}
}

// Update сохраняет отчет устройства
func (r *Reported) Update(report models.BatteryReport) {
	r.mu.Lock()
	r.percent = report.Percentage
	r.charging = report.Charging
	r.mu.Unlock()
	metrics.BatteryPercent.Set(float64(report.Percentage))
}

// Percentage возвращает последний известный заряд
func (r *Reported) Percentage() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.percent
}

// IsCharging возвращает последний известный статус зарядки
func (r *Reported) IsCharging() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.charging
}

// Static фиксированное состояние батареи для воспроизведения записей
type Static struct {
	Percent  int
	Charging bool
}

// Percentage возвращает заданный заряд
func (s Static) Percentage() int { return s.Percent }

// IsCharging возвращает заданный статус зарядки
func (s Static) IsCharging() bool { return s.Charging }

// DefaultSysfsPath каталог источника питания Linux
const DefaultSysfsPath = "/sys/class/power_supply/BAT0"

// Sysfs читает заряд из power_supply ядра Linux. При ошибке чтения
// возвращается последнее успешно прочитанное значение.
type Sysfs struct {
	dir    string
	logger *slog.Logger

	mu       sync.Mutex
	percent  int
	charging bool
}

// NewSysfs создает источник для каталога dir
func NewSysfs(dir string, logger *slog.Logger) *Sysfs {
	if dir == "" {
		dir = DefaultSysfsPath
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sysfs{dir: dir, logger: logger, percent: 100}
}

// Percentage читает capacity
func (s *Sysfs) Percentage() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := readInt(filepath.Join(s.dir, "capacity"))
	if err != nil {
		s.logger.Warn("battery capacity unavailable", slog.String("dir", s.dir), slog.Any("error", err))
		return s.percent
	}
	s.percent = v
	metrics.BatteryPercent.Set(float64(v))
	return v
}

// IsCharging читает status
func (s *Sysfs) IsCharging() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(filepath.Join(s.dir, "status"))
	if err != nil {
		s.logger.Warn("battery status unavailable", slog.String("dir", s.dir), slog.Any("error", err))
		return s.charging
	}
	status := strings.TrimSpace(string(raw))
	s.charging = status == "Charging" || status == "Full"
	return s.charging
}

var errEmpty = errors.New("empty value")

func readInt(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return 0, fmt.Errorf("%s: %w", path, errEmpty)
	}
	return strconv.Atoi(s)
}
