// Package monitor связывает нормализацию, автомат детектора, монитор здоровья
// сенсоров и адаптивную частоту опроса в одну сессию мониторинга.
//
// Monitor не потокобезопасен: все методы, включая обратные вызовы таймеров,
// должны исполняться в одном последовательном контексте (см. пакет session).
package monitor

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"falldetect-service/internal/analytics"
	"falldetect-service/internal/clock"
	"falldetect-service/internal/detector"
	"falldetect-service/internal/diagnostics"
	"falldetect-service/internal/health"
	"falldetect-service/internal/models"
	"falldetect-service/internal/sampling"
)

var (
	// ErrAccelRegistration источник отказал в регистрации акселерометра
	ErrAccelRegistration = errors.New("accelerometer registration rejected")
	// ErrAlreadyActive мониторинг уже запущен
	ErrAlreadyActive = errors.New("monitoring already active")
	// ErrHalted сессия остановлена из-за фатальной ошибки
	ErrHalted = errors.New("monitoring halted")
)

// SensorSource платформенный источник сенсорных отсчетов
type SensorSource interface {
	Register(kind models.SensorKind, tier models.SamplingTier) bool
	Unregister(kind models.SensorKind)
}

// BatterySource источник состояния батареи
type BatterySource = sampling.Battery

// OutcomeSink получает ровно одно решение на завершенный цикл проверки.
// Методы не должны блокировать вызывающего.
type OutcomeSink interface {
	FallConfirmed(v models.Verdict)
	FallDismissed(v models.Verdict)
}

// Config параметры сессии
type Config struct {
	Thresholds detector.Thresholds
	Health     health.Config
	Sampling   sampling.Config
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		Thresholds: detector.DefaultThresholds(),
		Health:     health.DefaultConfig(),
		Sampling:   sampling.DefaultConfig(),
	}
}

// Deps внешние коллабораторы сессии
type Deps struct {
	Sensors     SensorSource
	Clock       clock.Clock
	Battery     BatterySource
	Outcomes    OutcomeSink
	Diagnostics diagnostics.Sink
	Logger      *slog.Logger
}

// Monitor одна сессия мониторинга
type Monitor struct {
	id   string
	cfg  Config
	deps Deps

	machine *detector.Machine
	health  *health.Monitor
	sampler *sampling.Controller

	active    bool
	acquiring bool
	halted    bool
	stopped   bool

	verifyTimer  clock.Timer
	restartTimer clock.Timer
	batteryTimer clock.Timer

	accepted  uint64
	rejected  uint64
	confirmed uint64
	dismissed uint64
}

// New создает сессию со свежими автоматом, окнами и счетчиками
func New(cfg Config, deps Deps) (*Monitor, error) {
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}
	if deps.Sensors == nil || deps.Clock == nil || deps.Battery == nil {
		return nil, errors.New("monitor requires sensors, clock and battery")
	}
	if deps.Outcomes == nil {
		deps.Outcomes = nopOutcomes{}
	}
	if deps.Diagnostics == nil {
		deps.Diagnostics = diagnostics.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}

	id := uuid.New().String()
	return &Monitor{
		id:      id,
		cfg:     cfg,
		deps:    deps,
		machine: detector.New(cfg.Thresholds),
		health:  health.New(cfg.Health),
		sampler: sampling.New(cfg.Sampling, deps.Battery),
	}, nil
}

// ID возвращает идентификатор сессии
func (m *Monitor) ID() string {
	return m.id
}

// Active сообщает, запущен ли мониторинг
func (m *Monitor) Active() bool {
	return m.active
}

// Start регистрирует сенсоры и запускает периодическую проверку батареи.
// Повторный запуск после Stop начинает новую сессию со свежим состоянием.
func (m *Monitor) Start() error {
	switch {
	case m.halted:
		return ErrHalted
	case m.active:
		m.deps.Logger.Warn("monitoring already active", slog.String("session", m.id))
		return ErrAlreadyActive
	}

	if m.stopped {
		m.reset()
	}
	m.active = true
	if err := m.acquire(m.sampler.Select()); err != nil {
		return fmt.Errorf("start monitoring: %w", err)
	}
	m.batteryTimer = m.deps.Clock.Every(m.sampler.Period(), m.checkBattery)

	m.emit(models.DiagMonitoringStarted, 0, m.deps.Clock.Now(), map[string]any{
		"tier":         m.sampler.Active().String(),
		"gyro_present": m.machine.GyroPresent(),
	})
	return nil
}

// Stop отменяет все таймеры и снимает регистрацию сенсоров. Незавершенная
// проверка после удара отбрасывается без решения.
func (m *Monitor) Stop() {
	if !m.active {
		return
	}
	m.teardown()
	m.stopped = true
	m.emit(models.DiagMonitoringStopped, 0, m.deps.Clock.Now(), nil)
}

func (m *Monitor) reset() {
	m.id = uuid.New().String()
	m.machine = detector.New(m.cfg.Thresholds)
	m.health = health.New(m.cfg.Health)
	m.sampler = sampling.New(m.cfg.Sampling, m.deps.Battery)
	m.accepted, m.rejected = 0, 0
	m.confirmed, m.dismissed = 0, 0
	m.stopped = false
}

func (m *Monitor) teardown() {
	m.cancelTimers()
	m.release()
	if m.machine.Cancel() {
		m.emit(models.DiagVerificationCancelled, 0, m.deps.Clock.Now(), nil)
	}
	m.active = false
}

func (m *Monitor) halt(reason string) {
	m.teardown()
	m.halted = true
	m.emit(models.DiagMonitoringHalted, 0, m.deps.Clock.Now(), map[string]any{"reason": reason})
}

func (m *Monitor) cancelTimers() {
	for _, t := range []*clock.Timer{&m.verifyTimer, &m.restartTimer, &m.batteryTimer} {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
	}
}

// acquire регистрирует сенсоры с профилем tier. Отказ акселерометра считается
// сбоем и останавливает сессию, отказ гироскопа только отключает проверку
// вращения.
func (m *Monitor) acquire(tier models.SamplingTier) error {
	if !m.deps.Sensors.Register(models.Acceleration, tier) {
		m.health.RecordFailure()
		m.emit(models.DiagRegistrationFailed, 0, m.deps.Clock.Now(), map[string]any{
			"kind": string(models.Acceleration),
		})
		m.halt(ErrAccelRegistration.Error())
		return ErrAccelRegistration
	}

	gyro := m.deps.Sensors.Register(models.Rotation, tier)
	if !gyro {
		m.emit(models.DiagRegistrationFailed, 0, m.deps.Clock.Now(), map[string]any{
			"kind":     string(models.Rotation),
			"degraded": true,
		})
	}
	m.machine.SetGyroPresent(gyro)
	m.sampler.Commit(tier)
	m.acquiring = true
	return nil
}

func (m *Monitor) release() {
	if !m.acquiring {
		return
	}
	m.deps.Sensors.Unregister(models.Acceleration)
	m.deps.Sensors.Unregister(models.Rotation)
	m.acquiring = false
}

// HandleSample обрабатывает один сенсорный отсчет. Во время перезапуска
// сенсоры не зарегистрированы, и отсчеты отбрасываются.
func (m *Monitor) HandleSample(s models.SensorSample) {
	if !m.active || !m.acquiring {
		return
	}

	r, err := analytics.Normalize(s)
	if err != nil {
		m.recordFailure(s.Kind, s.Timestamp, err)
		return
	}
	m.health.RecordSuccess()
	m.accepted++

	switch s.Kind {
	case models.Rotation:
		m.machine.OnRotation(r)
	case models.Acceleration:
		m.onAcceleration(r)
	}
}

// HandleMalformed регистрирует пустой или поврежденный обратный вызов
func (m *Monitor) HandleMalformed(kind models.SensorKind) {
	if !m.active || !m.acquiring {
		return
	}
	m.recordFailure(kind, m.deps.Clock.Now(), analytics.ErrMalformedSample)
}

func (m *Monitor) recordFailure(kind models.SensorKind, ts uint64, err error) {
	m.rejected++
	m.emit(models.DiagSampleMalformed, float64(m.health.Failures()+1), ts, map[string]any{
		"kind":  string(kind),
		"error": err.Error(),
	})
	if m.health.RecordFailure() {
		m.scheduleRestart()
	}
}

func (m *Monitor) scheduleRestart() {
	backoff := m.health.Backoff()
	if m.health.CheckExhausted() {
		m.emit(models.DiagRestartExhausted, float64(m.health.Restarts()), m.deps.Clock.Now(), map[string]any{
			"backoff_ms": backoff.Milliseconds(),
		})
	}

	m.release()
	m.emit(models.DiagRestartScheduled, float64(backoff.Milliseconds()), m.deps.Clock.Now(), map[string]any{
		"failures": m.health.Failures(),
	})
	m.restartTimer = m.deps.Clock.AfterFunc(backoff, m.completeRestart)
}

func (m *Monitor) completeRestart() {
	m.restartTimer = nil
	if !m.active {
		return
	}
	m.health.RestartCompleted()

	// получение данных уже возобновлено другим путем
	if m.acquiring {
		return
	}
	if err := m.acquire(m.sampler.Select()); err != nil {
		return
	}
	m.emit(models.DiagRestartCompleted, 0, m.deps.Clock.Now(), map[string]any{
		"tier": m.sampler.Active().String(),
	})
}

func (m *Monitor) onAcceleration(r models.ScalarReading) {
	prev := m.machine.State()
	tr := m.machine.OnAcceleration(r)

	switch tr {
	case detector.TransitionFreeFallStarted:
		m.emit(models.DiagFreeFallStarted, r.Value, r.Timestamp, nil)

	case detector.TransitionImpactAccepted:
		m.emit(models.DiagImpactAccepted, r.Value, r.Timestamp, map[string]any{
			"latency_ms": sinceFreeFall(prev, r),
			"gyro_mean":  m.machine.GyroMean(),
		})
		m.verifyTimer = m.deps.Clock.AfterFunc(m.cfg.Thresholds.PostImpactDuration, m.expireVerification)

	case detector.TransitionImpactRejectedGyro:
		m.emit(models.DiagImpactRejectedGyro, r.Value, r.Timestamp, map[string]any{
			"gyro_mean": m.machine.GyroMean(),
		})

	case detector.TransitionImpactTooLate:
		m.emit(models.DiagImpactTooLate, r.Value, r.Timestamp, map[string]any{
			"latency_ms": sinceFreeFall(prev, r),
		})

	case detector.TransitionFreeFallTimeout:
		m.emit(models.DiagFreeFallTimeout, r.Value, r.Timestamp, map[string]any{
			"latency_ms": sinceFreeFall(prev, r),
		})
	}
}

func (m *Monitor) expireVerification() {
	m.verifyTimer = nil
	if !m.active {
		return
	}
	v, ok := m.machine.Expire()
	if !ok {
		return
	}
	v.SessionID = m.id
	v.DecidedAt = time.Now()

	detail := map[string]any{
		"still_samples":     v.StillSamples,
		"total_samples":     v.TotalSamples,
		"mean_magnitude":    v.MeanMagnitude,
		"max_magnitude":     v.MaxMagnitude,
		"insufficient_data": v.InsufficientData,
	}

	if v.Outcome == models.OutcomeConfirmed {
		m.confirmed++
		m.emit(models.DiagFallConfirmed, v.StillnessRatio, v.ImpactAt, detail)
		m.deps.Outcomes.FallConfirmed(v)
		return
	}
	m.dismissed++
	m.emit(models.DiagFallDismissed, v.StillnessRatio, v.ImpactAt, detail)
	m.deps.Outcomes.FallDismissed(v)
}

// checkBattery периодически выбирает профиль опроса и при смене
// перерегистрирует сенсоры
func (m *Monitor) checkBattery() {
	// сессия могла быть остановлена между циклами; во время перезапуска
	// профиль выберет сам перезапуск
	if !m.active || !m.acquiring {
		return
	}
	tier, changed := m.sampler.Evaluate()
	if !changed {
		return
	}
	prev := m.sampler.Active()

	m.release()
	if err := m.acquire(tier); err != nil {
		return
	}
	m.emit(models.DiagTierChanged, float64(m.deps.Battery.Percentage()), m.deps.Clock.Now(), map[string]any{
		"from": prev.String(),
		"to":   tier.String(),
	})
}

// Status возвращает снимок состояния сессии
func (m *Monitor) Status() models.MonitorStatus {
	return models.MonitorStatus{
		SessionID:       m.id,
		Active:          m.active,
		Acquiring:       m.acquiring,
		Halted:          m.halted,
		State:           m.machine.State().Name(),
		Tier:            m.sampler.Active(),
		GyroPresent:     m.machine.GyroPresent(),
		HealthFailures:  m.health.Failures(),
		Restarts:        m.health.Restarts(),
		SamplesAccepted: m.accepted,
		SamplesRejected: m.rejected,
		Confirmed:       m.confirmed,
		Dismissed:       m.dismissed,
	}
}

func (m *Monitor) emit(kind models.DiagnosticKind, value float64, ts uint64, detail map[string]any) {
	m.deps.Diagnostics.Record(models.DiagnosticEvent{
		SessionID: m.id,
		Kind:      kind,
		State:     m.machine.State().Name(),
		Value:     value,
		Timestamp: ts,
		Detail:    detail,
		At:        time.Now(),
	})
}

func sinceFreeFall(prev detector.State, r models.ScalarReading) uint64 {
	ff, ok := prev.(detector.FreeFalling)
	if !ok || r.Timestamp < ff.Since {
		return 0
	}
	return r.Timestamp - ff.Since
}

type nopOutcomes struct{}

func (nopOutcomes) FallConfirmed(models.Verdict) {}
func (nopOutcomes) FallDismissed(models.Verdict) {}
