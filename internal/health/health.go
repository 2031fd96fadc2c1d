// Package health считает подряд идущие сбои сенсорных обратных вызовов и
// решает, когда перезапускать получение данных и с какой задержкой.
package health

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config параметры монитора здоровья сенсоров
type Config struct {
	// MaxFailures число подряд идущих сбоев до перезапуска
	MaxFailures uint32
	// Backoff задержка перед повторной регистрацией при первом перезапуске
	Backoff time.Duration
	// MaxBackoff верхняя граница растущей задержки
	MaxBackoff time.Duration
	// ExhaustionThreshold число перезапусков подряд без успешного отсчета,
	// после которого сообщается об исчерпании
	ExhaustionThreshold uint32
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		MaxFailures:         5,
		Backoff:             time.Second,
		MaxBackoff:          30 * time.Second,
		ExhaustionThreshold: 5,
	}
}

// Monitor счетчик подряд идущих сбоев. Не потокобезопасен.
type Monitor struct {
	cfg      Config
	backoff  *backoff.ExponentialBackOff
	next     time.Duration
	failures uint32
	pending  bool
	// перезапуски подряд без успешного отсчета между ними
	streak    uint32
	restarts  uint64
	exhausted bool
}

// New создает монитор
func New(cfg Config) *Monitor {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = cfg.Backoff
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.Backoff,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         cfg.MaxBackoff,
		// без ограничения общего времени: перезапуски продолжаются
		MaxElapsedTime: 0,
		Stop:           backoff.Stop,
		Clock:          backoff.SystemClock,
	}
	b.Reset()
	return &Monitor{cfg: cfg, backoff: b}
}

// RecordFailure регистрирует сбой. Возвращает true ровно один раз при
// достижении порога; до завершения перезапуска повторно не сигнализирует.
func (m *Monitor) RecordFailure() bool {
	if m.failures < math.MaxUint32 {
		m.failures++
	}
	if m.pending || m.failures < m.cfg.MaxFailures {
		return false
	}
	m.pending = true
	m.streak++
	m.restarts++
	m.next = m.backoff.NextBackOff()
	return true
}

// RecordSuccess сбрасывает счетчик сбоев и рост задержки
func (m *Monitor) RecordSuccess() {
	m.failures = 0
	if m.streak > 0 {
		m.backoff.Reset()
	}
	m.streak = 0
	m.exhausted = false
}

// RestartCompleted отмечает завершение перезапуска и сбрасывает счетчик
func (m *Monitor) RestartCompleted() {
	m.pending = false
	m.failures = 0
}

// Backoff задержка для последнего запрошенного перезапуска: удваивается с
// каждым перезапуском подряд, не превышая MaxBackoff
func (m *Monitor) Backoff() time.Duration {
	return m.next
}

// CheckExhausted возвращает true один раз, когда серия перезапусков
// достигла порога исчерпания
func (m *Monitor) CheckExhausted() bool {
	if m.exhausted || m.cfg.ExhaustionThreshold == 0 || m.streak < m.cfg.ExhaustionThreshold {
		return false
	}
	m.exhausted = true
	return true
}

// Failures возвращает число подряд идущих сбоев
func (m *Monitor) Failures() uint32 {
	return m.failures
}

// RestartPending сообщает, ожидается ли завершение перезапуска
func (m *Monitor) RestartPending() bool {
	return m.pending
}

// Restarts возвращает общее число запрошенных перезапусков
func (m *Monitor) Restarts() uint64 {
	return m.restarts
}
