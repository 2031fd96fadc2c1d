// Package session исполняет сессию мониторинга в одной горутине: сенсорные
// отсчеты, срабатывания таймеров и команды управления обрабатываются строго
// по очереди.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"falldetect-service/internal/clock"
	"falldetect-service/internal/diagnostics"
	"falldetect-service/internal/models"
	"falldetect-service/internal/monitor"
)

// ErrClosed цикл сессии завершен
var ErrClosed = errors.New("session closed")

// Deps внешние коллабораторы, общие для всех сессий мониторинга
type Deps struct {
	Sensors     monitor.SensorSource
	Battery     monitor.BatterySource
	Outcomes    monitor.OutcomeSink
	Diagnostics diagnostics.Sink
	Logger      *slog.Logger
}

// Session последовательный исполнитель мониторинга
type Session struct {
	cfg    monitor.Config
	deps   Deps
	logger *slog.Logger

	events chan func()
	done   chan struct{}

	// mon доступен только из цикла
	mon *monitor.Monitor

	mu       sync.RWMutex
	snapshot models.MonitorStatus

	dropped atomic.Uint64
}

// New создает сессию с очередью событий размера bufferSize
func New(cfg monitor.Config, deps Deps, bufferSize int) *Session {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Session{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		events:   make(chan func(), bufferSize),
		done:     make(chan struct{}),
		snapshot: models.MonitorStatus{State: "idle"},
	}
}

// Run обрабатывает события до отмены ctx. При выходе активный мониторинг
// останавливается.
func (s *Session) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case fn := <-s.events:
			fn()
			s.refresh()
		case <-ctx.Done():
			if s.mon != nil {
				s.mon.Stop()
				s.refresh()
			}
			return
		}
	}
}

// Done закрывается после завершения Run
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// post ставит вызов в очередь, ожидая места. Используется таймерами.
func (s *Session) post(fn func()) bool {
	select {
	case s.events <- fn:
		return true
	case <-s.done:
		return false
	}
}

// Submit отправляет отсчет на обработку без блокировки
func (s *Session) Submit(sample models.SensorSample) bool {
	return s.offer(func() {
		if s.mon != nil {
			s.mon.HandleSample(sample)
		}
	})
}

// SubmitMalformed сообщает о поврежденном обратном вызове сенсора
func (s *Session) SubmitMalformed(kind models.SensorKind) bool {
	return s.offer(func() {
		if s.mon != nil {
			s.mon.HandleMalformed(kind)
		}
	})
}

func (s *Session) offer(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- fn:
		return true
	default:
		// Очередь переполнена, отсчет теряется
		s.dropped.Add(1)
		return false
	}
}

// Start запускает новую сессию мониторинга со свежим состоянием.
// Повторный вызов при активном мониторинге возвращает monitor.ErrAlreadyActive.
func (s *Session) Start(ctx context.Context) error {
	return s.call(ctx, func() error {
		if s.mon != nil && s.mon.Active() {
			return monitor.ErrAlreadyActive
		}
		mon, err := monitor.New(s.cfg, monitor.Deps{
			Sensors:     s.deps.Sensors,
			Clock:       clock.NewLoop(s.post),
			Battery:     s.deps.Battery,
			Outcomes:    s.deps.Outcomes,
			Diagnostics: s.deps.Diagnostics,
			Logger:      s.logger,
		})
		if err != nil {
			return err
		}
		s.mon = mon
		if err := mon.Start(); err != nil {
			s.logger.Error("monitoring failed to start", slog.String("session", mon.ID()), slog.Any("error", err))
			return err
		}
		s.logger.Info("monitoring started", slog.String("session", mon.ID()))
		return nil
	})
}

// Stop останавливает мониторинг. Остановка неактивной сессии не ошибка.
func (s *Session) Stop(ctx context.Context) error {
	return s.call(ctx, func() error {
		if s.mon == nil || !s.mon.Active() {
			return nil
		}
		s.mon.Stop()
		s.logger.Info("monitoring stopped", slog.String("session", s.mon.ID()))
		return nil
	})
}

func (s *Session) call(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	posted := func() bool {
		select {
		case s.events <- func() { errc <- fn() }:
			return true
		case <-s.done:
			return false
		case <-ctx.Done():
			return false
		}
	}()
	if !posted {
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrClosed
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// Status возвращает снимок состояния после последнего обработанного события
func (s *Session) Status() models.MonitorStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Dropped возвращает число отсчетов, потерянных из-за переполнения очереди
func (s *Session) Dropped() uint64 {
	return s.dropped.Load()
}

// QueueDepth возвращает число событий в очереди
func (s *Session) QueueDepth() int {
	return len(s.events)
}

func (s *Session) refresh() {
	if s.mon == nil {
		return
	}
	st := s.mon.Status()
	s.mu.Lock()
	s.snapshot = st
	s.mu.Unlock()
}
