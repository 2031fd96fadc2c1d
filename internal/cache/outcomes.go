package cache

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"falldetect-service/internal/metrics"
	"falldetect-service/internal/models"
)

// VerdictStore хранилище решений
type VerdictStore interface {
	CacheVerdict(v models.Verdict) error
}

// OutcomeSink передает решения детектора в хранилище в фоновой горутине,
// не блокируя сессию
type OutcomeSink struct {
	store  VerdictStore
	queue  chan models.Verdict
	stop   chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger

	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewOutcomeSink создает приемник с очередью bufferSize
func NewOutcomeSink(store VerdictStore, bufferSize int, logger *slog.Logger) *OutcomeSink {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &OutcomeSink{
		store:  store,
		queue:  make(chan models.Verdict, bufferSize),
		stop:   make(chan struct{}),
		logger: logger,
	}
}

// Start запускает горутину записи
func (s *OutcomeSink) Start() {
	s.wg.Add(1)
	go s.worker()
}

func (s *OutcomeSink) worker() {
	defer s.wg.Done()
	for {
		select {
		case v := <-s.queue:
			s.write(v)
		case <-s.stop:
			// дописываем то, что уже в очереди
			for {
				select {
				case v := <-s.queue:
					s.write(v)
				default:
					return
				}
			}
		}
	}
}

func (s *OutcomeSink) write(v models.Verdict) {
	if err := s.store.CacheVerdict(v); err != nil {
		s.failed.Add(1)
		metrics.CacheMisses.Inc()
		s.logger.Error("failed to store verdict",
			slog.String("session", v.SessionID),
			slog.String("outcome", string(v.Outcome)),
			slog.Any("error", err))
		return
	}
	metrics.CacheHits.Inc()
}

// FallConfirmed ставит подтвержденное падение в очередь
func (s *OutcomeSink) FallConfirmed(v models.Verdict) {
	s.enqueue(v)
}

// FallDismissed ставит отклоненное срабатывание в очередь
func (s *OutcomeSink) FallDismissed(v models.Verdict) {
	s.enqueue(v)
}

func (s *OutcomeSink) enqueue(v models.Verdict) {
	select {
	case s.queue <- v:
	default:
		// Очередь переполнена, решение остается только в логе и журнале
		s.dropped.Add(1)
		s.logger.Warn("verdict queue full", slog.String("session", v.SessionID), slog.String("outcome", string(v.Outcome)))
	}
}

// Dropped число решений, потерянных из-за переполнения
func (s *OutcomeSink) Dropped() uint64 {
	return s.dropped.Load()
}

// Failed число решений, которые не удалось записать
func (s *OutcomeSink) Failed() uint64 {
	return s.failed.Load()
}

// Stop дописывает очередь и останавливает горутину
func (s *OutcomeSink) Stop() {
	close(s.stop)
	s.wg.Wait()
}
