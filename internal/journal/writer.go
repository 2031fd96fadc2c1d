package journal

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"falldetect-service/internal/models"
)

type entry struct {
	event   *models.DiagnosticEvent
	verdict *models.Verdict
}

// Writer асинхронно пишет события и решения в Store. Реализует
// diagnostics.Sink и monitor.OutcomeSink.
type Writer struct {
	store  *Store
	queue  chan entry
	stop   chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger

	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewWriter создает писателя с очередью bufferSize
func NewWriter(store *Store, bufferSize int, logger *slog.Logger) *Writer {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Writer{
		store:  store,
		queue:  make(chan entry, bufferSize),
		stop:   make(chan struct{}),
		logger: logger,
	}
}

// Start запускает горутину записи
func (w *Writer) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case e := <-w.queue:
				w.write(e)
			case <-w.stop:
				for {
					select {
					case e := <-w.queue:
						w.write(e)
					default:
						return
					}
				}
			}
		}
	}()
}

func (w *Writer) write(e entry) {
	var err error
	switch {
	case e.event != nil:
		err = w.store.Record(*e.event)
	case e.verdict != nil:
		err = w.store.RecordVerdict(*e.verdict)
	}
	if err != nil {
		w.failed.Add(1)
		w.logger.Error("journal write failed", slog.Any("error", err))
	}
}

func (w *Writer) enqueue(e entry) {
	select {
	case w.queue <- e:
	default:
		w.dropped.Add(1)
	}
}

// Record ставит событие в очередь
func (w *Writer) Record(e models.DiagnosticEvent) {
	w.enqueue(entry{event: &e})
}

// FallConfirmed ставит решение в очередь
func (w *Writer) FallConfirmed(v models.Verdict) {
	w.enqueue(entry{verdict: &v})
}

// FallDismissed ставит решение в очередь
func (w *Writer) FallDismissed(v models.Verdict) {
	w.enqueue(entry{verdict: &v})
}

// Dropped число записей, потерянных из-за переполнения
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

// Failed число записей, которые не удалось сохранить
func (w *Writer) Failed() uint64 {
	return w.failed.Load()
}

// Stop дописывает очередь и останавливает горутину
func (w *Writer) Stop() {
	close(w.stop)
	w.wg.Wait()
}
