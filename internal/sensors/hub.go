// Package sensors принимает сенсорные отсчеты от устройства (HTTP, MQTT) и
// реализует регистрацию потоков для сессии мониторинга.
package sensors

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"falldetect-service/internal/metrics"
	"falldetect-service/internal/models"
)

var (
	// ErrNotRegistered поток не зарегистрирован, отсчет отброшен
	ErrNotRegistered = errors.New("sensor stream not registered")
	// ErrQueueFull очередь сессии переполнена, отсчет отброшен
	ErrQueueFull = errors.New("session queue full")
	// ErrNoSession приемник отсчетов не подключен
	ErrNoSession = errors.New("no session attached")
)

// Submitter последовательный приемник отсчетов
type Submitter interface {
	Submit(s models.SensorSample) bool
	SubmitMalformed(kind models.SensorKind) bool
}

// Transport канал управления устройством
type Transport interface {
	Configure(kind models.SensorKind, enabled bool, interval time.Duration) error
}

// Registration активная регистрация потока
type Registration struct {
	Kind     models.SensorKind   `json:"kind"`
	Tier     models.SamplingTier `json:"tier"`
	Interval int64               `json:"interval_ms"`
}

// Hub источник сенсорных потоков одного устройства
type Hub struct {
	mu         sync.RWMutex
	available  map[models.SensorKind]bool
	registered map[models.SensorKind]models.SamplingTier
	sink       Submitter
	transport  Transport
	logger     *slog.Logger
}

// NewHub создает хаб для устройства с перечисленными сенсорами
func NewHub(logger *slog.Logger, available ...models.SensorKind) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	h := &Hub{
		available:  make(map[models.SensorKind]bool, len(available)),
		registered: make(map[models.SensorKind]models.SamplingTier),
		logger:     logger,
	}
	for _, k := range available {
		h.available[k] = true
	}
	return h
}

// Attach подключает приемник отсчетов
func (h *Hub) Attach(sink Submitter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sink = sink
}

// SetTransport подключает канал управления устройством
func (h *Hub) SetTransport(t Transport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transport = t
}

// Register включает поток с профилем опроса. Возвращает false, если сенсора
// на устройстве нет или команду управления не удалось отправить.
func (h *Hub) Register(kind models.SensorKind, tier models.SamplingTier) bool {
	h.mu.Lock()
	if !h.available[kind] {
		h.mu.Unlock()
		h.logger.Warn("sensor not available", slog.String("kind", string(kind)))
		return false
	}
	t := h.transport
	h.mu.Unlock()

	if t != nil {
		if err := t.Configure(kind, true, tier.Interval()); err != nil {
			h.logger.Error("failed to configure sensor", slog.String("kind", string(kind)), slog.Any("error", err))
			return false
		}
	}

	h.mu.Lock()
	h.registered[kind] = tier
	h.mu.Unlock()
	return true
}

// Unregister выключает поток
func (h *Hub) Unregister(kind models.SensorKind) {
	h.mu.Lock()
	_, ok := h.registered[kind]
	delete(h.registered, kind)
	t := h.transport
	h.mu.Unlock()

	if ok && t != nil {
		if err := t.Configure(kind, false, 0); err != nil {
			h.logger.Error("failed to configure sensor", slog.String("kind", string(kind)), slog.Any("error", err))
		}
	}
}

// Registrations возвращает активные регистрации
func (h *Hub) Registrations() []Registration {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Registration, 0, len(h.registered))
	for _, k := range []models.SensorKind{models.Acceleration, models.Rotation} {
		if tier, ok := h.registered[k]; ok {
			out = append(out, Registration{Kind: k, Tier: tier, Interval: tier.Interval().Milliseconds()})
		}
	}
	return out
}

func (h *Hub) target(kind models.SensorKind) (Submitter, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.sink == nil {
		return nil, ErrNoSession
	}
	if _, ok := h.registered[kind]; !ok {
		return nil, ErrNotRegistered
	}
	return h.sink, nil
}

// Push передает отсчет зарегистрированного потока в сессию
func (h *Hub) Push(s models.SensorSample) error {
	sink, err := h.target(s.Kind)
	if err != nil {
		metrics.SamplesDropped.WithLabelValues(reason(err)).Inc()
		return err
	}
	if !sink.Submit(s) {
		metrics.SamplesDropped.WithLabelValues(reason(ErrQueueFull)).Inc()
		return ErrQueueFull
	}
	metrics.SamplesReceived.WithLabelValues(string(s.Kind)).Inc()
	return nil
}

// PushMalformed сообщает сессии о поврежденном обратном вызове потока
func (h *Hub) PushMalformed(kind models.SensorKind) error {
	sink, err := h.target(kind)
	if err != nil {
		metrics.SamplesDropped.WithLabelValues(reason(err)).Inc()
		return err
	}
	if !sink.SubmitMalformed(kind) {
		metrics.SamplesDropped.WithLabelValues(reason(ErrQueueFull)).Inc()
		return ErrQueueFull
	}
	return nil
}

// PushPayload разбирает отсчет в формате устройства. Отсчет с известным
// типом, но поврежденными значениями передается как сбой потока.
func (h *Hub) PushPayload(p models.SamplePayload) error {
	s, err := p.ToSample()
	if err == nil {
		return h.Push(s)
	}
	if !s.Kind.Valid() {
		return err
	}
	if perr := h.PushMalformed(s.Kind); perr != nil {
		return errors.Join(err, perr)
	}
	return err
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrNotRegistered):
		return "unregistered"
	case errors.Is(err, ErrQueueFull):
		return "queue_full"
	}
	return "no_session"
}
