// Package handlers содержит HTTP обработчики для API
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"falldetect-service/internal/cache"
	"falldetect-service/internal/metrics"
	"falldetect-service/internal/models"
	"falldetect-service/internal/monitor"
	"falldetect-service/internal/sensors"
)

// maxBodyBytes ограничение размера тела запроса
const maxBodyBytes = 4 << 20

// Session управление сессией мониторинга
type Session interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() models.MonitorStatus
	Dropped() uint64
}

// SampleSource прием отсчетов устройства
type SampleSource interface {
	PushPayload(p models.SamplePayload) error
	Registrations() []sensors.Registration
}

// BatteryReceiver принимает отчеты о батарее
type BatteryReceiver interface {
	Update(report models.BatteryReport)
}

// VerdictCache кэш решений
type VerdictCache interface {
	GetLatestVerdicts(count int64) ([]models.Verdict, error)
	GetCounter(key string) (int64, error)
	Ping() error
}

// Journal журнал диагностики
type Journal interface {
	Recent(limit int, kind models.DiagnosticKind) ([]models.DiagnosticEvent, error)
	RecentVerdicts(limit int) ([]models.Verdict, error)
	CountByKind() (map[string]int, error)
	Ping() error
}

// Deps зависимости обработчиков. Battery, Cache и Journal необязательны.
type Deps struct {
	Session Session
	Samples SampleSource
	Battery BatteryReceiver
	Cache   VerdictCache
	Journal Journal
	Logger  *slog.Logger
}

// Handler содержит зависимости для HTTP обработчиков
type Handler struct {
	Deps
	startTime time.Time
}

// NewHandler создает новый обработчик
func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{Deps: deps, startTime: time.Now()}
}

// Register регистрирует маршруты API
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/samples", h.SampleHandler).Methods(http.MethodPost)
	router.HandleFunc("/samples/batch", h.BatchSamplesHandler).Methods(http.MethodPost)
	router.HandleFunc("/battery", h.BatteryHandler).Methods(http.MethodPost)
	router.HandleFunc("/monitoring/start", h.StartHandler).Methods(http.MethodPost)
	router.HandleFunc("/monitoring/stop", h.StopHandler).Methods(http.MethodPost)
	router.HandleFunc("/status", h.StatusHandler).Methods(http.MethodGet)
	router.HandleFunc("/verdicts/latest", h.LatestVerdictsHandler).Methods(http.MethodGet)
	router.HandleFunc("/diagnostics/recent", h.RecentDiagnosticsHandler).Methods(http.MethodGet)
	router.HandleFunc("/health", h.HealthHandler).Methods(http.MethodGet)
	router.HandleFunc("/stats", h.StatsHandler).Methods(http.MethodGet)
}

// SampleHandler обрабатывает POST /samples - прием одного отсчета
func (h *Handler) SampleHandler(w http.ResponseWriter, r *http.Request) {
	var p models.SamplePayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&p); err != nil {
		h.respondError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	err := h.Samples.PushPayload(p)
	switch {
	case err == nil:
		h.respondJSON(w, map[string]string{"status": "accepted"}, http.StatusAccepted)
	case errors.Is(err, models.ErrMalformedPayload):
		h.respondError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, sensors.ErrNotRegistered), errors.Is(err, sensors.ErrNoSession):
		h.respondError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, sensors.ErrQueueFull):
		h.respondError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		h.respondError(w, err.Error(), http.StatusBadRequest)
	}
}

// BatchSamplesHandler обрабатывает POST /samples/batch - массовая загрузка отсчетов
func (h *Handler) BatchSamplesHandler(w http.ResponseWriter, r *http.Request) {
	var batch models.SampleBatch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&batch); err != nil {
		h.respondError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	var result models.BatchResult
	for _, p := range batch.Samples {
		err := h.Samples.PushPayload(p)
		switch {
		case err == nil:
			result.Accepted++
		case errors.Is(err, sensors.ErrNotRegistered), errors.Is(err, sensors.ErrNoSession),
			errors.Is(err, sensors.ErrQueueFull):
			result.Dropped++
		default:
			result.Malformed++
		}
	}

	h.respondJSON(w, result, http.StatusOK)
}

// BatteryHandler обрабатывает POST /battery - отчет о заряде батареи
func (h *Handler) BatteryHandler(w http.ResponseWriter, r *http.Request) {
	if h.Battery == nil {
		h.respondError(w, "Battery state is read locally", http.StatusConflict)
		return
	}

	var report models.BatteryReport
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&report); err != nil {
		h.respondError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if report.Percentage < 0 || report.Percentage > 100 {
		h.respondError(w, "percentage must be within 0..100", http.StatusBadRequest)
		return
	}

	h.Battery.Update(report)
	h.respondJSON(w, report, http.StatusOK)
}

// StartHandler обрабатывает POST /monitoring/start
func (h *Handler) StartHandler(w http.ResponseWriter, r *http.Request) {
	err := h.Session.Start(r.Context())
	switch {
	case err == nil:
		h.respondJSON(w, h.Session.Status(), http.StatusOK)
	case errors.Is(err, monitor.ErrAlreadyActive):
		h.respondJSON(w, h.Session.Status(), http.StatusOK)
	case errors.Is(err, monitor.ErrAccelRegistration):
		h.respondError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		h.Logger.Error("failed to start monitoring", slog.Any("error", err))
		h.respondError(w, err.Error(), http.StatusInternalServerError)
	}
}

// StopHandler обрабатывает POST /monitoring/stop
func (h *Handler) StopHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.Session.Stop(r.Context()); err != nil {
		h.respondError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.respondJSON(w, h.Session.Status(), http.StatusOK)
}

// StatusHandler обрабатывает GET /status. Устройство опрашивает его, чтобы
// узнать активные потоки и профиль опроса.
func (h *Handler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"monitor":       h.Session.Status(),
		"registrations": h.Samples.Registrations(),
	}
	h.respondJSON(w, response, http.StatusOK)
}

// LatestVerdictsHandler возвращает последние решения из кэша или журнала
func (h *Handler) LatestVerdictsHandler(w http.ResponseWriter, r *http.Request) {
	count := queryInt(r, "count", 50, 1000)

	var (
		verdicts []models.Verdict
		err      error
	)
	switch {
	case h.Cache != nil:
		verdicts, err = h.Cache.GetLatestVerdicts(int64(count))
		if err == nil {
			metrics.CacheHits.Inc()
			break
		}
		metrics.CacheMisses.Inc()
		if h.Journal == nil {
			break
		}
		fallthrough
	case h.Journal != nil:
		verdicts, err = h.Journal.RecentVerdicts(count)
	default:
		h.respondError(w, "Verdict storage not available", http.StatusServiceUnavailable)
		return
	}

	if err != nil {
		h.respondError(w, "Failed to get verdicts: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if verdicts == nil {
		verdicts = []models.Verdict{}
	}
	h.respondJSON(w, verdicts, http.StatusOK)
}

// RecentDiagnosticsHandler возвращает последние диагностические события
func (h *Handler) RecentDiagnosticsHandler(w http.ResponseWriter, r *http.Request) {
	if h.Journal == nil {
		h.respondError(w, "Journal not available", http.StatusServiceUnavailable)
		return
	}

	limit := queryInt(r, "limit", 100, 1000)
	kind := models.DiagnosticKind(r.URL.Query().Get("kind"))

	events, err := h.Journal.Recent(limit, kind)
	if err != nil {
		h.respondError(w, "Failed to get diagnostics: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []models.DiagnosticEvent{}
	}
	h.respondJSON(w, events, http.StatusOK)
}

// HealthHandler обрабатывает GET /health - проверка здоровья
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	redisStatus := "disconnected"
	if h.Cache != nil && h.Cache.Ping() == nil {
		redisStatus = "connected"
	}
	journalStatus := "disabled"
	if h.Journal != nil {
		journalStatus = "ok"
		if err := h.Journal.Ping(); err != nil {
			journalStatus = "error"
		}
	}

	status := models.HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Redis:     redisStatus,
		Journal:   journalStatus,
		Uptime:    time.Since(h.startTime).String(),
	}
	if h.Session.Status().Halted {
		status.Status = "degraded"
	}

	h.respondJSON(w, status, http.StatusOK)
}

// StatsHandler обрабатывает GET /stats - статистика сервиса
func (h *Handler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	// Обновляем метрику горутин
	metrics.ActiveGoroutines.Set(float64(runtime.NumGoroutine()))

	st := h.Session.Status()
	response := models.StatsResponse{
		TotalConfirmed:  int64(st.Confirmed),
		TotalDismissed:  int64(st.Dismissed),
		SamplesAccepted: st.SamplesAccepted,
		SamplesRejected: st.SamplesRejected,
		SamplesDropped:  h.Session.Dropped(),
		Restarts:        st.Restarts,
	}

	if h.Cache != nil {
		if n, err := h.Cache.GetCounter(cache.ConfirmedCounterKey); err == nil {
			response.TotalConfirmed = n
		}
		if n, err := h.Cache.GetCounter(cache.DismissedCounterKey); err == nil {
			response.TotalDismissed = n
		}
	}
	if h.Journal != nil {
		if counts, err := h.Journal.CountByKind(); err == nil {
			response.EventsByKind = counts
		}
	}

	h.respondJSON(w, response, http.StatusOK)
}

func queryInt(r *http.Request, key string, def, limit int) int {
	if s := r.URL.Query().Get(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= limit {
			return n
		}
	}
	return def
}

// respondJSON отправляет JSON ответ
func (h *Handler) respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.Logger.Warn("failed to write response", slog.Any("error", err))
	}
}

// respondError отправляет ошибку в JSON формате
func (h *Handler) respondError(w http.ResponseWriter, message string, status int) {
	h.respondJSON(w, map[string]string{"error": message}, status)
}
