// Package metrics реализует экспорт метрик в Prometheus
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"falldetect-service/internal/models"
)

// Prometheus метрики
var (
	// RequestsTotal общее количество запросов
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "falldetect_requests_total",
			Help: "Total number of requests processed",
		},
		[]string{"endpoint", "method", "status"},
	)

	// RequestDuration длительность запросов
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "falldetect_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"endpoint", "method"},
	)

	// SamplesReceived принятые отсчеты по типу сенсора
	SamplesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "falldetect_samples_received_total",
			Help: "Total number of sensor samples queued for detection",
		},
		[]string{"kind"},
	)

	// SamplesDropped потерянные отсчеты по причине
	SamplesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "falldetect_samples_dropped_total",
			Help: "Total number of sensor samples dropped before detection",
		},
		[]string{"reason"},
	)

	// SamplesMalformed поврежденные отсчеты по типу сенсора
	SamplesMalformed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "falldetect_samples_malformed_total",
			Help: "Total number of empty or malformed sensor callbacks",
		},
		[]string{"kind"},
	)

	// DetectorEvents диагностические события детектора
	DetectorEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "falldetect_detector_events_total",
			Help: "Detector diagnostic events by kind",
		},
		[]string{"kind"},
	)

	// Verdicts решения по итогам проверки после удара
	Verdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "falldetect_verdicts_total",
			Help: "Post-impact verdicts by outcome",
		},
		[]string{"outcome"},
	)

	// Restarts перезапуски получения данных
	Restarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "falldetect_sensor_restarts_total",
			Help: "Total number of sensor acquisition restarts",
		},
	)

	// RestartsExhausted серии перезапусков без восстановления
	RestartsExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "falldetect_sensor_restarts_exhausted_total",
			Help: "Restart streaks that reached the exhaustion threshold",
		},
	)

	// MonitoringActive 1, если мониторинг запущен
	MonitoringActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "falldetect_monitoring_active",
			Help: "Whether fall monitoring is active",
		},
	)

	// SamplingTier активный профиль опроса (1 fast, 0 normal)
	SamplingTier = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "falldetect_sampling_tier",
			Help: "Active sampling tier (1 = fast, 0 = normal)",
		},
	)

	// BatteryPercent последний известный заряд батареи
	BatteryPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "falldetect_battery_percent",
			Help: "Last known battery percentage",
		},
	)

	// QueueDepth события в очереди сессии
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "falldetect_session_queue_depth",
			Help: "Events waiting in the session queue",
		},
	)

	// SinkDropped решения и события, отброшенные приемником из-за полной очереди
	SinkDropped = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "falldetect_sink_dropped",
			Help: "Items dropped by a sink because its queue was full",
		},
		[]string{"sink"},
	)

	// SinkFailed решения, которые приемник не смог сохранить
	SinkFailed = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "falldetect_sink_failed",
			Help: "Items a sink failed to store",
		},
		[]string{"sink"},
	)

	// StillnessRatio доля неподвижных отсчетов после удара
	StillnessRatio = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "falldetect_stillness_ratio",
			Help:    "Fraction of still post-impact samples",
			Buckets: []float64{.1, .2, .3, .4, .5, .6, .7, .8, .9, 1},
		},
	)

	// ImpactLatency время от начала свободного падения до удара
	ImpactLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "falldetect_impact_latency_seconds",
			Help:    "Time from free-fall onset to accepted impact",
			Buckets: []float64{.05, .1, .15, .2, .25, .3, .4, .5},
		},
	)

	// CacheHits попадания в кэш
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "falldetect_cache_hits_total",
			Help: "Total number of cache hits",
		},
	)

	// CacheMisses промахи кэша
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "falldetect_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// ActiveGoroutines количество активных горутин
	ActiveGoroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "falldetect_active_goroutines",
			Help: "Number of active goroutines",
		},
	)
)

// UpdateSessionMetrics обновляет метрики по снимку сессии
func UpdateSessionMetrics(st models.MonitorStatus, queueDepth int) {
	MonitoringActive.Set(boolGauge(st.Active))
	SamplingTier.Set(tierGauge(st.Tier))
	QueueDepth.Set(float64(queueDepth))
}

// UpdateSinkMetrics обновляет счетчики потерь приемника
func UpdateSinkMetrics(sink string, dropped, failed uint64) {
	SinkDropped.WithLabelValues(sink).Set(float64(dropped))
	SinkFailed.WithLabelValues(sink).Set(float64(failed))
}

// Sink переводит диагностические события детектора в метрики
type Sink struct{}

// Record обновляет счетчики по событию
func (Sink) Record(e models.DiagnosticEvent) {
	DetectorEvents.WithLabelValues(string(e.Kind)).Inc()

	switch e.Kind {
	case models.DiagFallConfirmed:
		Verdicts.WithLabelValues(string(models.OutcomeConfirmed)).Inc()
		StillnessRatio.Observe(e.Value)
	case models.DiagFallDismissed:
		Verdicts.WithLabelValues(string(models.OutcomeDismissed)).Inc()
		StillnessRatio.Observe(e.Value)
	case models.DiagImpactAccepted:
		if ms, ok := e.Detail["latency_ms"].(uint64); ok {
			ImpactLatency.Observe(float64(ms) / 1000)
		}
	case models.DiagSampleMalformed:
		if kind, ok := e.Detail["kind"].(string); ok {
			SamplesMalformed.WithLabelValues(kind).Inc()
		}
	case models.DiagRestartScheduled:
		Restarts.Inc()
	case models.DiagRestartExhausted:
		RestartsExhausted.Inc()
	case models.DiagMonitoringStarted:
		MonitoringActive.Set(1)
		if tier, ok := e.Detail["tier"].(string); ok {
			SamplingTier.Set(tierGauge(tierOf(tier)))
		}
	case models.DiagTierChanged:
		if tier, ok := e.Detail["to"].(string); ok {
			SamplingTier.Set(tierGauge(tierOf(tier)))
		}
	case models.DiagMonitoringStopped, models.DiagMonitoringHalted:
		MonitoringActive.Set(0)
	}
}

func tierOf(s string) models.SamplingTier {
	if s == models.TierFast.String() {
		return models.TierFast
	}
	return models.TierNormal
}

func tierGauge(t models.SamplingTier) float64 {
	if t == models.TierFast {
		return 1
	}
	return 0
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
