package models

import "time"

// Outcome итог проверки после удара
type Outcome string

const (
	// OutcomeConfirmed падение подтверждено
	OutcomeConfirmed Outcome = "confirmed"
	// OutcomeDismissed ложное срабатывание, движение продолжилось
	OutcomeDismissed Outcome = "dismissed"
)

// Verdict результат одного завершенного цикла проверки
type Verdict struct {
	SessionID        string    `json:"session_id"`
	Outcome          Outcome   `json:"outcome"`
	ImpactAt         uint64    `json:"impact_at"`
	StillnessRatio   float64   `json:"stillness_ratio"`
	StillSamples     int       `json:"still_samples"`
	TotalSamples     int       `json:"total_samples"`
	MeanMagnitude    float64   `json:"mean_magnitude"`
	MaxMagnitude     float64   `json:"max_magnitude"`
	InsufficientData bool      `json:"insufficient_data"`
	DecidedAt        time.Time `json:"decided_at"`
}

// DiagnosticKind тип диагностического события
type DiagnosticKind string

const (
	DiagMonitoringStarted     DiagnosticKind = "monitoring_started"
	DiagMonitoringStopped     DiagnosticKind = "monitoring_stopped"
	DiagMonitoringHalted      DiagnosticKind = "monitoring_halted"
	DiagFreeFallStarted       DiagnosticKind = "free_fall_started"
	DiagImpactAccepted        DiagnosticKind = "impact_accepted"
	DiagImpactRejectedGyro    DiagnosticKind = "impact_rejected_gyro"
	DiagImpactTooLate         DiagnosticKind = "impact_too_late"
	DiagFreeFallTimeout       DiagnosticKind = "free_fall_timeout"
	DiagFallConfirmed         DiagnosticKind = "fall_confirmed"
	DiagFallDismissed         DiagnosticKind = "fall_dismissed"
	DiagVerificationCancelled DiagnosticKind = "verification_cancelled"
	DiagSampleMalformed       DiagnosticKind = "sample_malformed"
	DiagRegistrationFailed    DiagnosticKind = "registration_failed"
	DiagRestartScheduled      DiagnosticKind = "restart_scheduled"
	DiagRestartCompleted      DiagnosticKind = "restart_completed"
	DiagRestartExhausted      DiagnosticKind = "restart_exhausted"
	DiagTierChanged           DiagnosticKind = "tier_changed"
)

// DiagnosticEvent структурированное событие для офлайн-настройки порогов
type DiagnosticEvent struct {
	SessionID string         `json:"session_id"`
	Kind      DiagnosticKind `json:"kind"`
	State     string         `json:"state"`
	Value     float64        `json:"value"`
	Timestamp uint64         `json:"timestamp"`
	Detail    map[string]any `json:"detail,omitempty"`
	At        time.Time      `json:"at"`
}

// MonitorStatus снимок состояния сессии мониторинга
type MonitorStatus struct {
	SessionID       string       `json:"session_id"`
	Active          bool         `json:"active"`
	Acquiring       bool         `json:"acquiring"`
	Halted          bool         `json:"halted"`
	State           string       `json:"state"`
	Tier            SamplingTier `json:"tier"`
	GyroPresent     bool         `json:"gyro_present"`
	HealthFailures  uint32       `json:"health_failures"`
	Restarts        uint64       `json:"restarts"`
	SamplesAccepted uint64       `json:"samples_accepted"`
	SamplesRejected uint64       `json:"samples_rejected"`
	Confirmed       uint64       `json:"confirmed"`
	Dismissed       uint64       `json:"dismissed"`
}
