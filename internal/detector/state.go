package detector

import "falldetect-service/internal/analytics"

// State текущее состояние детектора. Реализации: Idle, FreeFalling,
// VerifyingImpact; других вариантов нет.
type State interface {
	Name() string
	state()
}

// Idle ожидание начала свободного падения
type Idle struct{}

// FreeFalling свободное падение с момента Since (первый вход, не обновляется)
type FreeFalling struct {
	Since uint64
}

// VerifyingImpact наблюдение за неподвижностью после удара
type VerifyingImpact struct {
	StartedAt uint64
	Stillness *analytics.RollingWindow
}

func (Idle) Name() string            { return "idle" }
func (FreeFalling) Name() string     { return "free_falling" }
func (VerifyingImpact) Name() string { return "verifying_impact" }

func (Idle) state()            {}
func (FreeFalling) state()     {}
func (VerifyingImpact) state() {}

// Transition описывает, что произошло при обработке отсчета ускорения
type Transition int

const (
	TransitionNone Transition = iota
	TransitionFreeFallStarted
	TransitionImpactAccepted
	TransitionImpactRejectedGyro
	TransitionImpactTooLate
	TransitionFreeFallTimeout
	TransitionStillnessSample
)

var transitionNames = map[Transition]string{
	TransitionNone:               "none",
	TransitionFreeFallStarted:    "free_fall_started",
	TransitionImpactAccepted:     "impact_accepted",
	TransitionImpactRejectedGyro: "impact_rejected_gyro",
	TransitionImpactTooLate:      "impact_too_late",
	TransitionFreeFallTimeout:    "free_fall_timeout",
	TransitionStillnessSample:    "stillness_sample",
}

func (t Transition) String() string {
	if s, ok := transitionNames[t]; ok {
		return s
	}
	return "unknown"
}
