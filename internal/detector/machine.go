// Package detector реализует конечный автомат обнаружения падения:
// свободное падение, удар, проверка неподвижности после удара.
package detector

import (
	"time"

	"falldetect-service/internal/analytics"
	"falldetect-service/internal/models"
)

// Machine конечный автомат детектора. Не потокобезопасен: все вызовы
// выполняются из одного контекста сессии.
type Machine struct {
	th          Thresholds
	state       State
	gyro        *analytics.RollingWindow
	gyroPresent bool
}

// New создает автомат в состоянии Idle. Гироскоп по умолчанию отсутствует.
func New(th Thresholds) *Machine {
	return &Machine{
		th:    th,
		state: Idle{},
		gyro:  analytics.NewRollingWindow(th.GyroWindow),
	}
}

// Thresholds возвращает пороги автомата
func (m *Machine) Thresholds() Thresholds {
	return m.th
}

// State возвращает текущее состояние
func (m *Machine) State() State {
	return m.state
}

// SetGyroPresent включает или отключает проверку вращения при ударе
func (m *Machine) SetGyroPresent(present bool) {
	m.gyroPresent = present
}

// GyroPresent сообщает, участвует ли гироскоп в подтверждении удара
func (m *Machine) GyroPresent() bool {
	return m.gyroPresent
}

// GyroMean возвращает среднее по окну гироскопа
func (m *Machine) GyroMean() float64 {
	return m.gyro.Mean()
}

// OnRotation накапливает модуль угловой скорости независимо от состояния
func (m *Machine) OnRotation(r models.ScalarReading) {
	m.gyro.Add(r)
}

// OnAcceleration обрабатывает модуль ускорения. При TransitionImpactAccepted
// вызывающий должен запланировать Expire через PostImpactDuration.
func (m *Machine) OnAcceleration(r models.ScalarReading) Transition {
	switch s := m.state.(type) {
	case Idle:
		if r.Value < m.th.FreeFallCeiling {
			m.state = FreeFalling{Since: r.Timestamp}
			return TransitionFreeFallStarted
		}
		return TransitionNone

	case FreeFalling:
		return m.onFreeFalling(s, r)

	case VerifyingImpact:
		s.Stillness.Add(r)
		return TransitionStillnessSample
	}
	return TransitionNone
}

func (m *Machine) onFreeFalling(s FreeFalling, r models.ScalarReading) Transition {
	elapsed := elapsed(r.Timestamp, s.Since)

	switch {
	case r.Value <= m.th.FreeFallCeiling:
		return TransitionNone

	case r.Value > m.th.ImpactFloor && elapsed <= m.th.FreeFallToImpact:
		if !m.gyroOK() {
			m.state = Idle{}
			return TransitionImpactRejectedGyro
		}
		m.state = VerifyingImpact{
			StartedAt: r.Timestamp,
			Stillness: analytics.NewRollingWindow(m.th.StillnessWindow),
		}
		return TransitionImpactAccepted

	case r.Value > m.th.ImpactFloor:
		m.state = Idle{}
		return TransitionImpactTooLate

	case elapsed > m.th.FreeFallToImpact:
		m.state = Idle{}
		return TransitionFreeFallTimeout
	}
	return TransitionNone
}

func (m *Machine) gyroOK() bool {
	if !m.gyroPresent {
		return true
	}
	return m.gyro.Mean() > m.th.GyroFloor
}

// Expire завершает проверку после удара. Возвращает false, если автомат не
// находится в VerifyingImpact. Пустое окно трактуется как подтверждение.
func (m *Machine) Expire() (models.Verdict, bool) {
	s, ok := m.state.(VerifyingImpact)
	if !ok {
		return models.Verdict{}, false
	}

	v := models.Verdict{
		ImpactAt:     s.StartedAt,
		TotalSamples: s.Stillness.Len(),
	}

	if v.TotalSamples == 0 {
		v.Outcome = models.OutcomeConfirmed
		v.InsufficientData = true
	} else {
		v.StillSamples = s.Stillness.CountBelow(m.th.StillnessCeiling)
		v.StillnessRatio = float64(v.StillSamples) / float64(v.TotalSamples)
		v.MeanMagnitude = s.Stillness.Mean()
		v.MaxMagnitude = s.Stillness.Max()
		if v.StillnessRatio > m.th.StillnessRatio {
			v.Outcome = models.OutcomeConfirmed
		} else {
			v.Outcome = models.OutcomeDismissed
		}
	}

	s.Stillness.Reset()
	m.state = Idle{}
	return v, true
}

// Cancel сбрасывает автомат в Idle без вынесения решения.
// Возвращает true, если была прервана проверка после удара.
func (m *Machine) Cancel() bool {
	_, verifying := m.state.(VerifyingImpact)
	m.state = Idle{}
	return verifying
}

func elapsed(now, since uint64) time.Duration {
	if now < since {
		return 0
	}
	return time.Duration(now-since) * time.Millisecond
}
