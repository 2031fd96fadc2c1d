package detector

import (
	"fmt"
	"time"
)

// Thresholds неизменяемая конфигурация детектора
type Thresholds struct {
	FreeFallCeiling    float64       `yaml:"free_fall_ceiling"`    // g, ниже свободное падение
	ImpactFloor        float64       `yaml:"impact_floor"`         // g, выше удар
	GyroFloor          float64       `yaml:"gyro_floor"`           // °/с, минимальное среднее вращение при ударе
	FreeFallToImpact   time.Duration `yaml:"free_fall_to_impact"`  // максимальная задержка от начала падения до удара
	PostImpactDuration time.Duration `yaml:"post_impact_duration"` // длительность наблюдения после удара
	StillnessCeiling   float64       `yaml:"stillness_ceiling"`    // g, ниже неподвижность
	StillnessRatio     float64       `yaml:"stillness_ratio"`      // доля неподвижных отсчетов для подтверждения
	GyroWindow         int           `yaml:"gyro_window"`
	StillnessWindow    int           `yaml:"stillness_window"`
}

// DefaultThresholds возвращает пороги, откалиброванные для носимого устройства
func DefaultThresholds() Thresholds {
	return Thresholds{
		FreeFallCeiling:    0.65,
		ImpactFloor:        3.0,
		GyroFloor:          35.0,
		FreeFallToImpact:   500 * time.Millisecond,
		PostImpactDuration: 3000 * time.Millisecond,
		StillnessCeiling:   1.1,
		StillnessRatio:     0.7,
		GyroWindow:         10,
		StillnessWindow:    20,
	}
}

// Validate проверяет согласованность порогов
func (t Thresholds) Validate() error {
	switch {
	case t.FreeFallCeiling <= 0:
		return fmt.Errorf("free fall ceiling must be positive, got %v", t.FreeFallCeiling)
	case t.ImpactFloor <= t.FreeFallCeiling:
		return fmt.Errorf("impact floor %v must exceed free fall ceiling %v", t.ImpactFloor, t.FreeFallCeiling)
	case t.GyroFloor < 0:
		return fmt.Errorf("gyro floor cannot be negative, got %v", t.GyroFloor)
	case t.FreeFallToImpact <= 0:
		return fmt.Errorf("free fall to impact latency must be positive, got %v", t.FreeFallToImpact)
	case t.PostImpactDuration <= 0:
		return fmt.Errorf("post impact duration must be positive, got %v", t.PostImpactDuration)
	case t.StillnessCeiling <= 0:
		return fmt.Errorf("stillness ceiling must be positive, got %v", t.StillnessCeiling)
	case t.StillnessRatio < 0 || t.StillnessRatio >= 1:
		return fmt.Errorf("stillness ratio must be in [0, 1), got %v", t.StillnessRatio)
	case t.GyroWindow < 1 || t.StillnessWindow < 1:
		return fmt.Errorf("window sizes must be positive, got gyro=%d stillness=%d", t.GyroWindow, t.StillnessWindow)
	}
	return nil
}
