// Package models содержит структуры данных для сенсорных отсчетов,
// решений детектора падений и диагностических событий
package models

import (
	"fmt"
	"time"
)

// SensorKind тип сенсорного потока
type SensorKind string

const (
	// Acceleration акселерометр, значения в м/с²
	Acceleration SensorKind = "acceleration"
	// Rotation гироскоп, значения в рад/с
	Rotation SensorKind = "rotation"
)

// Valid проверяет, что тип потока известен
func (k SensorKind) Valid() bool {
	return k == Acceleration || k == Rotation
}

// ParseSensorKind разбирает тип потока, допускает короткие имена устройств
func ParseSensorKind(s string) (SensorKind, error) {
	switch s {
	case "acceleration", "accel", "accelerometer":
		return Acceleration, nil
	case "rotation", "gyro", "gyroscope":
		return Rotation, nil
	}
	return "", fmt.Errorf("unknown sensor kind %q", s)
}

// SensorSample один отсчет сенсора. Не изменяется после создания.
type SensorSample struct {
	Timestamp uint64 // монотонные миллисекунды устройства
	Values    [3]float64
	Kind      SensorKind
}

// ScalarReading скалярная величина отсчета (g или °/с)
type ScalarReading struct {
	Value     float64 `json:"value"`
	Timestamp uint64  `json:"timestamp"`
}

// SamplingTier профиль частоты опроса сенсоров
type SamplingTier int

const (
	// TierNormal энергосберегающий режим
	TierNormal SamplingTier = iota
	// TierFast быстрый опрос
	TierFast
)

// Interval период доставки отсчетов для профиля
func (t SamplingTier) Interval() time.Duration {
	if t == TierFast {
		return 20 * time.Millisecond
	}
	return 200 * time.Millisecond
}

func (t SamplingTier) String() string {
	if t == TierFast {
		return "fast"
	}
	return "normal"
}

// MarshalText сериализует профиль как строку
func (t SamplingTier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText разбирает профиль из строки
func (t *SamplingTier) UnmarshalText(b []byte) error {
	switch string(b) {
	case "fast":
		*t = TierFast
	case "normal":
		*t = TierNormal
	default:
		return fmt.Errorf("unknown sampling tier %q", b)
	}
	return nil
}
