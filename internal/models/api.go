package models

import (
	"errors"
	"math"
	"time"
)

// ErrMalformedPayload отсчет без трех осей или с пустыми значениями
var ErrMalformedPayload = errors.New("malformed sample payload")

// SamplePayload отсчет в формате устройства (HTTP и MQTT)
type SamplePayload struct {
	Timestamp uint64     `json:"t"`
	Kind      string     `json:"kind"`
	Values    []*float64 `json:"v"`
}

// ToSample проверяет payload и строит SensorSample
func (p SamplePayload) ToSample() (SensorSample, error) {
	kind, err := ParseSensorKind(p.Kind)
	if err != nil {
		return SensorSample{}, err
	}
	if len(p.Values) != 3 {
		return SensorSample{Kind: kind}, ErrMalformedPayload
	}
	s := SensorSample{Timestamp: p.Timestamp, Kind: kind}
	for i, v := range p.Values {
		if v == nil || math.IsNaN(*v) {
			return s, ErrMalformedPayload
		}
		s.Values[i] = *v
	}
	return s, nil
}

// SampleBatch пакет отсчетов для массовой загрузки
type SampleBatch struct {
	Samples []SamplePayload `json:"samples"`
}

// BatchResult итог приема пакета
type BatchResult struct {
	Accepted  int `json:"accepted"`
	Malformed int `json:"malformed"`
	Dropped   int `json:"dropped"`
}

// BatteryReport состояние батареи, присланное устройством
type BatteryReport struct {
	Percentage int  `json:"percentage"`
	Charging   bool `json:"charging"`
}

// HealthStatus представляет статус здоровья сервиса
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Redis     string    `json:"redis"`
	Journal   string    `json:"journal"`
	Uptime    string    `json:"uptime"`
}

// StatsResponse содержит статистику сервиса
type StatsResponse struct {
	TotalConfirmed  int64          `json:"total_confirmed"`
	TotalDismissed  int64          `json:"total_dismissed"`
	SamplesAccepted uint64         `json:"samples_accepted"`
	SamplesRejected uint64         `json:"samples_rejected"`
	SamplesDropped  uint64         `json:"samples_dropped"`
	Restarts        uint64         `json:"restarts"`
	EventsByKind    map[string]int `json:"events_by_kind,omitempty"`
}
