package sensors

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"falldetect-service/internal/models"
)

type submitter struct {
	samples   []models.SensorSample
	malformed []models.SensorKind
	full      bool
}

func (s *submitter) Submit(sample models.SensorSample) bool {
	if s.full {
		return false
	}
	s.samples = append(s.samples, sample)
	return true
}

func (s *submitter) SubmitMalformed(kind models.SensorKind) bool {
	if s.full {
		return false
	}
	s.malformed = append(s.malformed, kind)
	return true
}

type control struct {
	calls []ControlMessage
	err   error
}

func (c *control) Configure(kind models.SensorKind, enabled bool, interval time.Duration) error {
	c.calls = append(c.calls, ControlMessage{Kind: kind, Enabled: enabled, IntervalMs: interval.Milliseconds()})
	return c.err
}

func ptr(v float64) *float64 { return &v }

func TestHubRejectsUnavailableSensor(t *testing.T) {
	h := NewHub(nil, models.Acceleration)

	require.True(t, h.Register(models.Acceleration, models.TierFast))
	require.False(t, h.Register(models.Rotation, models.TierFast))
	require.Equal(t, []Registration{{Kind: models.Acceleration, Tier: models.TierFast, Interval: 20}}, h.Registrations())
}

func TestHubForwardsRegisteredStreamsOnly(t *testing.T) {
	h := NewHub(nil, models.Acceleration, models.Rotation)
	sink := &submitter{}

	require.ErrorIs(t, h.Push(models.SensorSample{Kind: models.Acceleration}), ErrNoSession)

	h.Attach(sink)
	require.ErrorIs(t, h.Push(models.SensorSample{Kind: models.Acceleration}), ErrNotRegistered)

	h.Register(models.Acceleration, models.TierNormal)
	require.NoError(t, h.Push(models.SensorSample{Kind: models.Acceleration, Timestamp: 5}))
	require.ErrorIs(t, h.Push(models.SensorSample{Kind: models.Rotation}), ErrNotRegistered)
	require.Len(t, sink.samples, 1)

	h.Unregister(models.Acceleration)
	require.ErrorIs(t, h.Push(models.SensorSample{Kind: models.Acceleration}), ErrNotRegistered)
	require.Empty(t, h.Registrations())

	h.Register(models.Acceleration, models.TierNormal)
	sink.full = true
	require.ErrorIs(t, h.Push(models.SensorSample{Kind: models.Acceleration}), ErrQueueFull)
}

func TestHubPushPayload(t *testing.T) {
	h := NewHub(nil, models.Acceleration, models.Rotation)
	sink := &submitter{}
	h.Attach(sink)
	h.Register(models.Rotation, models.TierFast)

	err := h.PushPayload(models.SamplePayload{Timestamp: 1, Kind: "gyro", Values: []*float64{ptr(1), ptr(2), ptr(3)}})
	require.NoError(t, err)
	require.Equal(t, [3]float64{1, 2, 3}, sink.samples[0].Values)

	err = h.PushPayload(models.SamplePayload{Kind: "gyro", Values: []*float64{ptr(1), nil, ptr(3)}})
	require.ErrorIs(t, err, models.ErrMalformedPayload)
	require.Equal(t, []models.SensorKind{models.Rotation}, sink.malformed)

	err = h.PushPayload(models.SamplePayload{Kind: "magnetometer", Values: []*float64{ptr(1), ptr(2), ptr(3)}})
	require.Error(t, err)
	require.Len(t, sink.malformed, 1, "unknown streams are not health failures")
}

func TestHubConfiguresTransport(t *testing.T) {
	h := NewHub(nil, models.Acceleration, models.Rotation)
	c := &control{}
	h.SetTransport(c)

	h.Register(models.Acceleration, models.TierFast)
	h.Unregister(models.Acceleration)
	h.Unregister(models.Rotation)

	require.Equal(t, []ControlMessage{
		{Kind: models.Acceleration, Enabled: true, IntervalMs: 20},
		{Kind: models.Acceleration, Enabled: false},
	}, c.calls, "unregistering an idle stream sends nothing")

	c.err = errors.New("broker down")
	require.False(t, h.Register(models.Rotation, models.TierNormal), "the device never learns about the stream")
	require.Empty(t, h.Registrations())
}

func TestMQTTTopics(t *testing.T) {
	tr := NewMQTTTransport(MQTTConfig{TopicPrefix: "falldetect", DeviceID: "watch-1"}, NewHub(nil), nil, nil)
	require.Equal(t, "falldetect/watch-1/accel", tr.Topic(topicAccel))
	require.ErrorIs(t, tr.Configure(models.Acceleration, true, time.Second), ErrNotConnected)
}

func TestMQTTHandleSamples(t *testing.T) {
	h := NewHub(nil, models.Acceleration, models.Rotation)
	sink := &submitter{}
	h.Attach(sink)
	h.Register(models.Acceleration, models.TierFast)

	var battery []models.BatteryReport
	tr := NewMQTTTransport(MQTTConfig{TopicPrefix: "fd", DeviceID: "d"}, h, func(r models.BatteryReport) {
		battery = append(battery, r)
	}, nil)

	// kind in the payload is ignored, the topic decides
	tr.handle("fd/d/accel", []byte(`{"t": 10, "kind": "gyro", "v": [0, 0, 9.8]}`))
	tr.handle("fd/d/accel", []byte(`[{"t": 11, "v": [0, 0, 9.8]}, {"t": 12, "v": [0, 0, 9.8]}]`))
	require.Len(t, sink.samples, 3)
	require.Equal(t, models.Acceleration, sink.samples[0].Kind)

	tr.handle("fd/d/accel", []byte(`{"t": 13, "v": [0, 0]}`))
	tr.handle("fd/d/accel", []byte(`not json`))
	require.Equal(t, []models.SensorKind{models.Acceleration, models.Acceleration}, sink.malformed)

	tr.handle("fd/d/battery", []byte(`{"percentage": 42, "charging": true}`))
	require.Equal(t, []models.BatteryReport{{Percentage: 42, Charging: true}}, battery)

	tr.handle("fd/d/gyro", []byte(`{"t": 14, "v": [1, 1, 1]}`))
	require.Len(t, sink.samples, 3, "gyro stream is not registered")
}
