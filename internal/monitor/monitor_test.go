package monitor

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"falldetect-service/internal/analytics"
	"falldetect-service/internal/clock"
	"falldetect-service/internal/models"
)

type fakeSensors struct {
	reject     map[models.SensorKind]bool
	registered map[models.SensorKind]models.SamplingTier
	calls      int
}

func newFakeSensors() *fakeSensors {
	return &fakeSensors{
		reject:     map[models.SensorKind]bool{},
		registered: map[models.SensorKind]models.SamplingTier{},
	}
}

func (f *fakeSensors) Register(kind models.SensorKind, tier models.SamplingTier) bool {
	f.calls++
	if f.reject[kind] {
		return false
	}
	f.registered[kind] = tier
	return true
}

func (f *fakeSensors) Unregister(kind models.SensorKind) {
	delete(f.registered, kind)
}

type fakeBattery struct {
	pct      int
	charging bool
}

func (b *fakeBattery) Percentage() int  { return b.pct }
func (b *fakeBattery) IsCharging() bool { return b.charging }

type outcomes struct {
	confirmed []models.Verdict
	dismissed []models.Verdict
}

func (o *outcomes) FallConfirmed(v models.Verdict) { o.confirmed = append(o.confirmed, v) }
func (o *outcomes) FallDismissed(v models.Verdict) { o.dismissed = append(o.dismissed, v) }

type diagRecorder struct {
	events []models.DiagnosticEvent
}

func (d *diagRecorder) Record(e models.DiagnosticEvent) { d.events = append(d.events, e) }

func (d *diagRecorder) count(kind models.DiagnosticKind) int {
	n := 0
	for _, e := range d.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (d *diagRecorder) values(kind models.DiagnosticKind) []float64 {
	var out []float64
	for _, e := range d.events {
		if e.Kind == kind {
			out = append(out, e.Value)
		}
	}
	return out
}

type harness struct {
	mon      *Monitor
	clk      *clock.Manual
	sensors  *fakeSensors
	battery  *fakeBattery
	outcomes *outcomes
	diags    *diagRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clk:      clock.NewManual(0),
		sensors:  newFakeSensors(),
		battery:  &fakeBattery{pct: 80},
		outcomes: &outcomes{},
		diags:    &diagRecorder{},
	}
	mon, err := New(DefaultConfig(), Deps{
		Sensors:     h.sensors,
		Clock:       h.clk,
		Battery:     h.battery,
		Outcomes:    h.outcomes,
		Diagnostics: h.diags,
	})
	require.NoError(t, err)
	h.mon = mon
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.mon.Start())
}

func (h *harness) accel(ts uint64, g float64) {
	h.mon.HandleSample(models.SensorSample{
		Timestamp: ts,
		Kind:      models.Acceleration,
		Values:    [3]float64{0, 0, g * analytics.StandardGravity},
	})
}

func (h *harness) gyro(ts uint64, dps float64) {
	h.mon.HandleSample(models.SensorSample{
		Timestamp: ts,
		Kind:      models.Rotation,
		Values:    [3]float64{0, 0, dps * math.Pi / 180},
	})
}

func (h *harness) spin(ts uint64, dps float64) {
	for i := range 10 {
		h.gyro(ts+uint64(i), dps)
	}
}

// impact feeds a free fall followed by an impact 200ms later
func (h *harness) impact(ts uint64) {
	h.accel(ts, 0.3)
	h.accel(ts+200, 3.5)
}

func (h *harness) settle(ts uint64, g float64, n int) {
	for i := range n {
		h.accel(ts+uint64(i)*20, g)
	}
}

func TestConfirmedFall(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.spin(900, 50)
	h.impact(1000)
	require.Equal(t, "verifying_impact", h.mon.Status().State)

	h.settle(1300, 1.0, 20)

	h.clk.Advance(2999 * time.Millisecond)
	require.Empty(t, h.outcomes.confirmed, "verdict before post-impact window ends")

	h.clk.Advance(time.Millisecond)
	require.Len(t, h.outcomes.confirmed, 1)
	require.Empty(t, h.outcomes.dismissed)

	v := h.outcomes.confirmed[0]
	require.Equal(t, h.mon.ID(), v.SessionID)
	require.Equal(t, uint64(1200), v.ImpactAt)
	require.Equal(t, 20, v.TotalSamples)
	require.InDelta(t, 1.0, v.StillnessRatio, 1e-9)

	st := h.mon.Status()
	require.Equal(t, "idle", st.State)
	require.Equal(t, uint64(1), st.Confirmed)
	require.Equal(t, 1, h.diags.count(models.DiagFallConfirmed))
}

func TestDismissedWhenMoving(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.spin(900, 50)
	h.impact(1000)
	h.settle(1300, 2.0, 20)
	h.clk.Advance(3 * time.Second)

	require.Empty(t, h.outcomes.confirmed)
	require.Len(t, h.outcomes.dismissed, 1)
	require.Zero(t, h.outcomes.dismissed[0].StillSamples)
	require.Equal(t, uint64(1), h.mon.Status().Dismissed)
}

func TestEmptyVerificationConfirms(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.spin(900, 50)
	h.impact(1000)
	h.clk.Advance(3 * time.Second)

	require.Len(t, h.outcomes.confirmed, 1)
	require.True(t, h.outcomes.confirmed[0].InsufficientData)
}

func TestStopDuringVerificationDropsVerdict(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.spin(900, 50)
	h.impact(1000)
	h.settle(1300, 1.0, 5)

	h.mon.Stop()
	h.clk.Advance(10 * time.Second)

	require.Empty(t, h.outcomes.confirmed)
	require.Empty(t, h.outcomes.dismissed)
	require.Equal(t, 1, h.diags.count(models.DiagVerificationCancelled))
	require.Empty(t, h.sensors.registered)
	require.Zero(t, h.clk.Pending())

	st := h.mon.Status()
	require.False(t, st.Active)
	require.Equal(t, "idle", st.State)
}

func TestSamplesIgnoredWhenInactive(t *testing.T) {
	h := newHarness(t)

	h.impact(1000)
	require.Zero(t, h.mon.Status().SamplesAccepted)

	h.start(t)
	h.mon.Stop()
	h.impact(2000)
	h.mon.HandleMalformed(models.Acceleration)

	st := h.mon.Status()
	require.Zero(t, st.SamplesAccepted)
	require.Zero(t, st.SamplesRejected)
	require.Equal(t, "idle", st.State)
}

func TestStartTwice(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	require.ErrorIs(t, h.mon.Start(), ErrAlreadyActive)
}

func TestAccelRegistrationFailureHalts(t *testing.T) {
	h := newHarness(t)
	h.sensors.reject[models.Acceleration] = true

	err := h.mon.Start()
	require.ErrorIs(t, err, ErrAccelRegistration)

	st := h.mon.Status()
	require.True(t, st.Halted)
	require.False(t, st.Active)
	require.Equal(t, 1, h.diags.count(models.DiagMonitoringHalted))
	require.Zero(t, h.clk.Pending(), "halted session keeps no timers")

	require.ErrorIs(t, h.mon.Start(), ErrHalted)
}

func TestMissingGyroDegrades(t *testing.T) {
	h := newHarness(t)
	h.sensors.reject[models.Rotation] = true
	h.start(t)

	st := h.mon.Status()
	require.True(t, st.Active)
	require.False(t, st.GyroPresent)
	require.Equal(t, 1, h.diags.count(models.DiagRegistrationFailed))

	// without a gyroscope the impact is accepted without a rotation check
	h.impact(1000)
	require.Equal(t, "verifying_impact", h.mon.Status().State)
}

func TestSlowRotationRejectsImpact(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.spin(900, 10)
	h.impact(1000)

	require.Equal(t, "idle", h.mon.Status().State)
	require.Equal(t, 1, h.diags.count(models.DiagImpactRejectedGyro))
	require.Equal(t, 1, h.clk.Pending(), "only the battery check stays scheduled")
}

func TestMalformedSamplesTriggerRestart(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	for range 4 {
		h.mon.HandleMalformed(models.Acceleration)
	}
	require.Len(t, h.sensors.registered, 2)
	require.Zero(t, h.diags.count(models.DiagRestartScheduled))

	h.mon.HandleSample(models.SensorSample{
		Timestamp: 100,
		Kind:      models.Acceleration,
		Values:    [3]float64{math.NaN(), 0, 0},
	})
	require.Empty(t, h.sensors.registered, "listeners released during restart")
	require.Equal(t, 1, h.diags.count(models.DiagRestartScheduled))

	st := h.mon.Status()
	require.True(t, st.Active)
	require.False(t, st.Acquiring)
	require.Equal(t, uint64(5), st.SamplesRejected)

	h.clk.Advance(time.Second)
	require.Len(t, h.sensors.registered, 2)
	require.Equal(t, 1, h.diags.count(models.DiagRestartCompleted))

	st = h.mon.Status()
	require.True(t, st.Acquiring)
	require.Zero(t, st.HealthFailures)
	require.Equal(t, uint64(1), st.Restarts)
}

func TestSamplesDroppedWhileRestartPending(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	for range 5 {
		h.mon.HandleMalformed(models.Acceleration)
	}
	require.False(t, h.mon.Status().Acquiring)

	h.accel(100, 0.3)
	h.mon.HandleMalformed(models.Rotation)

	st := h.mon.Status()
	require.Equal(t, "idle", st.State, "released sensors do not drive the detector")
	require.Equal(t, uint64(5), st.SamplesRejected)
	require.Zero(t, st.SamplesAccepted)

	h.clk.Advance(time.Second)
	h.accel(1100, 0.3)
	require.Equal(t, "free_falling", h.mon.Status().State)
}

func TestRestartAfterStopStartsFresh(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	first := h.mon.ID()

	for range 5 {
		h.mon.HandleMalformed(models.Acceleration)
	}
	require.Equal(t, 1, h.diags.count(models.DiagRestartScheduled))

	h.mon.Stop()
	h.start(t)

	st := h.mon.Status()
	require.NotEqual(t, first, st.SessionID)
	require.True(t, st.Acquiring)
	require.Zero(t, st.HealthFailures)
	require.Zero(t, st.Restarts)
	require.Zero(t, st.SamplesRejected)

	for range 5 {
		h.mon.HandleMalformed(models.Acceleration)
	}
	require.Equal(t, []float64{1000, 1000}, h.diags.values(models.DiagRestartScheduled))

	h.clk.Advance(time.Second)
	require.Len(t, h.sensors.registered, 2)
	require.Equal(t, 1, h.diags.count(models.DiagRestartCompleted))
	require.Equal(t, uint64(1), h.mon.Status().Restarts)
}

func TestValidSampleResetsFailureCount(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	for range 4 {
		h.mon.HandleMalformed(models.Rotation)
	}
	h.accel(10, 1.0)
	for range 4 {
		h.mon.HandleMalformed(models.Rotation)
	}

	require.Zero(t, h.diags.count(models.DiagRestartScheduled))
	require.Equal(t, uint32(4), h.mon.Status().HealthFailures)
}

func TestRestartKeepsVerification(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.spin(900, 50)
	h.impact(1000)
	for range 5 {
		h.mon.HandleMalformed(models.Acceleration)
	}
	require.Equal(t, "verifying_impact", h.mon.Status().State)

	h.clk.Advance(3 * time.Second)
	require.Len(t, h.outcomes.confirmed, 1)
	require.Equal(t, 1, h.diags.count(models.DiagRestartCompleted))
}

func TestRestartBackoffEscalates(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	backoff := time.Second
	for range 5 {
		for range 5 {
			h.mon.HandleMalformed(models.Acceleration)
		}
		h.clk.Advance(backoff)
		backoff *= 2
	}

	require.Equal(t, []float64{1000, 2000, 4000, 8000, 16000}, h.diags.values(models.DiagRestartScheduled))
	require.Equal(t, 1, h.diags.count(models.DiagRestartExhausted))
	require.Equal(t, 5, h.diags.count(models.DiagRestartCompleted))
	require.True(t, h.mon.Status().Active, "detection keeps retrying")
}

func TestBatteryDropSwitchesTier(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	require.Equal(t, models.TierFast, h.sensors.registered[models.Acceleration])
	require.Equal(t, models.TierFast, h.mon.Status().Tier)

	h.clk.Advance(30 * time.Second)
	require.Zero(t, h.diags.count(models.DiagTierChanged), "unchanged battery keeps the tier")

	h.battery.pct = 15
	h.clk.Advance(30 * time.Second)

	require.Equal(t, models.TierNormal, h.sensors.registered[models.Acceleration])
	require.Equal(t, models.TierNormal, h.sensors.registered[models.Rotation])
	require.Equal(t, models.TierNormal, h.mon.Status().Tier)
	require.Equal(t, 1, h.diags.count(models.DiagTierChanged))
}

func TestChargingSelectsFastWhenEnabled(t *testing.T) {
	h := newHarness(t)
	h.battery.pct = 10
	h.battery.charging = true

	cfg := DefaultConfig()
	cfg.Sampling.FastWhenCharging = true
	mon, err := New(cfg, Deps{Sensors: h.sensors, Clock: h.clk, Battery: h.battery})
	require.NoError(t, err)
	require.NoError(t, mon.Start())

	require.Equal(t, models.TierFast, h.sensors.registered[models.Acceleration])
}

func TestNewRejectsInvalidThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Thresholds.StillnessRatio = 1.5

	_, err := New(cfg, Deps{Sensors: newFakeSensors(), Clock: clock.NewManual(0), Battery: &fakeBattery{}})
	require.Error(t, err)
}
