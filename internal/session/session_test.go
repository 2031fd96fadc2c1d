package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"falldetect-service/internal/analytics"
	"falldetect-service/internal/models"
	"falldetect-service/internal/monitor"
)

type sensors struct {
	mu         sync.Mutex
	registered map[models.SensorKind]bool
}

func (s *sensors) Register(kind models.SensorKind, _ models.SamplingTier) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered[kind] = true
	return true
}

func (s *sensors) Unregister(kind models.SensorKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.registered, kind)
}

func (s *sensors) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.registered)
}

type battery struct{}

func (battery) Percentage() int  { return 90 }
func (battery) IsCharging() bool { return false }

type outcomes struct {
	mu        sync.Mutex
	confirmed int
	dismissed int
}

func (o *outcomes) FallConfirmed(models.Verdict) {
	o.mu.Lock()
	o.confirmed++
	o.mu.Unlock()
}

func (o *outcomes) FallDismissed(models.Verdict) {
	o.mu.Lock()
	o.dismissed++
	o.mu.Unlock()
}

func (o *outcomes) confirmedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.confirmed
}

func newTestSession(t *testing.T, buffer int) (*Session, *sensors, *outcomes) {
	t.Helper()
	cfg := monitor.DefaultConfig()
	cfg.Thresholds.PostImpactDuration = 50 * time.Millisecond

	sn := &sensors{registered: map[models.SensorKind]bool{}}
	out := &outcomes{}
	s := New(cfg, Deps{Sensors: sn, Battery: battery{}, Outcomes: out}, buffer)
	return s, sn, out
}

func run(t *testing.T, s *Session) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-s.Done()
	})
	return cancel
}

func accel(ts uint64, g float64) models.SensorSample {
	return models.SensorSample{
		Timestamp: ts,
		Kind:      models.Acceleration,
		Values:    [3]float64{g * analytics.StandardGravity, 0, 0},
	}
}

func TestSessionDetectsFall(t *testing.T) {
	s, sn, out := newTestSession(t, 100)
	run(t, s)

	require.NoError(t, s.Start(context.Background()))
	require.Equal(t, 2, sn.count())

	for i := range 10 {
		require.True(t, s.Submit(models.SensorSample{
			Timestamp: uint64(i),
			Kind:      models.Rotation,
			Values:    [3]float64{1.0, 0, 0},
		}))
	}
	require.True(t, s.Submit(accel(100, 0.2)))
	require.True(t, s.Submit(accel(300, 4.0)))
	require.True(t, s.Submit(accel(320, 1.0)))

	require.Eventually(t, func() bool {
		return out.confirmedCount() == 1
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		st := s.Status()
		return st.Confirmed == 1 && st.State == "idle"
	}, time.Second, 5*time.Millisecond)
}

func TestSessionStartStop(t *testing.T) {
	s, sn, _ := newTestSession(t, 10)
	run(t, s)
	ctx := context.Background()

	require.NoError(t, s.Stop(ctx), "stopping an idle session is a no-op")

	require.NoError(t, s.Start(ctx))
	require.ErrorIs(t, s.Start(ctx), monitor.ErrAlreadyActive)
	first := s.Status().SessionID

	require.NoError(t, s.Stop(ctx))
	require.Zero(t, sn.count())
	require.False(t, s.Status().Active)

	require.NoError(t, s.Start(ctx))
	require.NotEqual(t, first, s.Status().SessionID, "restart creates a fresh session")
}

func TestSubmitDropsWhenQueueFull(t *testing.T) {
	s, _, _ := newTestSession(t, 1)

	require.True(t, s.Submit(accel(1, 1.0)))
	require.False(t, s.Submit(accel(2, 1.0)))
	require.False(t, s.SubmitMalformed(models.Acceleration))
	require.Equal(t, uint64(2), s.Dropped())
	require.Equal(t, 1, s.QueueDepth())
}

func TestClosedSession(t *testing.T) {
	s, sn, _ := newTestSession(t, 10)
	cancel := run(t, s)

	require.NoError(t, s.Start(context.Background()))
	cancel()
	<-s.Done()

	require.Zero(t, sn.count(), "shutdown stops monitoring")
	require.False(t, s.Submit(accel(1, 1.0)))
	require.ErrorIs(t, s.Start(context.Background()), ErrClosed)
}

func TestStartHonoursContext(t *testing.T) {
	s, _, _ := newTestSession(t, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Start(ctx), context.DeadlineExceeded)
}
