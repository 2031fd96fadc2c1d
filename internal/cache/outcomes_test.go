package cache

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"falldetect-service/internal/models"
)

type memStore struct {
	mu       sync.Mutex
	verdicts []models.Verdict
	err      error
	block    chan struct{}
}

func (m *memStore) CacheVerdict(v models.Verdict) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.verdicts = append(m.verdicts, v)
	return nil
}

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.verdicts)
}

func TestOutcomeSinkWritesVerdicts(t *testing.T) {
	store := &memStore{}
	s := NewOutcomeSink(store, 10, nil)
	s.Start()

	s.FallConfirmed(models.Verdict{SessionID: "a", Outcome: models.OutcomeConfirmed})
	s.FallDismissed(models.Verdict{SessionID: "a", Outcome: models.OutcomeDismissed})

	require.Eventually(t, func() bool { return store.len() == 2 }, time.Second, 5*time.Millisecond)
	s.Stop()

	require.Equal(t, models.OutcomeConfirmed, store.verdicts[0].Outcome)
	require.Equal(t, models.OutcomeDismissed, store.verdicts[1].Outcome)
}

func TestOutcomeSinkNeverBlocks(t *testing.T) {
	store := &memStore{block: make(chan struct{})}
	s := NewOutcomeSink(store, 1, nil)
	s.Start()

	done := make(chan struct{})
	go func() {
		for range 5 {
			s.FallConfirmed(models.Verdict{Outcome: models.OutcomeConfirmed})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a stalled store")
	}
	require.NotZero(t, s.Dropped())

	close(store.block)
	s.Stop()
}

func TestOutcomeSinkDrainsOnStop(t *testing.T) {
	store := &memStore{}
	s := NewOutcomeSink(store, 10, nil)

	for range 3 {
		s.FallDismissed(models.Verdict{Outcome: models.OutcomeDismissed})
	}
	s.Start()
	s.Stop()

	require.Equal(t, 3, store.len())
}

func TestOutcomeSinkCountsFailures(t *testing.T) {
	store := &memStore{err: errors.New("redis down")}
	s := NewOutcomeSink(store, 10, nil)
	s.Start()

	s.FallConfirmed(models.Verdict{Outcome: models.OutcomeConfirmed})
	s.Stop()

	require.Equal(t, uint64(1), s.Failed())
}

func TestVerdictKey(t *testing.T) {
	v := models.Verdict{SessionID: "s-1", ImpactAt: 1200}
	require.Equal(t, "verdict:s-1:1200", VerdictKey(v))
}
