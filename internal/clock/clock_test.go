package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManualAfterFunc(t *testing.T) {
	c := NewManual(1000)
	var fired []uint64

	c.AfterFunc(3*time.Second, func() { fired = append(fired, c.Now()) })
	c.Advance(2999 * time.Millisecond)
	require.Empty(t, fired)

	c.Advance(time.Millisecond)
	require.Equal(t, []uint64{4000}, fired)
	require.Zero(t, c.Pending())
}

func TestManualEvery(t *testing.T) {
	c := NewManual(0)
	var ticks []uint64

	tm := c.Every(30*time.Second, func() { ticks = append(ticks, c.Now()) })
	c.Advance(95 * time.Second)
	require.Equal(t, []uint64{30000, 60000, 90000}, ticks)
	require.Equal(t, uint64(95000), c.Now())

	require.True(t, tm.Stop())
	c.Advance(time.Minute)
	require.Len(t, ticks, 3)
}

func TestManualStopPreventsFiring(t *testing.T) {
	c := NewManual(0)
	fired := false

	tm := c.AfterFunc(time.Second, func() { fired = true })
	require.True(t, tm.Stop())
	require.False(t, tm.Stop())

	c.Advance(10 * time.Second)
	require.False(t, fired)
}

func TestManualOrderAndNestedScheduling(t *testing.T) {
	c := NewManual(0)
	var order []string

	c.AfterFunc(200*time.Millisecond, func() { order = append(order, "b") })
	c.AfterFunc(100*time.Millisecond, func() {
		order = append(order, "a")
		c.AfterFunc(50*time.Millisecond, func() { order = append(order, "a2") })
	})

	c.Advance(time.Second)
	require.Equal(t, []string{"a", "a2", "b"}, order)
}

func TestManualStopFromCallback(t *testing.T) {
	c := NewManual(0)
	count := 0

	var tm Timer
	tm = c.Every(time.Second, func() {
		count++
		if count == 2 {
			tm.Stop()
		}
	})

	c.Advance(10 * time.Second)
	require.Equal(t, 2, count)
}

// serial runs posted functions on one goroutine, like a session loop.
// Timer goroutines may still post after the test ends, so the queue is
// never closed; stop only releases the loop and any blocked senders.
type serial struct {
	ch   chan func()
	done chan struct{}
}

func newSerial() *serial {
	s := &serial{ch: make(chan func(), 16), done: make(chan struct{})}
	go func() {
		for {
			select {
			case fn := <-s.ch:
				fn()
			case <-s.done:
				return
			}
		}
	}()
	return s
}

func (s *serial) post(fn func()) bool {
	select {
	case s.ch <- fn:
		return true
	case <-s.done:
		return false
	}
}

func (s *serial) stop() {
	close(s.done)
}

func TestLoopAfterFuncDispatchesThroughPost(t *testing.T) {
	s := newSerial()
	defer s.stop()

	l := NewLoop(s.post)
	done := make(chan uint64, 1)

	s.post(func() {
		l.AfterFunc(10*time.Millisecond, func() { done <- l.Now() })
	})

	select {
	case ms := <-done:
		require.GreaterOrEqual(t, ms, uint64(10))
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestLoopStopCancelsQueuedCallback(t *testing.T) {
	s := newSerial()
	defer s.stop()

	l := NewLoop(s.post)
	fired := make(chan struct{}, 1)
	stopped := make(chan struct{})

	s.post(func() {
		tm := l.AfterFunc(5*time.Millisecond, func() { fired <- struct{}{} })
		// hold the loop until the timer has posted its callback
		time.Sleep(30 * time.Millisecond)
		tm.Stop()
		close(stopped)
	})

	<-stopped
	select {
	case <-fired:
		t.Fatal("stopped timer fired")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLoopEvery(t *testing.T) {
	s := newSerial()
	defer s.stop()

	l := NewLoop(s.post)
	ticks := make(chan struct{}, 10)
	var tm Timer

	s.post(func() {
		tm = l.Every(5*time.Millisecond, func() {
			select {
			case ticks <- struct{}{}:
			default:
			}
		})
	})

	for i := 0; i < 3; i++ {
		select {
		case <-ticks:
		case <-time.After(2 * time.Second):
			t.Fatal("periodic timer stalled")
		}
	}

	stopped := make(chan struct{})
	s.post(func() {
		tm.Stop()
		close(stopped)
	})
	<-stopped
}
