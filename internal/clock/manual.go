package clock

import (
	"sort"
	"sync"
	"time"
)

// Manual часы с ручным управлением временем для воспроизведения записей и
// тестов. Сработавшие таймеры вызываются синхронно внутри Advance.
type Manual struct {
	mu     sync.Mutex
	now    uint64
	seq    uint64
	timers []*manualTimer
}

type manualTimer struct {
	clock  *Manual
	due    uint64
	period uint64
	seq    uint64
	fn     func()
	done   bool
}

// NewManual создает часы, показывающие startMs
func NewManual(startMs uint64) *Manual {
	return &Manual{now: startMs}
}

// Now возвращает текущее время часов
func (m *Manual) Now() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc планирует однократный вызов
func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	return m.schedule(d, 0, fn)
}

// Every планирует периодический вызов
func (m *Manual) Every(d time.Duration, fn func()) Timer {
	return m.schedule(d, toMillis(d), fn)
}

func (m *Manual) schedule(d time.Duration, period uint64, fn func()) *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	t := &manualTimer{
		clock:  m,
		due:    m.now + toMillis(d),
		period: period,
		seq:    m.seq,
		fn:     fn,
	}
	m.timers = append(m.timers, t)
	return t
}

// Advance сдвигает время на d, вызывая сработавшие таймеры по порядку
func (m *Manual) Advance(d time.Duration) {
	m.AdvanceTo(m.Now() + toMillis(d))
}

// AdvanceTo сдвигает время до target. Время назад не идет.
func (m *Manual) AdvanceTo(target uint64) {
	for {
		m.mu.Lock()
		next := m.nextDue(target)
		if next == nil {
			if target > m.now {
				m.now = target
			}
			m.mu.Unlock()
			return
		}
		if next.due > m.now {
			m.now = next.due
		}
		if next.period > 0 {
			next.due += next.period
		} else {
			next.done = true
			m.remove(next)
		}
		fn := next.fn
		m.mu.Unlock()

		fn()
	}
}

// Pending возвращает число активных таймеров
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *Manual) nextDue(target uint64) *manualTimer {
	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].due == m.timers[j].due {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].due < m.timers[j].due
	})
	if len(m.timers) == 0 || m.timers[0].due > target {
		return nil
	}
	return m.timers[0]
}

func (m *Manual) remove(t *manualTimer) {
	for i, x := range m.timers {
		if x == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return
		}
	}
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	t.clock.remove(t)
	return true
}

func toMillis(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d / time.Millisecond)
}
