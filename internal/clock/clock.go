// Package clock абстрагирует монотонное время и таймеры, чтобы обратные
// вызовы таймеров выполнялись в контексте сессии, а тесты управляли временем.
package clock

import "time"

type (
	// Clock источник монотонного времени и отложенных вызовов
	Clock interface {
		// Now возвращает монотонные миллисекунды
		Now() uint64
		// AfterFunc однократно вызывает fn через d
		AfterFunc(d time.Duration, fn func()) Timer
		// Every вызывает fn каждые d до остановки
		Every(d time.Duration, fn func()) Timer
	}

	// Timer дескриптор запланированного вызова
	Timer interface {
		// Stop отменяет все будущие вызовы. Возвращает false, если таймер
		// уже сработал (однократный) или был остановлен.
		Stop() bool
	}
)

// Post доставляет функцию в последовательный контекст исполнения.
// Возвращает false, если контекст закрыт.
type Post func(fn func()) bool

// Loop реальное время, обратные вызовы доставляются через Post.
// Stop вызывается только из того же контекста, что исполняет Post.
type Loop struct {
	start time.Time
	post  Post
}

// NewLoop создает часы, доставляющие вызовы через post
func NewLoop(post Post) *Loop {
	return &Loop{start: time.Now(), post: post}
}

// Now возвращает миллисекунды с момента создания часов
func (l *Loop) Now() uint64 {
	return uint64(time.Since(l.start) / time.Millisecond)
}

// AfterFunc планирует однократный вызов
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.post(func() {
			// таймер мог быть остановлен, пока вызов стоял в очереди
			if t.stopped {
				return
			}
			t.stopped = true
			fn()
		})
	})
	return t
}

// Every планирует периодический вызов. Следующий период отсчитывается после
// завершения предыдущего вызова.
func (l *Loop) Every(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	var arm func()
	arm = func() {
		t.timer = time.AfterFunc(d, func() {
			l.post(func() {
				if t.stopped {
					return
				}
				fn()
				if !t.stopped {
					arm()
				}
			})
		})
	}
	arm()
	return t
}

type loopTimer struct {
	timer   *time.Timer
	stopped bool
}

func (t *loopTimer) Stop() bool {
	if t.stopped {
		return false
	}
	t.stopped = true
	t.timer.Stop()
	return true
}
