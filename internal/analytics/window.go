// Package analytics реализует нормализацию сенсорных отсчетов и скользящие
// окна для усреднения показаний гироскопа и проверки неподвижности после удара
package analytics

import "falldetect-service/internal/models"

const (
	// GyroWindowSize размер окна модуля угловой скорости
	GyroWindowSize = 10
	// StillnessWindowSize размер окна отсчетов после удара
	StillnessWindowSize = 20
)

// RollingWindow кольцевой буфер последних ScalarReading фиксированной емкости.
// При переполнении вытесняется самый старый отсчет.
type RollingWindow struct {
	values []models.ScalarReading
	size   int
	index  int
	count  int
	sum    float64
}

// NewRollingWindow создает новое окно заданного размера
func NewRollingWindow(size int) *RollingWindow {
	if size < 1 {
		size = 1
	}
	return &RollingWindow{
		values: make([]models.ScalarReading, size),
		size:   size,
	}
}

// Add добавляет новое значение в окно
func (w *RollingWindow) Add(r models.ScalarReading) {
	if w.count >= w.size {
		// Удаляем старое значение из суммы
		w.sum -= w.values[w.index].Value
	} else {
		w.count++
	}

	w.values[w.index] = r
	w.sum += r.Value

	w.index = (w.index + 1) % w.size
}

// Mean возвращает среднее значение, 0 для пустого окна
func (w *RollingWindow) Mean() float64 {
	if w.count == 0 {
		return 0
	}
	return w.sum / float64(w.count)
}

// Max возвращает максимальное значение в окне
func (w *RollingWindow) Max() float64 {
	var m float64
	for i, r := range w.Readings() {
		if i == 0 || r.Value > m {
			m = r.Value
		}
	}
	return m
}

// CountBelow возвращает число отсчетов строго меньше порога
func (w *RollingWindow) CountBelow(limit float64) int {
	n := 0
	for i := 0; i < w.count; i++ {
		if w.values[i].Value < limit {
			n++
		}
	}
	return n
}

// Len возвращает количество элементов в окне
func (w *RollingWindow) Len() int {
	return w.count
}

// Cap возвращает емкость окна
func (w *RollingWindow) Cap() int {
	return w.size
}

// Readings возвращает содержимое окна от старых к новым
func (w *RollingWindow) Readings() []models.ScalarReading {
	out := make([]models.ScalarReading, w.count)
	if w.count < w.size {
		copy(out, w.values[:w.count])
		return out
	}
	n := copy(out, w.values[w.index:])
	copy(out[n:], w.values[:w.index])
	return out
}

// Reset очищает окно
func (w *RollingWindow) Reset() {
	w.index = 0
	w.count = 0
	w.sum = 0
}
