package analytics

import (
	"errors"
	"fmt"
	"math"

	"falldetect-service/internal/models"
)

// StandardGravity ускорение свободного падения, м/с²
const StandardGravity = 9.80665

// ErrMalformedSample отсчет с NaN, бесконечностью или неизвестным типом
var ErrMalformedSample = errors.New("malformed sensor sample")

// Normalize переводит трехосевой отсчет в скалярный модуль:
// ускорение в g, угловую скорость в градусы в секунду.
func Normalize(s models.SensorSample) (models.ScalarReading, error) {
	for i, v := range s.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return models.ScalarReading{}, fmt.Errorf("%w: axis %d is %v", ErrMalformedSample, i, v)
		}
	}

	x, y, z := s.Values[0], s.Values[1], s.Values[2]
	mag := math.Sqrt(x*x + y*y + z*z)

	switch s.Kind {
	case models.Acceleration:
		mag /= StandardGravity
	case models.Rotation:
		mag = mag * 180 / math.Pi
	default:
		return models.ScalarReading{}, fmt.Errorf("%w: kind %q", ErrMalformedSample, s.Kind)
	}

	return models.ScalarReading{Value: mag, Timestamp: s.Timestamp}, nil
}
