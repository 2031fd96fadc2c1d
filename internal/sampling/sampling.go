// Package sampling выбирает профиль частоты опроса сенсоров по состоянию
// батареи: при низком заряде детектор замедляется, но не отключается.
package sampling

import (
	"time"

	"falldetect-service/internal/models"
)

// Battery источник состояния батареи
type Battery interface {
	Percentage() int
	IsCharging() bool
}

// Config параметры контроллера
type Config struct {
	// Period интервал проверки батареи
	Period time.Duration
	// LowBatteryPercent заряд, при котором и ниже включается энергосбережение
	LowBatteryPercent int
	// FastWhenCharging включает быстрый профиль при зарядке независимо от уровня
	FastWhenCharging bool
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		Period:            30 * time.Second,
		LowBatteryPercent: 20,
	}
}

// Controller адаптивный контроллер частоты опроса. Не потокобезопасен.
type Controller struct {
	cfg       Config
	battery   Battery
	active    models.SamplingTier
	hasActive bool
}

// New создает контроллер
func New(cfg Config, battery Battery) *Controller {
	if cfg.Period <= 0 {
		cfg.Period = 30 * time.Second
	}
	return &Controller{cfg: cfg, battery: battery}
}

// Period возвращает интервал проверки
func (c *Controller) Period() time.Duration {
	return c.cfg.Period
}

// Select выбирает профиль по текущему состоянию батареи
func (c *Controller) Select() models.SamplingTier {
	if c.cfg.FastWhenCharging && c.battery.IsCharging() {
		return models.TierFast
	}
	pct := clamp(c.battery.Percentage(), 0, 100)
	if pct > c.cfg.LowBatteryPercent {
		return models.TierFast
	}
	return models.TierNormal
}

// Evaluate выбирает профиль и сообщает, отличается ли он от активного
func (c *Controller) Evaluate() (models.SamplingTier, bool) {
	tier := c.Select()
	return tier, !c.hasActive || tier != c.active
}

// Commit фиксирует профиль, с которым сенсоры зарегистрированы
func (c *Controller) Commit(tier models.SamplingTier) {
	c.active = tier
	c.hasActive = true
}

// Active возвращает активный профиль
func (c *Controller) Active() models.SamplingTier {
	return c.active
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
