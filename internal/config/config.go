// Package config загружает конфигурацию сервиса из переменных окружения и
// необязательного YAML-файла порогов детектора
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"falldetect-service/internal/detector"
	"falldetect-service/internal/monitor"
)

// Источники заряда батареи
const (
	BatteryReported = "reported"
	BatterySysfs    = "sysfs"
)

// Config содержит конфигурацию сервиса
type Config struct {
	ServerAddr    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	BufferSize    int
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration

	DeviceID         string
	DeviceHasGyro    bool
	BatterySource    string
	BatterySysfsPath string

	MQTTBroker      string
	MQTTClientID    string
	MQTTTopicPrefix string

	JournalPath    string
	LogLevel       string
	Env            string
	Autostart      bool
	ThresholdsFile string

	Monitor monitor.Config
}

// Load загружает конфигурацию из окружения
func Load() (Config, error) {
	cfg := Config{
		ServerAddr:    getEnv("SERVER_ADDR", ":8080"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		BufferSize:    getEnvInt("BUFFER_SIZE", 10000),
		ReadTimeout:   getEnvDuration("READ_TIMEOUT", 15*time.Second),
		WriteTimeout:  getEnvDuration("WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:   getEnvDuration("IDLE_TIMEOUT", 60*time.Second),

		DeviceID:         getEnv("DEVICE_ID", "wearable-1"),
		DeviceHasGyro:    getEnvBool("DEVICE_HAS_GYRO", true),
		BatterySource:    getEnv("BATTERY_SOURCE", BatteryReported),
		BatterySysfsPath: getEnv("BATTERY_SYSFS_PATH", ""),

		MQTTBroker:      getEnv("MQTT_BROKER", ""),
		MQTTClientID:    getEnv("MQTT_CLIENT_ID", ""),
		MQTTTopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "falldetect"),

		JournalPath:    getEnv("JOURNAL_PATH", "falldetect.db"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Env:            getEnv("ENV", "development"),
		Autostart:      getEnvBool("AUTOSTART", false),
		ThresholdsFile: getEnv("THRESHOLDS_FILE", ""),

		Monitor: monitor.DefaultConfig(),
	}

	s := &cfg.Monitor.Sampling
	s.FastWhenCharging = getEnvBool("FAST_WHEN_CHARGING", s.FastWhenCharging)
	s.LowBatteryPercent = getEnvInt("LOW_BATTERY_PERCENT", s.LowBatteryPercent)
	s.Period = getEnvDuration("BATTERY_CHECK_PERIOD", s.Period)

	h := &cfg.Monitor.Health
	h.MaxFailures = uint32(max(getEnvInt("SENSOR_MAX_FAILURES", int(h.MaxFailures)), 0))
	h.Backoff = getEnvDuration("RESTART_BACKOFF", h.Backoff)
	h.MaxBackoff = getEnvDuration("RESTART_MAX_BACKOFF", h.MaxBackoff)

	if cfg.ThresholdsFile != "" {
		th, err := LoadThresholds(cfg.ThresholdsFile)
		if err != nil {
			return cfg, err
		}
		cfg.Monitor.Thresholds = th
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate проверяет конфигурацию
func (c Config) Validate() error {
	switch c.BatterySource {
	case BatteryReported, BatterySysfs:
	default:
		return fmt.Errorf("unknown BATTERY_SOURCE %q", c.BatterySource)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("BUFFER_SIZE must be positive, got %d", c.BufferSize)
	}
	if l := c.Monitor.Sampling.LowBatteryPercent; l < 0 || l > 100 {
		return fmt.Errorf("LOW_BATTERY_PERCENT must be within 0..100, got %d", l)
	}
	h := c.Monitor.Health
	if h.MaxFailures == 0 {
		return errors.New("SENSOR_MAX_FAILURES must be positive")
	}
	if h.Backoff <= 0 {
		return fmt.Errorf("RESTART_BACKOFF must be positive, got %s", h.Backoff)
	}
	if h.MaxBackoff < h.Backoff {
		return fmt.Errorf("RESTART_MAX_BACKOFF %s is below RESTART_BACKOFF %s", h.MaxBackoff, h.Backoff)
	}
	return c.Monitor.Thresholds.Validate()
}

// LoadThresholds читает пороги из YAML. Отсутствующие поля берутся из
// detector.DefaultThresholds.
func LoadThresholds(path string) (detector.Thresholds, error) {
	f, err := os.Open(path)
	if err != nil {
		return detector.Thresholds{}, fmt.Errorf("open thresholds: %w", err)
	}
	defer f.Close()
	return DecodeThresholds(f)
}

// DecodeThresholds разбирает YAML порогов поверх значений по умолчанию
func DecodeThresholds(r io.Reader) (detector.Thresholds, error) {
	th := detector.DefaultThresholds()

	data, err := io.ReadAll(r)
	if err != nil {
		return th, fmt.Errorf("read thresholds: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&th); err != nil && !errors.Is(err, io.EOF) {
		return th, fmt.Errorf("decode thresholds: %w", err)
	}
	if err := th.Validate(); err != nil {
		return th, fmt.Errorf("invalid thresholds: %w", err)
	}
	return th, nil
}

// getEnv получает переменную окружения с значением по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt получает целочисленную переменную окружения
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvBool получает логическую переменную окружения
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration получает длительность ("30s", "1m")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
