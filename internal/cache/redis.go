// Package cache реализует хранение решений детектора в Redis и публикацию
// их для сервиса оповещения
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"falldetect-service/internal/models"
)

const (
	// VerdictKeyPrefix префикс для ключей решений
	VerdictKeyPrefix = "verdict:"
	// LatestVerdictsKey список последних решений
	LatestVerdictsKey = "verdicts:latest"
	// StatusKey последний снимок состояния сессии
	StatusKey = "status:current"
	// ConfirmedCounterKey счетчик подтвержденных падений
	ConfirmedCounterKey = "falls:confirmed:total"
	// DismissedCounterKey счетчик отклоненных срабатываний
	DismissedCounterKey = "falls:dismissed:total"
	// ChannelConfirmed канал pub/sub подтвержденных падений
	ChannelConfirmed = "fall:confirmed"
	// ChannelDismissed канал pub/sub отклоненных срабатываний
	ChannelDismissed = "fall:dismissed"
	// DefaultTTL время жизни записи по умолчанию
	DefaultTTL = 5 * time.Minute
	// VerdictTTL время жизни решения
	VerdictTTL = 24 * time.Hour
	// LatestLimit длина списка последних решений
	LatestLimit = 1000
)

// RedisCache реализует кэширование в Redis
type RedisCache struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisCache создает новое подключение к Redis
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx := context.Background()

	// Проверяем подключение
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{
		client: client,
		ctx:    ctx,
	}, nil
}

// VerdictKey ключ решения
func VerdictKey(v models.Verdict) string {
	return fmt.Sprintf("%s%s:%d", VerdictKeyPrefix, v.SessionID, v.ImpactAt)
}

// CacheVerdict сохраняет решение, обновляет счетчик и публикует его
// в канал исхода
func (r *RedisCache) CacheVerdict(v models.Verdict) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}

	counter, channel := DismissedCounterKey, ChannelDismissed
	if v.Outcome == models.OutcomeConfirmed {
		counter, channel = ConfirmedCounterKey, ChannelConfirmed
	}

	pipe := r.client.TxPipeline()
	pipe.Set(r.ctx, VerdictKey(v), data, VerdictTTL)
	pipe.LPush(r.ctx, LatestVerdictsKey, data)
	pipe.LTrim(r.ctx, LatestVerdictsKey, 0, LatestLimit-1)
	pipe.Incr(r.ctx, counter)
	pipe.Publish(r.ctx, channel, data)

	if _, err := pipe.Exec(r.ctx); err != nil {
		return fmt.Errorf("failed to cache verdict: %w", err)
	}
	return nil
}

// GetLatestVerdicts возвращает последние N решений, новые первыми
func (r *RedisCache) GetLatestVerdicts(count int64) ([]models.Verdict, error) {
	data, err := r.client.LRange(r.ctx, LatestVerdictsKey, 0, count-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get latest verdicts: %w", err)
	}

	verdicts := make([]models.Verdict, 0, len(data))
	for _, d := range data {
		var v models.Verdict
		if err := json.Unmarshal([]byte(d), &v); err != nil {
			continue
		}
		verdicts = append(verdicts, v)
	}

	return verdicts, nil
}

// CacheStatus сохраняет снимок состояния сессии
func (r *RedisCache) CacheStatus(st models.MonitorStatus) error {
	return r.SetWithTTL(StatusKey, st, DefaultTTL)
}

// GetCounter возвращает значение счетчика
func (r *RedisCache) GetCounter(key string) (int64, error) {
	val, err := r.client.Get(r.ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return val, err
}

// SetWithTTL устанавливает значение с TTL
func (r *RedisCache) SetWithTTL(key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(r.ctx, key, data, ttl).Err()
}

// Ping проверяет соединение с Redis
func (r *RedisCache) Ping() error {
	return r.client.Ping(r.ctx).Err()
}

// Close закрывает соединение
func (r *RedisCache) Close() error {
	return r.client.Close()
}

