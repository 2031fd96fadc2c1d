// Package main запускает сервис обнаружения падений для носимого устройства.
// Сервис реализует:
// - прием отсчетов акселерометра и гироскопа по HTTP и MQTT
// - автомат обнаружения: свободное падение, удар, неподвижность после удара
// - контроль сбоев сенсоров с перезапуском получения данных
// - адаптивную частоту опроса по заряду батареи
// - хранение решений в Redis и журнал диагностики в SQLite
// - экспорт метрик в Prometheus
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"falldetect-service/internal/battery"
	"falldetect-service/internal/cache"
	"falldetect-service/internal/config"
	"falldetect-service/internal/diagnostics"
	"falldetect-service/internal/handlers"
	"falldetect-service/internal/journal"
	"falldetect-service/internal/metrics"
	"falldetect-service/internal/models"
	"falldetect-service/internal/monitor"
	"falldetect-service/internal/sensors"
	"falldetect-service/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := config.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting fall detection service",
		slog.String("go", runtime.Version()),
		slog.Int("cpus", runtime.NumCPU()),
		slog.String("device", cfg.DeviceID))

	// Инициализируем Redis кэш
	redisCache := connectRedis(cfg, logger)

	// Журнал диагностики
	var (
		store  *journal.Store
		writer *journal.Writer
	)
	if cfg.JournalPath != "" {
		store, err = journal.NewStore(cfg.JournalPath)
		if err != nil {
			logger.Warn("journal unavailable, running without it", slog.Any("error", err))
			store = nil
		} else {
			writer = journal.NewWriter(store, cfg.BufferSize, logger)
			writer.Start()
		}
	}

	// Источник заряда батареи
	var (
		batterySource monitor.BatterySource
		reported      *battery.Reported
	)
	switch cfg.BatterySource {
	case config.BatterySysfs:
		batterySource = battery.NewSysfs(cfg.BatterySysfsPath, logger)
	default:
		reported = battery.NewReported(100)
		batterySource = reported
	}

	// Сенсоры устройства
	available := []models.SensorKind{models.Acceleration}
	if cfg.DeviceHasGyro {
		available = append(available, models.Rotation)
	}
	hub := sensors.NewHub(logger, available...)

	var transport *sensors.MQTTTransport
	if cfg.MQTTBroker != "" {
		var onBattery func(models.BatteryReport)
		if reported != nil {
			onBattery = reported.Update
		}
		transport = sensors.NewMQTTTransport(sensors.MQTTConfig{
			Broker:      cfg.MQTTBroker,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
			DeviceID:    cfg.DeviceID,
			QoS:         1,
		}, hub, onBattery, logger)
		if err := transport.Connect(); err != nil {
			logger.Warn("mqtt unavailable, accepting samples over HTTP only", slog.Any("error", err))
			transport = nil
		} else {
			hub.SetTransport(transport)
			logger.Info("connected to mqtt", slog.String("broker", cfg.MQTTBroker))
		}
	}

	// Приемники решений и диагностики
	sinks := diagnostics.Multi{diagnostics.NewLogSink(logger), metrics.Sink{}}
	outcomes := outcomeFanout{}
	var redisOutcomes *cache.OutcomeSink
	if redisCache != nil {
		redisOutcomes = cache.NewOutcomeSink(redisCache, 100, logger)
		redisOutcomes.Start()
		outcomes = append(outcomes, redisOutcomes)
	}
	if writer != nil {
		sinks = append(sinks, writer)
		outcomes = append(outcomes, writer)
	}

	// Сессия мониторинга
	sess := session.New(cfg.Monitor, session.Deps{
		Sensors:     hub,
		Battery:     batterySource,
		Outcomes:    outcomes,
		Diagnostics: sinks,
		Logger:      logger,
	}, cfg.BufferSize)
	hub.Attach(sess)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx)

	if cfg.Autostart {
		if err := sess.Start(ctx); err != nil {
			logger.Error("autostart failed", slog.Any("error", err))
		}
	}

	// Создаем обработчики
	deps := handlers.Deps{
		Session: sess,
		Samples: hub,
		Logger:  logger,
	}
	if reported != nil {
		deps.Battery = reported
	}
	if redisCache != nil {
		deps.Cache = redisCache
	}
	if store != nil {
		deps.Journal = store
	}
	handler := handlers.NewHandler(deps)

	// Настраиваем маршруты
	router := mux.NewRouter()
	handler.Register(router)

	// Prometheus метрики
	router.Handle("/prometheus", promhttp.Handler())

	// pprof для профилирования
	router.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	// Middleware для логирования и метрик
	router.Use(handlers.LoggingMiddleware(logger))
	router.Use(handlers.MetricsMiddleware)

	// Создаем HTTP сервер с настройками таймаутов
	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// Запускаем горутину для обновления метрик
	go updateMetricsLoop(ctx, sess, redisCache, redisOutcomes, writer, logger)

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Запускаем сервер в горутине
	go func() {
		logger.Info("server listening", slog.String("addr", cfg.ServerAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Ожидаем сигнал завершения
	<-stop
	logger.Info("shutting down server")

	// Контекст с таймаутом для завершения
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Завершаем HTTP сервер
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	// Останавливаем сессию; незавершенная проверка отбрасывается
	cancel()
	<-sess.Done()

	if transport != nil {
		transport.Close()
	}
	if redisOutcomes != nil {
		redisOutcomes.Stop()
	}
	if writer != nil {
		writer.Stop()
	}
	if store != nil {
		store.Close()
	}
	if redisCache != nil {
		redisCache.Close()
	}

	logger.Info("server stopped")
}

// connectRedis подключается к Redis с повторами; nil означает работу без кэша
func connectRedis(cfg config.Config, logger *slog.Logger) *cache.RedisCache {
	var (
		redisCache *cache.RedisCache
		err        error
	)
	for i := 0; i < 5; i++ {
		redisCache, err = cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err == nil {
			logger.Info("connected to redis", slog.String("addr", cfg.RedisAddr))
			return redisCache
		}
		logger.Warn("redis connection attempt failed", slog.Int("attempt", i+1), slog.Any("error", err))
		if i < 4 {
			time.Sleep(time.Duration(i+1) * time.Second)
		}
	}
	logger.Warn("running without redis cache", slog.Any("error", err))
	return nil
}

// updateMetricsLoop периодически обновляет метрики Prometheus и снимок
// состояния в Redis
func updateMetricsLoop(
	ctx context.Context,
	sess *session.Session,
	redisCache *cache.RedisCache,
	redisOutcomes *cache.OutcomeSink,
	writer *journal.Writer,
	logger *slog.Logger,
) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := sess.Status()
			metrics.UpdateSessionMetrics(st, sess.QueueDepth())
			metrics.UpdateSinkMetrics("session", sess.Dropped(), 0)
			if redisOutcomes != nil {
				metrics.UpdateSinkMetrics("redis", redisOutcomes.Dropped(), redisOutcomes.Failed())
			}
			if writer != nil {
				metrics.UpdateSinkMetrics("journal", writer.Dropped(), writer.Failed())
			}
			metrics.ActiveGoroutines.Set(float64(runtime.NumGoroutine()))
			if redisCache != nil {
				if err := redisCache.CacheStatus(st); err != nil {
					logger.Debug("failed to cache status", slog.Any("error", err))
				}
			}
		}
	}
}

// outcomeFanout передает решение всем приемникам
type outcomeFanout []monitor.OutcomeSink

func (f outcomeFanout) FallConfirmed(v models.Verdict) {
	for _, s := range f {
		s.FallConfirmed(v)
	}
}

func (f outcomeFanout) FallDismissed(v models.Verdict) {
	for _, s := range f {
		s.FallDismissed(v)
	}
}
