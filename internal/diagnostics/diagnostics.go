// Package diagnostics описывает приемник структурированных событий детектора
// и его простые реализации.
package diagnostics

import (
	"context"
	"log/slog"

	"falldetect-service/internal/models"
)

// Sink принимает диагностические события. Record не должен блокировать.
type Sink interface {
	Record(e models.DiagnosticEvent)
}

// Nop отбрасывает события
type Nop struct{}

// Record ничего не делает
func (Nop) Record(models.DiagnosticEvent) {}

// Multi рассылает событие всем приемникам по порядку
type Multi []Sink

// Record передает событие каждому приемнику
func (m Multi) Record(e models.DiagnosticEvent) {
	for _, s := range m {
		if s != nil {
			s.Record(e)
		}
	}
}

// LogSink пишет события в slog
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink создает приемник поверх логгера; nil логгер отключает вывод
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Record пишет событие с уровнем, зависящим от его важности
func (s *LogSink) Record(e models.DiagnosticEvent) {
	if s.logger == nil {
		return
	}
	level := levelOf(e.Kind)
	ctx := context.Background()
	if !s.logger.Enabled(ctx, level) {
		return
	}

	attrs := []slog.Attr{
		slog.String("session", e.SessionID),
		slog.String("state", e.State),
		slog.Float64("value", e.Value),
		slog.Uint64("t", e.Timestamp),
	}
	for k, v := range e.Detail {
		attrs = append(attrs, slog.Any(k, v))
	}
	s.logger.LogAttrs(ctx, level, string(e.Kind), attrs...)
}

func levelOf(kind models.DiagnosticKind) slog.Level {
	switch kind {
	case models.DiagFallConfirmed, models.DiagMonitoringHalted,
		models.DiagRestartExhausted, models.DiagRegistrationFailed:
		return slog.LevelWarn
	case models.DiagImpactAccepted, models.DiagFallDismissed,
		models.DiagMonitoringStarted, models.DiagMonitoringStopped,
		models.DiagRestartScheduled, models.DiagRestartCompleted,
		models.DiagTierChanged, models.DiagVerificationCancelled:
		return slog.LevelInfo
	}
	return slog.LevelDebug
}
