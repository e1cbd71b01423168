package notify

import (
	"context"
	"log/slog"

	"github.com/gyaneshwarpardhi/quakerisk/internal/event"
)

// LogNotifier writes alerts to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Type() string { return "log" }

func (n *LogNotifier) Notify(ctx context.Context, a event.Alert) error {
	level := slog.LevelInfo
	if a.Severity == event.SeverityHigh {
		level = slog.LevelWarn
	}
	n.logger.Log(ctx, level, "seismic alert",
		"alert_id", a.ID,
		"event_id", a.EventID,
		"severity", a.Severity,
		"magnitude", a.Magnitude,
		"location", a.Location,
	)
	return nil
}
