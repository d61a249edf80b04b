package notify

import (
	"context"
	"log/slog"

	"bidride/internal/types"
)

// LogSender writes notifications to the structured log; the default for local runs.
type LogSender struct {
	log *slog.Logger
}

func NewLogSender(log *slog.Logger) *LogSender {
	return &LogSender{log: log.With("component", "notify.log")}
}

func (s *LogSender) Send(_ context.Context, recipient types.UserID, title, body string, data map[string]string) error {
	s.log.Info("notification",
		"kind", data["kind"],
		"recipient", recipient,
		"title", title,
		"body", body,
		"booking_id", data["booking_id"],
	)
	return nil
}
