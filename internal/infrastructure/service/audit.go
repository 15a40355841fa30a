package service

import (
	"context"
	"log/slog"

	"github.com/practicas/practice-hub/internal/domain/shared"
)

// AuditLogger records every practice event as a structured audit entry.
// Audit persistence lives outside this service; entries go to the log stream.
type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{logger: logger.With("component", "audit")}
}

// Register subscribes the audit logger to all events.
func (a *AuditLogger) Register(bus shared.EventSubscriber) error {
	return bus.SubscribeAll(a.Handle)
}

// Handle writes one audit entry.
func (a *AuditLogger) Handle(event shared.Event) error {
	attrs := make([]slog.Attr, 0, 3+len(event.Payload()))
	attrs = append(attrs,
		slog.String("event_type", string(event.EventType())),
		slog.String("aggregate_id", event.AggregateID()),
		slog.Time("occurred_at", event.OccurredAt()),
	)
	for k, v := range event.Payload() {
		attrs = append(attrs, slog.Any(k, v))
	}
	a.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
	return nil
}
