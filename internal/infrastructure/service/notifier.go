package service

import (
	"context"
	"log/slog"

	"github.com/practicas/practice-hub/internal/domain/deadline"
	"github.com/practicas/practice-hub/internal/domain/shared"
)

// NotifierStub stands in for the email collaborator. It implements
// deadline.Notifier and tells participants about lifecycle changes, logging
// what would be sent.
type NotifierStub struct {
	logger *slog.Logger
}

func NewNotifierStub(logger *slog.Logger) *NotifierStub {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotifierStub{logger: logger.With("component", "notifier")}
}

// NotifyDeadlines implements deadline.Notifier.
func (n *NotifierStub) NotifyDeadlines(ctx context.Context, report *deadline.Report) error {
	if report == nil || report.IsEmpty() {
		return nil
	}

	for _, o := range report.Overdue {
		if o.Severity != deadline.SeverityCritical {
			continue
		}
		n.logger.WarnContext(ctx, "stub: critical overdue practice",
			"practice_id", o.PracticeID,
			"program", o.ProgramName,
			"days_late", o.DaysLate,
		)
	}

	n.logger.InfoContext(ctx, "stub: sending deadline digest",
		"overdue", report.Summary.Total,
		"critical", report.Summary.Critical,
		"low", report.Summary.Low,
		"normal", report.Summary.Normal,
		"average_days_late", report.Summary.AverageDaysLate,
		"acceptance_expiring", len(report.AcceptanceExpiring),
		"ending_soon", len(report.Milestones.EndingSoon),
		"report_pending", len(report.Milestones.ReportPending),
	)
	return nil
}

// Register subscribes the notifier to the events participants are told about.
func (n *NotifierStub) Register(bus shared.EventSubscriber) error {
	if err := bus.Subscribe(shared.EventPracticeStateChanged, n.onStateChanged); err != nil {
		return err
	}
	return bus.Subscribe(shared.EventPracticeClosed, n.onClosed)
}

func (n *NotifierStub) onStateChanged(event shared.Event) error {
	p := event.Payload()
	n.logger.Info("stub: notifying participants of state change",
		"practice_id", event.AggregateID(),
		"from", p["from"],
		"to", p["to"],
	)
	return nil
}

func (n *NotifierStub) onClosed(event shared.Event) error {
	p := event.Payload()
	n.logger.Info("stub: notifying student of final grade",
		"practice_id", event.AggregateID(),
		"final_grade", p["final_grade"],
		"passed", p["passed"],
	)
	return nil
}
