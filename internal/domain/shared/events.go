// Package shared contains common domain types, errors and events
// that are used across all domain packages.
package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Audit and notification collaborators subscribe to these;
// the core never emits them itself, the application layer does after a commit.
const (
	EventPracticeCreated      EventType = "practice.created"
	EventPracticeStateChanged EventType = "practice.state_changed"
	EventPracticeUpdated      EventType = "practice.updated"
	EventEvaluationSubmitted  EventType = "practice.evaluation_submitted"
	EventPracticeClosed       EventType = "practice.closed"

	EventDeadlineScanCompleted EventType = "deadline.scan_completed"
)

// Event is what the bus carries.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	// AggregateID is the practice id, or the scan id for deadline events.
	AggregateID() string
	// Payload is the event-specific data, flat enough to serialize as JSON.
	Payload() map[string]any
}

// BaseEvent carries the fields every event shares. Embedding it satisfies
// Event except for Payload.
type BaseEvent struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Aggregate string    `json:"aggregate_id"`
}

func (e BaseEvent) EventType() EventType { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AggregateID() string { return e.Aggregate }

func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{Type: eventType, Timestamp: at, Aggregate: aggregateID}
}

// ═══════════════════════════════════════════════════════════════════════════
// Practice Events
// ═══════════════════════════════════════════════════════════════════════════

// PracticeCreatedEvent is emitted when a coordinator registers a practice.
type PracticeCreatedEvent struct {
	BaseEvent
	StudentID   string `json:"student_id"`
	ProgramName string `json:"program_name"`
	Type        string `json:"type"`
}

func (e PracticeCreatedEvent) Payload() map[string]any {
	return map[string]any{
		"student_id":   e.StudentID,
		"program_name": e.ProgramName,
		"type":         e.Type,
	}
}

// NewPracticeCreatedEvent creates a new PracticeCreatedEvent.
func NewPracticeCreatedEvent(practiceID, studentID, programName, practiceType string, at time.Time) PracticeCreatedEvent {
	return PracticeCreatedEvent{
		BaseEvent:   NewBaseEvent(EventPracticeCreated, practiceID, at),
		StudentID:   studentID,
		ProgramName: programName,
		Type:        practiceType,
	}
}

// PracticeStateChangedEvent is emitted after a successful state transition.
type PracticeStateChangedEvent struct {
	BaseEvent
	From    string `json:"from"`
	To      string `json:"to"`
	Reason  string `json:"reason,omitempty"`
	ActorID string `json:"actor_id,omitempty"`
}

func (e PracticeStateChangedEvent) Payload() map[string]any {
	return map[string]any{
		"from":     e.From,
		"to":       e.To,
		"reason":   e.Reason,
		"actor_id": e.ActorID,
	}
}

// NewPracticeStateChangedEvent creates a new PracticeStateChangedEvent.
func NewPracticeStateChangedEvent(practiceID, from, to, reason, actorID string, at time.Time) PracticeStateChangedEvent {
	return PracticeStateChangedEvent{
		BaseEvent: NewBaseEvent(EventPracticeStateChanged, practiceID, at),
		From:      from,
		To:        to,
		Reason:    reason,
		ActorID:   actorID,
	}
}

// PracticeUpdatedEvent is emitted when a detail outside the lifecycle changes,
// such as the report document or the supervising instructor.
type PracticeUpdatedEvent struct {
	BaseEvent
	Field   string `json:"field"`
	Value   string `json:"value"`
	ActorID string `json:"actor_id,omitempty"`
}

func (e PracticeUpdatedEvent) Payload() map[string]any {
	return map[string]any{
		"field":    e.Field,
		"value":    e.Value,
		"actor_id": e.ActorID,
	}
}

func NewPracticeUpdatedEvent(practiceID, field, value, actorID string, at time.Time) PracticeUpdatedEvent {
	return PracticeUpdatedEvent{
		BaseEvent: NewBaseEvent(EventPracticeUpdated, practiceID, at),
		Field:     field,
		Value:     value,
		ActorID:   actorID,
	}
}

// EvaluationSubmittedEvent is emitted when a report or employer evaluation is stored.
type EvaluationSubmittedEvent struct {
	BaseEvent
	Kind        string `json:"kind"`
	Grade       string `json:"grade"`
	EvaluatorID string `json:"evaluator_id"`
	Overwrote   bool   `json:"overwrote"`
}

func (e EvaluationSubmittedEvent) Payload() map[string]any {
	return map[string]any{
		"kind":         e.Kind,
		"grade":        e.Grade,
		"evaluator_id": e.EvaluatorID,
		"overwrote":    e.Overwrote,
	}
}

// NewEvaluationSubmittedEvent creates a new EvaluationSubmittedEvent.
func NewEvaluationSubmittedEvent(practiceID, kind, grade, evaluatorID string, overwrote bool, at time.Time) EvaluationSubmittedEvent {
	return EvaluationSubmittedEvent{
		BaseEvent:   NewBaseEvent(EventEvaluationSubmitted, practiceID, at),
		Kind:        kind,
		Grade:       grade,
		EvaluatorID: evaluatorID,
		Overwrote:   overwrote,
	}
}

// PracticeClosedEvent is emitted once the final record is validated.
type PracticeClosedEvent struct {
	BaseEvent
	FinalGrade string `json:"final_grade"`
	Passed     bool   `json:"passed"`
}

func (e PracticeClosedEvent) Payload() map[string]any {
	return map[string]any{
		"final_grade": e.FinalGrade,
		"passed":      e.Passed,
	}
}

// NewPracticeClosedEvent creates a new PracticeClosedEvent.
func NewPracticeClosedEvent(practiceID, finalGrade string, passed bool, at time.Time) PracticeClosedEvent {
	return PracticeClosedEvent{
		BaseEvent:  NewBaseEvent(EventPracticeClosed, practiceID, at),
		FinalGrade: finalGrade,
		Passed:     passed,
	}
}

// DeadlineScanCompletedEvent is emitted by the deadline job after each scan.
type DeadlineScanCompletedEvent struct {
	BaseEvent
	Overdue           int `json:"overdue"`
	Critical          int `json:"critical"`
	AcceptanceExpired int `json:"acceptance_expired"`
	EndingSoon        int `json:"ending_soon"`
	ReportPending     int `json:"report_pending"`
}

func (e DeadlineScanCompletedEvent) Payload() map[string]any {
	return map[string]any{
		"overdue":            e.Overdue,
		"critical":           e.Critical,
		"acceptance_expired": e.AcceptanceExpired,
		"ending_soon":        e.EndingSoon,
		"report_pending":     e.ReportPending,
	}
}

// NewDeadlineScanCompletedEvent creates a new DeadlineScanCompletedEvent.
// scanID identifies the run and is used as the aggregate id.
func NewDeadlineScanCompletedEvent(scanID string, overdue, critical, acceptanceExpired, endingSoon, reportPending int, at time.Time) DeadlineScanCompletedEvent {
	return DeadlineScanCompletedEvent{
		BaseEvent:         NewBaseEvent(EventDeadlineScanCompleted, scanID, at),
		Overdue:           overdue,
		Critical:          critical,
		AcceptanceExpired: acceptanceExpired,
		EndingSoon:        endingSoon,
		ReportPending:     reportPending,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Bus Interfaces
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for a specific event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
