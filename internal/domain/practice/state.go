package practice

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/practicas/practice-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATE
// ══════════════════════════════════════════════════════════════════════════════

// State is the lifecycle state of a practice.
type State string

const (
	// StatePending - created by a coordinator, waiting to be sent to the instructor.
	StatePending State = "PENDING"
	// StatePendingTeacherAcceptance - waiting for the supervising instructor.
	StatePendingTeacherAcceptance State = "PENDING_TEACHER_ACCEPTANCE"
	// StateRejectedByTeacher - the instructor declined the supervision.
	StateRejectedByTeacher State = "REJECTED_BY_TEACHER"
	// StateInProgress - the student is carrying out the practice.
	StateInProgress State = "IN_PROGRESS"
	// StateFinishedPendingEval - finished, evaluations outstanding.
	StateFinishedPendingEval State = "FINISHED_PENDING_EVAL"
	// StateEvaluationComplete - both evaluations received.
	StateEvaluationComplete State = "EVALUATION_COMPLETE"
	// StateClosed - final record validated. Nothing leaves this state.
	StateClosed State = "CLOSED"
	// StateVoided - administratively voided. Can be reopened to PENDING.
	StateVoided State = "VOIDED"
)

// States lists every state in lifecycle order.
var States = []State{
	StatePending,
	StatePendingTeacherAcceptance,
	StateRejectedByTeacher,
	StateInProgress,
	StateFinishedPendingEval,
	StateEvaluationComplete,
	StateClosed,
	StateVoided,
}

// transitions is the single source of truth for legal moves.
var transitions = map[State][]State{
	StatePending:                  {StatePendingTeacherAcceptance, StateVoided},
	StatePendingTeacherAcceptance: {StateRejectedByTeacher, StateInProgress, StateVoided},
	StateRejectedByTeacher:        {StatePendingTeacherAcceptance, StateVoided},
	StateInProgress:               {StateFinishedPendingEval, StateVoided},
	StateFinishedPendingEval:      {StateEvaluationComplete, StateInProgress, StateVoided},
	StateEvaluationComplete:       {StateClosed, StateFinishedPendingEval},
	StateClosed:                   {},
	StateVoided:                   {StatePending},
}

// Void reason bounds, counted in characters.
const (
	MinReasonLength = 10
	MaxReasonLength = 500
)

// IsValid reports whether s is one of the known states.
func (s State) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal returns true when no transition is possible at all.
func (s State) IsTerminal() bool {
	return s == StateClosed
}

// IsActive returns true for practices that are still moving through the workflow.
func (s State) IsActive() bool {
	return s.IsValid() && s != StateClosed && s != StateVoided
}

// AllowedTargets returns a copy of the states reachable from s.
func (s State) AllowedTargets() []State {
	targets := transitions[s]
	out := make([]State, len(targets))
	copy(out, targets)
	return out
}

// String returns the string representation.
func (s State) String() string {
	return string(s)
}

// CanTransition reports whether from → to is in the transition table.
func CanTransition(from, to State) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// ParseState parses a state name (case-insensitive).
func ParseState(value string) (State, error) {
	s := State(strings.ToUpper(strings.TrimSpace(value)))
	if !s.IsValid() {
		return "", shared.NewDomainError("practice", "ParseState", shared.ErrInvalidInput,
			fmt.Sprintf("unknown state %q", value))
	}
	return s, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSITION
// ══════════════════════════════════════════════════════════════════════════════

// Transition moves the practice to target if the transition table allows it.
//
// A reason is mandatory when voiding and optional when the instructor rejects;
// in both cases it is stored on the practice. The practice is left untouched
// when an error is returned.
func (p *Practice) Transition(target State, reason string, at time.Time) error {
	if p.State.IsTerminal() {
		return shared.NewDomainError("practice", "Transition", shared.ErrAlreadyTerminal,
			fmt.Sprintf("practice %s is %s", p.ID, p.State))
	}

	if !CanTransition(p.State, target) {
		return shared.NewDomainError("practice", "Transition", shared.ErrInvalidTransition,
			fmt.Sprintf("cannot move from %s to %s", p.State, target))
	}

	reason = strings.TrimSpace(reason)

	switch target {
	case StateVoided:
		n := utf8.RuneCountInString(reason)
		if n < MinReasonLength || n > MaxReasonLength {
			return shared.NewDomainError("practice", "Transition", shared.ErrMissingReason,
				fmt.Sprintf("void reason must be %d-%d characters, got %d", MinReasonLength, MaxReasonLength, n))
		}
		p.RejectionReason = &reason
	case StateRejectedByTeacher:
		if reason != "" {
			if utf8.RuneCountInString(reason) > MaxReasonLength {
				return shared.NewDomainError("practice", "Transition", shared.ErrValueOutOfRange,
					fmt.Sprintf("rejection reason exceeds %d characters", MaxReasonLength))
			}
			p.RejectionReason = &reason
		}
	}

	p.State = target
	p.StateChangedAt = at
	p.UpdatedAt = at
	return nil
}
