package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/practicas/practice-hub/internal/domain/deadline"
	"github.com/practicas/practice-hub/internal/domain/practice"
	"github.com/practicas/practice-hub/internal/domain/shared"
	"github.com/practicas/practice-hub/internal/infrastructure/persistence/memory"
)

var fixedNow = time.Date(2025, 8, 4, 11, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *recordingPublisher) Publish(e shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingPublisher) types() []shared.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]shared.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType()
	}
	return out
}

type failingConfig struct{}

func (failingConfig) ActiveGradingConfig(context.Context) (practice.GradingConfig, error) {
	return practice.GradingConfig{}, shared.Unavailable("config", "ActiveGradingConfig", errors.New("connection refused"))
}

type harness struct {
	db        *memory.DB
	publisher *recordingPublisher

	create *CreatePracticeHandler
	change *ChangeStateHandler
	submit *SubmitEvaluationHandler
	close  *CloseEvaluationHandler
	detail *UpdateDetailsHandler

	practices   practice.Repository
	evaluations practice.EvaluationRepository
	closures    practice.ClosureRepository
}

func newHarness() *harness {
	db := memory.NewDB()
	pub := &recordingPublisher{}
	clock := Clock(func() time.Time { return fixedNow })

	practices := memory.NewPracticeRepository(db)
	evaluations := memory.NewEvaluationRepository(db)
	closures := memory.NewClosureRepository(db)

	return &harness{
		db:          db,
		publisher:   pub,
		practices:   practices,
		evaluations: evaluations,
		closures:    closures,
		create:      NewCreatePracticeHandler(practices, pub, clock),
		change:      NewChangeStateHandler(practices, db, pub, clock),
		submit:      NewSubmitEvaluationHandler(practices, evaluations, db, pub, clock),
		detail:      NewUpdateDetailsHandler(practices, db, pub, clock),
		close: NewCloseEvaluationHandler(CloseEvaluationDeps{
			Practices:      practices,
			Evaluations:    evaluations,
			Closures:       closures,
			Configs:        db,
			Tx:             db,
			EventPublisher: pub,
			Clock:          clock,
		}),
	}
}

func (h *harness) newPractice(t *testing.T) *practice.Practice {
	t.Helper()
	res, err := h.create.Handle(context.Background(), CreatePracticeCommand{
		Type:        "LABOR",
		StudentID:   "student-42",
		ProgramID:   "ICI",
		ProgramName: "Ingeniería Civil Industrial",
		StartDate:   fixedNow.AddDate(0, -3, 0),
		EndDate:     fixedNow.AddDate(0, 0, -1),
	})
	require.NoError(t, err)
	return res.Practice
}

func (h *harness) moveTo(t *testing.T, id string, states ...practice.State) {
	t.Helper()
	for _, s := range states {
		_, err := h.change.Handle(context.Background(), ChangeStateCommand{PracticeID: id, TargetState: string(s)})
		require.NoError(t, err, "-> %s", s)
	}
}

func (h *harness) evaluate(t *testing.T, id string, kind practice.EvaluationKind, grade string) *SubmitEvaluationResult {
	t.Helper()
	res, err := h.submit.Handle(context.Background(), SubmitEvaluationCommand{
		PracticeID:  id,
		Kind:        string(kind),
		Grade:       grade,
		EvaluatorID: "evaluator-" + string(kind),
	})
	require.NoError(t, err)
	return res
}

// ══════════════════════════════════════════════════════════════════════════════
// END TO END
// ══════════════════════════════════════════════════════════════════════════════

func TestPracticeLifecycle_EndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.db.SetGradingConfig(ctx, practice.GradingConfig{ReportWeight: 40, EmployerWeight: 60, MinPassingGrade: decimal.RequireFromString("4.0")})

	p := h.newPractice(t)
	assert.Equal(t, practice.StatePending, p.State)

	h.moveTo(t, p.ID,
		practice.StatePendingTeacherAcceptance,
		practice.StateInProgress,
		practice.StateFinishedPendingEval,
	)

	first := h.evaluate(t, p.ID, practice.EvaluationReport, "5.0")
	assert.False(t, first.Advanced)
	second := h.evaluate(t, p.ID, practice.EvaluationEmployer, "6.0")
	assert.True(t, second.Advanced)
	assert.Equal(t, practice.StateEvaluationComplete, second.PracticeState)

	res, err := h.close.Handle(ctx, CloseEvaluationCommand{PracticeID: p.ID, ActorID: "admin"})
	require.NoError(t, err)

	assert.Equal(t, practice.StateClosed, res.Practice.State)
	assert.Equal(t, practice.StateEvaluationComplete, res.PreviousState)
	assert.True(t, decimal.RequireFromString("5.6").Equal(res.Record.FinalGrade))
	assert.Equal(t, practice.ClosureValidated, res.Record.State)

	stored, err := h.practices.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, practice.StateClosed, stored.State)

	rec, err := h.closures.Get(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, decimal.RequireFromString("5.6").Equal(rec.FinalGrade))

	assert.Equal(t, []shared.EventType{
		shared.EventPracticeCreated,
		shared.EventPracticeStateChanged,
		shared.EventPracticeStateChanged,
		shared.EventPracticeStateChanged,
		shared.EventEvaluationSubmitted,
		shared.EventEvaluationSubmitted,
		shared.EventPracticeStateChanged,
		shared.EventPracticeStateChanged,
		shared.EventPracticeClosed,
	}, h.publisher.types())
}

// ══════════════════════════════════════════════════════════════════════════════
// CLOSE EVALUATION
// ══════════════════════════════════════════════════════════════════════════════

func TestCloseEvaluation_SecondCallIsAlreadyClosed(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	p := h.newPractice(t)
	h.moveTo(t, p.ID, practice.StatePendingTeacherAcceptance, practice.StateInProgress, practice.StateFinishedPendingEval)
	h.evaluate(t, p.ID, practice.EvaluationReport, "6.2")
	h.evaluate(t, p.ID, practice.EvaluationEmployer, "5.1")

	first, err := h.close.Handle(ctx, CloseEvaluationCommand{PracticeID: p.ID})
	require.NoError(t, err)

	h.db.SetGradingConfig(ctx, practice.GradingConfig{ReportWeight: 90, EmployerWeight: 10, MinPassingGrade: decimal.NewFromInt(4)})
	_, err = h.close.Handle(ctx, CloseEvaluationCommand{PracticeID: p.ID})
	assert.ErrorIs(t, err, shared.ErrAlreadyClosed)

	rec, err := h.closures.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, first.Record.FinalGrade.Equal(rec.FinalGrade))
}

func TestCloseEvaluation_OneEvaluationProducesNoRecord(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	p := h.newPractice(t)
	h.moveTo(t, p.ID, practice.StatePendingTeacherAcceptance, practice.StateInProgress, practice.StateFinishedPendingEval)
	h.evaluate(t, p.ID, practice.EvaluationEmployer, "6.0")

	_, err := h.close.Handle(ctx, CloseEvaluationCommand{PracticeID: p.ID})
	assert.ErrorIs(t, err, shared.ErrEvaluationsIncomplete)

	rec, err := h.closures.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, rec)

	stored, err := h.practices.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, practice.StateFinishedPendingEval, stored.State)
}

func TestCloseEvaluation_InvalidConfigurationRollsBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	p := h.newPractice(t)
	h.moveTo(t, p.ID, practice.StatePendingTeacherAcceptance, practice.StateInProgress, practice.StateFinishedPendingEval)
	h.evaluate(t, p.ID, practice.EvaluationReport, "5.0")
	h.evaluate(t, p.ID, practice.EvaluationEmployer, "5.0")

	h.db.SetGradingConfig(ctx, practice.GradingConfig{ReportWeight: 50, EmployerWeight: 55, MinPassingGrade: decimal.NewFromInt(4)})

	_, err := h.close.Handle(ctx, CloseEvaluationCommand{PracticeID: p.ID})
	assert.ErrorIs(t, err, shared.ErrInvalidConfiguration)

	stored, err := h.practices.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, practice.StateEvaluationComplete, stored.State)
}

func TestCloseEvaluation_ConfigUnavailable(t *testing.T) {
	h := newHarness()
	p := h.newPractice(t)

	handler := NewCloseEvaluationHandler(CloseEvaluationDeps{
		Practices:   h.practices,
		Evaluations: h.evaluations,
		Closures:    h.closures,
		Configs:     failingConfig{},
		Tx:          h.db,
	})

	_, err := handler.Handle(context.Background(), CloseEvaluationCommand{PracticeID: p.ID})
	assert.True(t, shared.IsDependencyUnavailable(err))
	assert.False(t, shared.IsBusinessRule(err))
}

func TestCloseEvaluation_InvalidState(t *testing.T) {
	h := newHarness()
	p := h.newPractice(t)
	h.moveTo(t, p.ID, practice.StatePendingTeacherAcceptance, practice.StateInProgress)

	require.NoError(t, h.evaluations.Upsert(context.Background(), mustEval(t, p.ID, practice.EvaluationReport)))
	require.NoError(t, h.evaluations.Upsert(context.Background(), mustEval(t, p.ID, practice.EvaluationEmployer)))

	_, err := h.close.Handle(context.Background(), CloseEvaluationCommand{PracticeID: p.ID})
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestCloseEvaluation_FromFinishedPendingEval(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	p := h.newPractice(t)
	h.moveTo(t, p.ID, practice.StatePendingTeacherAcceptance, practice.StateInProgress, practice.StateFinishedPendingEval)

	require.NoError(t, h.evaluations.Upsert(ctx, mustEval(t, p.ID, practice.EvaluationReport)))
	require.NoError(t, h.evaluations.Upsert(ctx, mustEval(t, p.ID, practice.EvaluationEmployer)))

	res, err := h.close.Handle(ctx, CloseEvaluationCommand{PracticeID: p.ID})
	require.NoError(t, err)
	assert.Equal(t, practice.StateClosed, res.Practice.State)
	assert.Equal(t, practice.StateFinishedPendingEval, res.PreviousState)
}

func mustEval(t *testing.T, practiceID string, kind practice.EvaluationKind) *practice.Evaluation {
	t.Helper()
	e, err := practice.NewEvaluation(practiceID, kind, decimal.RequireFromString("5.5"), "", "ev", fixedNow)
	require.NoError(t, err)
	return e
}

// ══════════════════════════════════════════════════════════════════════════════
// CHANGE STATE
// ══════════════════════════════════════════════════════════════════════════════

func TestChangeState_Errors(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	p := h.newPractice(t)

	_, err := h.change.Handle(ctx, ChangeStateCommand{PracticeID: p.ID, TargetState: "CLOSED"})
	assert.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = h.change.Handle(ctx, ChangeStateCommand{PracticeID: p.ID, TargetState: "VOIDED", Reason: "short"})
	assert.ErrorIs(t, err, shared.ErrMissingReason)

	_, err = h.change.Handle(ctx, ChangeStateCommand{PracticeID: p.ID, TargetState: "ARCHIVED"})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = h.change.Handle(ctx, ChangeStateCommand{PracticeID: "nope", TargetState: "VOIDED", Reason: "a valid long reason"})
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = h.change.Handle(ctx, ChangeStateCommand{TargetState: "VOIDED"})
	assert.ErrorIs(t, err, shared.ErrValidation)

	stored, err := h.practices.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, practice.StatePending, stored.State)
	assert.Equal(t, []shared.EventType{shared.EventPracticeCreated}, h.publisher.types())
}

func TestChangeState_CannotCloseWithoutRecord(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	p := h.newPractice(t)
	h.moveTo(t, p.ID,
		practice.StatePendingTeacherAcceptance,
		practice.StateInProgress,
		practice.StateFinishedPendingEval,
	)
	h.evaluate(t, p.ID, practice.EvaluationReport, "5.0")
	res := h.evaluate(t, p.ID, practice.EvaluationEmployer, "6.0")
	require.Equal(t, practice.StateEvaluationComplete, res.PracticeState)

	_, err := h.change.Handle(ctx, ChangeStateCommand{PracticeID: p.ID, TargetState: "CLOSED"})
	assert.ErrorIs(t, err, shared.ErrInvalidTransition)

	stored, err := h.practices.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, practice.StateEvaluationComplete, stored.State)

	rec, err := h.closures.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, rec)

	closed, err := h.close.Handle(ctx, CloseEvaluationCommand{PracticeID: p.ID})
	require.NoError(t, err)
	assert.Equal(t, practice.StateClosed, closed.Practice.State)

	rec, err = h.closures.Get(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, decimal.RequireFromString("5.6").Equal(rec.FinalGrade))
}

func TestChangeState_VoidRecordsReason(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	p := h.newPractice(t)

	res, err := h.change.Handle(ctx, ChangeStateCommand{
		PracticeID:  p.ID,
		TargetState: "voided",
		Reason:      "student transferred to another campus",
		ActorID:     "coordinator-1",
	})
	require.NoError(t, err)

	assert.Equal(t, practice.StatePending, res.From)
	require.NotNil(t, res.Practice.RejectionReason)
	assert.Equal(t, "student transferred to another campus", *res.Practice.RejectionReason)

	evt, ok := h.publisher.events[1].(shared.PracticeStateChangedEvent)
	require.True(t, ok)
	assert.Equal(t, "VOIDED", evt.To)
	assert.Equal(t, "coordinator-1", evt.ActorID)
}

func TestChangeState_ConcurrentVoidAndCloseSerialize(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	p := h.newPractice(t)
	h.moveTo(t, p.ID, practice.StatePendingTeacherAcceptance, practice.StateInProgress, practice.StateFinishedPendingEval)

	// Stored directly so the practice stays in FINISHED_PENDING_EVAL, where
	// both voiding and closing are legal.
	require.NoError(t, h.evaluations.Upsert(ctx, mustEval(t, p.ID, practice.EvaluationReport)))
	require.NoError(t, h.evaluations.Upsert(ctx, mustEval(t, p.ID, practice.EvaluationEmployer)))

	var (
		wg       sync.WaitGroup
		voidErr  error
		closeErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, closeErr = h.close.Handle(ctx, CloseEvaluationCommand{PracticeID: p.ID})
	}()
	go func() {
		defer wg.Done()
		_, voidErr = h.change.Handle(ctx, ChangeStateCommand{
			PracticeID:  p.ID,
			TargetState: string(practice.StateVoided),
			Reason:      "practice cancelled by the host organization",
		})
	}()
	wg.Wait()

	stored, err := h.practices.GetByID(ctx, p.ID)
	require.NoError(t, err)
	rec, err := h.closures.Get(ctx, p.ID)
	require.NoError(t, err)

	if closeErr == nil {
		assert.ErrorIs(t, voidErr, shared.ErrAlreadyTerminal)
		assert.Equal(t, practice.StateClosed, stored.State)
		assert.NotNil(t, rec)
		return
	}
	assert.NoError(t, voidErr)
	assert.ErrorIs(t, closeErr, shared.ErrInvalidState)
	assert.Equal(t, practice.StateVoided, stored.State)
	assert.Nil(t, rec)
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT EVALUATION / CREATE
// ══════════════════════════════════════════════════════════════════════════════

func TestSubmitEvaluation_Rules(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	p := h.newPractice(t)

	_, err := h.submit.Handle(ctx, SubmitEvaluationCommand{PracticeID: p.ID, Kind: "REPORT", Grade: "5.0", EvaluatorID: "x"})
	assert.ErrorIs(t, err, shared.ErrInvalidState)

	h.moveTo(t, p.ID, practice.StatePendingTeacherAcceptance, practice.StateInProgress, practice.StateFinishedPendingEval)

	_, err = h.submit.Handle(ctx, SubmitEvaluationCommand{PracticeID: p.ID, Kind: "REPORT", Grade: "7.5", EvaluatorID: "x"})
	assert.ErrorIs(t, err, shared.ErrValueOutOfRange)

	_, err = h.submit.Handle(ctx, SubmitEvaluationCommand{PracticeID: p.ID, Kind: "PEER", Grade: "5.0", EvaluatorID: "x"})
	assert.ErrorIs(t, err, shared.ErrValidation)

	h.evaluate(t, p.ID, practice.EvaluationReport, "4.0")
	again := h.evaluate(t, p.ID, practice.EvaluationReport, "4.5")
	assert.True(t, again.Overwrote)
	assert.False(t, again.Advanced)

	stored, err := h.evaluations.Get(ctx, p.ID, practice.EvaluationReport)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("4.5").Equal(stored.Grade))
}

func TestSubmitEvaluation_ImmutableAfterClose(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	p := h.newPractice(t)
	h.moveTo(t, p.ID, practice.StatePendingTeacherAcceptance, practice.StateInProgress, practice.StateFinishedPendingEval)
	h.evaluate(t, p.ID, practice.EvaluationReport, "5.0")
	h.evaluate(t, p.ID, practice.EvaluationEmployer, "5.0")
	_, err := h.close.Handle(ctx, CloseEvaluationCommand{PracticeID: p.ID})
	require.NoError(t, err)

	_, err = h.submit.Handle(ctx, SubmitEvaluationCommand{PracticeID: p.ID, Kind: "REPORT", Grade: "7.0", EvaluatorID: "x"})
	assert.ErrorIs(t, err, shared.ErrAlreadyClosed)
}

func TestCreatePractice_Validation(t *testing.T) {
	h := newHarness()

	_, err := h.create.Handle(context.Background(), CreatePracticeCommand{
		Type:      "LABOR",
		StudentID: "s",
		ProgramID: "p",
		StartDate: fixedNow,
		EndDate:   fixedNow.AddDate(0, 0, -1),
	})
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.Contains(t, err.Error(), "EndDate")

	_, err = h.create.Handle(context.Background(), CreatePracticeCommand{Type: "INTERN"})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

// ══════════════════════════════════════════════════════════════════════════════
// PRACTICE DETAILS
// ══════════════════════════════════════════════════════════════════════════════

func TestAttachReport_ClearsReportPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	p := h.newPractice(t)
	h.moveTo(t, p.ID, practice.StatePendingTeacherAcceptance, practice.StateInProgress)

	pending := func() []string {
		stored, err := h.practices.GetByID(ctx, p.ID)
		require.NoError(t, err)
		return deadline.ClassifyUpcomingMilestones(fixedNow, []*practice.Practice{stored}, deadline.DefaultConfig()).ReportPendingIDs()
	}
	assert.Equal(t, []string{p.ID}, pending())

	res, err := h.detail.AttachReport(ctx, AttachReportCommand{PracticeID: p.ID, DocumentRef: " reports/informe-final.pdf ", ActorID: "student-42"})
	require.NoError(t, err)
	require.NotNil(t, res.Practice.ReportDocument)
	assert.Equal(t, "reports/informe-final.pdf", *res.Practice.ReportDocument)
	assert.Equal(t, practice.StateInProgress, res.Practice.State)

	assert.Empty(t, pending())
	assert.Equal(t, shared.EventPracticeUpdated, h.publisher.types()[len(h.publisher.types())-1])
}

func TestAssignInstructor(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	p := h.newPractice(t)

	res, err := h.detail.AssignInstructor(ctx, AssignInstructorCommand{PracticeID: p.ID, InstructorID: "prof-7"})
	require.NoError(t, err)
	require.NotNil(t, res.Practice.InstructorID)
	assert.Equal(t, "prof-7", *res.Practice.InstructorID)

	stored, err := h.practices.GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.InstructorID)
	assert.Equal(t, "prof-7", *stored.InstructorID)
}

func TestUpdateDetails_Errors(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	p := h.newPractice(t)
	_, err := h.change.Handle(ctx, ChangeStateCommand{PracticeID: p.ID, TargetState: "VOIDED", Reason: "duplicate registration"})
	require.NoError(t, err)
	before := len(h.publisher.types())

	_, err = h.detail.AttachReport(ctx, AttachReportCommand{PracticeID: p.ID, DocumentRef: "reports/x.pdf"})
	assert.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = h.detail.AssignInstructor(ctx, AssignInstructorCommand{PracticeID: p.ID, InstructorID: "prof-7"})
	assert.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = h.detail.AttachReport(ctx, AttachReportCommand{PracticeID: "nope", DocumentRef: "reports/x.pdf"})
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = h.detail.AssignInstructor(ctx, AssignInstructorCommand{PracticeID: p.ID})
	assert.ErrorIs(t, err, shared.ErrValidation)

	stored, err := h.practices.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ReportDocument)
	assert.Nil(t, stored.InstructorID)
	assert.Len(t, h.publisher.types(), before)
}
