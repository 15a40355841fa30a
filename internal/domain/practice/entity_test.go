package practice

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/practicas/practice-hub/internal/domain/shared"
)

func validParams() NewPracticeParams {
	return NewPracticeParams{
		Type:        TypeProfessional,
		StudentID:   "student-7",
		ProgramID:   "prog-2",
		ProgramName: " Ingeniería Comercial ",
		StartDate:   testNow,
		EndDate:     testNow.AddDate(0, 3, 0),
	}
}

func TestNewPractice(t *testing.T) {
	p, err := NewPractice(validParams(), testNow)
	require.NoError(t, err)

	_, parseErr := uuid.Parse(p.ID)
	assert.NoError(t, parseErr)
	assert.Equal(t, StatePending, p.State)
	assert.Equal(t, testNow, p.StateChangedAt)
	assert.Equal(t, "Ingeniería Comercial", p.ProgramName)
	assert.Nil(t, p.InstructorID)
}

func TestNewPractice_SameDayIsAllowed(t *testing.T) {
	params := validParams()
	params.EndDate = params.StartDate

	_, err := NewPractice(params, testNow)
	assert.NoError(t, err)
}

func TestNewPractice_Validation(t *testing.T) {
	cases := map[string]func(*NewPracticeParams){
		"unknown type":     func(p *NewPracticeParams) { p.Type = "SUMMER" },
		"missing student":  func(p *NewPracticeParams) { p.StudentID = " " },
		"missing program":  func(p *NewPracticeParams) { p.ProgramID = "" },
		"end before start": func(p *NewPracticeParams) { p.EndDate = p.StartDate.AddDate(0, 0, -1) },
		"zero start date":  func(p *NewPracticeParams) { p.StartDate = time.Time{} },
		"malformed id":     func(p *NewPracticeParams) { p.ID = "practice-1" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			params := validParams()
			mutate(&params)

			_, err := NewPractice(params, testNow)
			assert.ErrorIs(t, err, shared.ErrValidation)
		})
	}
}

func TestPractice_AttachReport(t *testing.T) {
	p := practiceIn(StateInProgress)
	assert.False(t, p.HasReport())

	require.NoError(t, p.AttachReport("reports/2025/abc.pdf", testNow))
	assert.True(t, p.HasReport())

	closed := practiceIn(StateClosed)
	assert.ErrorIs(t, closed.AttachReport("x.pdf", testNow), shared.ErrInvalidState)
	assert.ErrorIs(t, p.AttachReport("  ", testNow), shared.ErrValidation)
}

func TestPractice_Clone(t *testing.T) {
	p := practiceIn(StateInProgress)
	require.NoError(t, p.AssignInstructor("inst-1", testNow))

	c := p.Clone()
	*c.InstructorID = "inst-2"
	c.State = StateVoided

	assert.Equal(t, "inst-1", *p.InstructorID)
	assert.Equal(t, StateInProgress, p.State)
}
