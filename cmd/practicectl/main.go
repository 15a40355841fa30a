// Package main is the administrative command line of Practice Hub.
//
// Each subcommand runs one application operation against the configured
// storage and prints the result as JSON:
//
//	practicectl migrate [up|down|status]
//	practicectl create -type LABOR -student S -program P -start 2025-03-01 -end 2025-06-30
//	practicectl transition -id ID -to IN_PROGRESS [-reason R] [-actor A]
//	practicectl attach-report -id ID -doc REF [-actor A]
//	practicectl assign-instructor -id ID -instructor I [-actor A]
//	practicectl evaluate -id ID -kind REPORT -grade 5.5 -evaluator E
//	practicectl close -id ID [-actor A]
//	practicectl list [-state IN_PROGRESS]
//	practicectl report [-at 2025-09-15] [-program NAME] [-fresh]
//	practicectl grading-config [-employer 60 -report 40 -min-passing 4.0]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/practicas/practice-hub/config"
	"github.com/practicas/practice-hub/internal/app"
	"github.com/practicas/practice-hub/internal/application/command"
	"github.com/practicas/practice-hub/internal/application/query"
	"github.com/practicas/practice-hub/internal/domain/practice"
	"github.com/practicas/practice-hub/internal/domain/shared"
	"github.com/practicas/practice-hub/internal/infrastructure/persistence/postgres"
	"github.com/practicas/practice-hub/pkg/timeutil"
)

var errUsage = errors.New("usage: practicectl <migrate|create|transition|attach-report|assign-instructor|evaluate|close|list|report|grading-config> [flags]")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		msg := err.Error()
		var de *shared.DomainError
		if errors.As(err, &de) {
			msg = shared.UserMessage(err)
			slog.Debug("command failed", "error", err)
		}
		fmt.Fprintln(os.Stderr, "error:", msg)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Logs go to stderr so stdout stays machine readable.
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	slog.SetDefault(log)

	name, rest := args[0], args[1:]
	if name == "migrate" {
		cfg.Database.AutoMigrate = false
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	switch name {
	case "migrate":
		return runMigrate(ctx, a, rest, out)
	case "create":
		return runCreate(ctx, a, rest, out)
	case "transition":
		return runTransition(ctx, a, rest, out)
	case "attach-report":
		return runAttachReport(ctx, a, rest, out)
	case "assign-instructor":
		return runAssignInstructor(ctx, a, rest, out)
	case "evaluate":
		return runEvaluate(ctx, a, rest, out)
	case "close":
		return runClose(ctx, a, rest, out)
	case "list":
		return runList(ctx, a, rest, out)
	case "report":
		return runReport(ctx, a, rest, out)
	case "grading-config":
		return runGradingConfig(ctx, a, rest, out)
	}
	return errUsage
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBCOMMANDS
// ══════════════════════════════════════════════════════════════════════════════

func runMigrate(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	if a.DB == nil {
		return errors.New("migrate requires STORAGE_DRIVER=postgres")
	}
	migrator := postgres.NewMigrator(a.DB)

	action := "up"
	if len(args) > 0 {
		action = args[0]
	}
	switch action {
	case "up":
		if err := migrator.Migrate(ctx); err != nil {
			return err
		}
	case "down":
		if err := migrator.Rollback(ctx); err != nil {
			return err
		}
	case "status":
	default:
		return fmt.Errorf("unknown migrate action %q", action)
	}

	migrations, err := migrator.Status(ctx)
	if err != nil {
		return err
	}
	type row struct {
		Version   int        `json:"version"`
		Name      string     `json:"name"`
		Applied   bool       `json:"applied"`
		AppliedAt *time.Time `json:"applied_at,omitempty"`
	}
	rows := make([]row, 0, len(migrations))
	for _, m := range migrations {
		r := row{Version: m.Version, Name: m.Name, Applied: m.IsApplied}
		if m.IsApplied {
			at := m.AppliedAt
			r.AppliedAt = &at
		}
		rows = append(rows, r)
	}
	return writeJSON(out, rows)
}

func runCreate(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	var (
		id           = fs.String("id", "", "practice id (UUID); generated when empty")
		typ          = fs.String("type", "", "LABOR or PROFESSIONAL")
		student      = fs.String("student", "", "student id")
		program      = fs.String("program", "", "program id")
		programName  = fs.String("program-name", "", "program display name")
		instructor   = fs.String("instructor", "", "instructor id")
		organization = fs.String("organization", "", "host organization id")
		start        = fs.String("start", "", "start date, YYYY-MM-DD")
		end          = fs.String("end", "", "end date, YYYY-MM-DD")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	loc := a.Config.App.Location
	startDate, err := timeutil.ParseDate(*start, loc)
	if err != nil {
		return fmt.Errorf("-start: %w", err)
	}
	endDate, err := timeutil.ParseDate(*end, loc)
	if err != nil {
		return fmt.Errorf("-end: %w", err)
	}

	res, err := a.CreatePractice.Handle(ctx, command.CreatePracticeCommand{
		ID:             *id,
		Type:           *typ,
		StudentID:      *student,
		ProgramID:      *program,
		ProgramName:    *programName,
		InstructorID:   optional(*instructor),
		OrganizationID: optional(*organization),
		StartDate:      startDate,
		EndDate:        endDate,
	})
	if err != nil {
		return err
	}
	return writeJSON(out, res.Practice)
}

func runTransition(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("transition", flag.ContinueOnError)
	id := fs.String("id", "", "practice id")
	to := fs.String("to", "", "target state")
	reason := fs.String("reason", "", "reason, required when voiding")
	actor := fs.String("actor", "", "acting user id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	res, err := a.ChangeState.Handle(ctx, command.ChangeStateCommand{
		PracticeID:  *id,
		TargetState: *to,
		Reason:      *reason,
		ActorID:     *actor,
	})
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]any{
		"practice":   res.Practice,
		"from":       res.From,
		"changed_at": res.ChangedAt,
	})
}

func runAttachReport(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("attach-report", flag.ContinueOnError)
	id := fs.String("id", "", "practice id")
	doc := fs.String("doc", "", "report document reference")
	actor := fs.String("actor", "", "acting user id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	res, err := a.UpdateDetails.AttachReport(ctx, command.AttachReportCommand{
		PracticeID:  *id,
		DocumentRef: *doc,
		ActorID:     *actor,
	})
	if err != nil {
		return err
	}
	return writeJSON(out, res)
}

func runAssignInstructor(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("assign-instructor", flag.ContinueOnError)
	id := fs.String("id", "", "practice id")
	instructor := fs.String("instructor", "", "instructor id")
	actor := fs.String("actor", "", "acting user id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	res, err := a.UpdateDetails.AssignInstructor(ctx, command.AssignInstructorCommand{
		PracticeID:   *id,
		InstructorID: *instructor,
		ActorID:      *actor,
	})
	if err != nil {
		return err
	}
	return writeJSON(out, res)
}

func runEvaluate(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	id := fs.String("id", "", "practice id")
	kind := fs.String("kind", "", "REPORT or EMPLOYER")
	grade := fs.String("grade", "", "grade between 1.0 and 7.0")
	comments := fs.String("comments", "", "evaluator comments")
	evaluator := fs.String("evaluator", "", "evaluator id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	res, err := a.SubmitEvaluation.Handle(ctx, command.SubmitEvaluationCommand{
		PracticeID:  *id,
		Kind:        *kind,
		Grade:       *grade,
		Comments:    *comments,
		EvaluatorID: *evaluator,
	})
	if err != nil {
		return err
	}
	return writeJSON(out, res)
}

func runClose(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("close", flag.ContinueOnError)
	id := fs.String("id", "", "practice id")
	actor := fs.String("actor", "", "administrator id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	res, err := a.CloseEvaluation.Handle(ctx, command.CloseEvaluationCommand{PracticeID: *id, ActorID: *actor})
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]any{
		"record":          res.Record,
		"practice":        res.Practice,
		"previous_state":  res.PreviousState,
		"employer_weight": res.Config.EmployerWeight,
		"report_weight":   res.Config.ReportWeight,
	})
}

// runList prints the practices in one state, or every active one.
func runList(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	state := fs.String("state", "", "lifecycle state; every active practice when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		practices []*practice.Practice
		err       error
	)
	if *state == "" {
		practices, err = a.Practices.ListActive(ctx)
	} else {
		s, perr := practice.ParseState(*state)
		if perr != nil {
			return perr
		}
		practices, err = a.Practices.ListByState(ctx, s)
	}
	if err != nil {
		return err
	}
	return writeJSON(out, practices)
}

func runReport(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	at := fs.String("at", "", "reference date, YYYY-MM-DD; today when empty")
	program := fs.String("program", "", "restrict to one program name")
	fresh := fs.Bool("fresh", false, "bypass the report cache")
	if err := fs.Parse(args); err != nil {
		return err
	}

	q := query.DeadlineReportQuery{Program: *program, SkipCache: *fresh}
	if *at != "" {
		t, err := timeutil.ParseDate(*at, a.Config.App.Location)
		if err != nil {
			return fmt.Errorf("-at: %w", err)
		}
		q.At = t
	}

	res, err := a.DeadlineReport.Handle(ctx, q)
	if err != nil {
		return err
	}
	return writeJSON(out, res)
}

func runGradingConfig(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("grading-config", flag.ContinueOnError)
	employer := fs.Int("employer", -1, "employer weight in percent")
	report := fs.Int("report", -1, "report weight in percent")
	minPassing := fs.String("min-passing", "", "minimum passing grade")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *employer >= 0 || *report >= 0 || *minPassing != "" {
		current, err := a.Configs.ActiveGradingConfig(ctx)
		if err != nil {
			return err
		}
		if *employer >= 0 {
			current.EmployerWeight = *employer
		}
		if *report >= 0 {
			current.ReportWeight = *report
		}
		if *minPassing != "" {
			d, err := decimal.NewFromString(*minPassing)
			if err != nil {
				return fmt.Errorf("-min-passing: %w", err)
			}
			current.MinPassingGrade = d
		}
		if err := a.SetGradingConfig(ctx, current); err != nil {
			return err
		}
	}

	active, err := a.Configs.ActiveGradingConfig(ctx)
	if err != nil {
		return err
	}
	return writeJSON(out, gradingConfigView(active))
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func gradingConfigView(c practice.GradingConfig) map[string]any {
	return map[string]any{
		"employer_weight":   c.EmployerWeight,
		"report_weight":     c.ReportWeight,
		"min_passing_grade": c.MinPassingGrade.StringFixed(1),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
