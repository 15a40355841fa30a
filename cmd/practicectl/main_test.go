package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/practicas/practice-hub/internal/domain/shared"
)

func memoryEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DOTENV_PATH", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_DISABLED", "true")
	t.Setenv("EVENTS_BACKEND", "memory")
	t.Setenv("EVENTS_ASYNC", "false")
	t.Setenv("APP_ENV", "development")
	t.Setenv("APP_TIMEZONE", "UTC")
}

func TestRun_Create(t *testing.T) {
	memoryEnv(t)
	var out bytes.Buffer

	err := run(context.Background(), []string{
		"create",
		"-type", "LABOR",
		"-student", "student-1",
		"-program", "ICI",
		"-program-name", "Ingeniería Civil Industrial",
		"-start", "2025-03-01",
		"-end", "2025-06-30",
	}, &out)
	require.NoError(t, err)

	var got struct {
		ID      string
		State   string
		Version int
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "PENDING", got.State)
}

func TestRun_CreateRejectsBadDates(t *testing.T) {
	memoryEnv(t)
	err := run(context.Background(), []string{"create", "-type", "LABOR", "-start", "March"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestRun_GradingConfig(t *testing.T) {
	memoryEnv(t)
	var out bytes.Buffer

	require.NoError(t, run(context.Background(), []string{"grading-config", "-employer", "70", "-report", "30"}, &out))

	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.EqualValues(t, 70, got["employer_weight"])
	assert.EqualValues(t, 30, got["report_weight"])
	assert.Equal(t, "4.0", got["min_passing_grade"])

	err := run(context.Background(), []string{"grading-config", "-employer", "70"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestRun_Report(t *testing.T) {
	memoryEnv(t)
	var out bytes.Buffer

	require.NoError(t, run(context.Background(), []string{"report", "-at", "2025-09-15", "-fresh"}, &out))
	assert.Contains(t, out.String(), "Report")
}

func TestRun_MigrateNeedsPostgres(t *testing.T) {
	memoryEnv(t)
	err := run(context.Background(), []string{"migrate", "status"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestRun_Usage(t *testing.T) {
	assert.ErrorIs(t, run(context.Background(), nil, &bytes.Buffer{}), errUsage)

	memoryEnv(t)
	assert.ErrorIs(t, run(context.Background(), []string{"frobnicate"}, &bytes.Buffer{}), errUsage)
}

func TestRun_DetailSubcommandsReachHandlers(t *testing.T) {
	memoryEnv(t)
	ctx := context.Background()

	err := run(ctx, []string{"attach-report", "-id", "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d", "-doc", "reports/final.pdf"}, &bytes.Buffer{})
	assert.ErrorIs(t, err, shared.ErrNotFound)

	err = run(ctx, []string{"assign-instructor", "-id", "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d"}, &bytes.Buffer{})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestRun_List(t *testing.T) {
	memoryEnv(t)
	var out bytes.Buffer

	require.NoError(t, run(context.Background(), []string{"list", "-state", "PENDING"}, &out))
	assert.JSONEq(t, "[]", out.String())

	err := run(context.Background(), []string{"list", "-state", "ARCHIVED"}, &bytes.Buffer{})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}
