package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(context.Background(), filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndGet(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	run := Run{
		ID:         uuid.NewString(),
		Index:      "places",
		Source:     "data.csv",
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
		Attempted:  3,
		Indexed:    1,
		Failed:     2,
		Status:     StatusCompleted,
		Failures: []RowFailure{
			{Row: 3, Line: 4, StatusCode: 400, Response: `{"error":"mapper_parsing_exception"}`},
			{Row: 1, Line: 2, StatusCode: 500, Response: `{"error":"boom"}`},
		},
	}
	require.NoError(t, j.Record(ctx, run))

	got, err := j.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "places", got.Index)
	assert.Equal(t, "data.csv", got.Source)
	assert.True(t, started.Equal(got.StartedAt), "started_at %v", got.StartedAt)
	assert.True(t, run.FinishedAt.Equal(got.FinishedAt), "finished_at %v", got.FinishedAt)
	assert.Equal(t, 3, got.Attempted)
	assert.Equal(t, 1, got.Indexed)
	assert.Equal(t, 2, got.Failed)
	assert.Equal(t, StatusCompleted, got.Status)

	require.Len(t, got.Failures, 2)
	assert.Equal(t, 1, got.Failures[0].Row)
	assert.Equal(t, 500, got.Failures[0].StatusCode)
	assert.Equal(t, 3, got.Failures[1].Row)
	assert.Equal(t, 4, got.Failures[1].Line)
}

func TestRecordFailedRun(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	run := Run{
		ID: uuid.NewString(), Index: "places", Source: "s3://bucket/data.csv",
		StartedAt: now, FinishedAt: now, Status: StatusFailed,
		Error: "index creation failed: creating index places [400] exists",
	}
	require.NoError(t, j.Record(ctx, run))

	got, err := j.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, run.Error, got.Error)
	assert.Empty(t, got.Failures)
}

func TestRecordDuplicateIDFails(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	run := Run{ID: "run-1", Index: "i", Source: "s", StartedAt: time.Now(), FinishedAt: time.Now(), Status: StatusCompleted}
	require.NoError(t, j.Record(ctx, run))
	assert.Error(t, j.Record(ctx, run))
}

func TestReopenKeepsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()

	j, err := Open(ctx, path)
	require.NoError(t, err)
	run := Run{ID: "run-1", Index: "i", Source: "s", StartedAt: time.Now(), FinishedAt: time.Now(), Status: StatusCompleted}
	require.NoError(t, j.Record(ctx, run))
	require.NoError(t, j.Close())

	j, err = Open(ctx, path)
	require.NoError(t, err)
	defer j.Close()
	_, err = j.Get(ctx, "run-1")
	assert.NoError(t, err)
}

func TestDriverFor(t *testing.T) {
	assert.Equal(t, "postgres", driverFor("postgres://loader@localhost/runs?sslmode=disable"))
	assert.Equal(t, "postgres", driverFor("postgresql://localhost/runs"))
	assert.Equal(t, "sqlite", driverFor("/var/lib/csvloader/runs.db"))
}

func TestRebind(t *testing.T) {
	pg := &Journal{driver: "postgres"}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	lite := &Journal{driver: "sqlite"}
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}
