package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/linkpellow/scrapegoat/internal/models"
	"github.com/linkpellow/scrapegoat/internal/store"
)

func connectTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN environment variable not set, skipping Postgres store tests")
	}
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPostgresStore_CreateAndGetJob(t *testing.T) {
	db := connectTestDB(t)
	repo := New(db)
	ctx := context.Background()

	job := &models.Job{
		ID:        uuid.New(),
		TargetURL: "https://example.com/profile",
		Fields:    []string{"name", "email"},
		CrawlMode: models.CrawlModeSingle,
		EngineMode: models.EngineModeAuto,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.CreateJob(ctx, db, job))

	got, err := repo.GetJob(ctx, db, job.ID)
	require.NoError(t, err)
	require.Equal(t, job.TargetURL, got.TargetURL)
	require.Equal(t, job.Fields, got.Fields)
}

func TestPostgresStore_GetJobNotFound(t *testing.T) {
	db := connectTestDB(t)
	repo := New(db)
	_, err := repo.GetJob(context.Background(), db, uuid.New())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestPostgresStore_PersistRecordsAndComplete(t *testing.T) {
	db := connectTestDB(t)
	repo := New(db)
	ctx := context.Background()

	job := &models.Job{ID: uuid.New(), TargetURL: "https://example.com", CrawlMode: models.CrawlModeSingle, EngineMode: models.EngineModeAuto, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	require.NoError(t, repo.CreateJob(ctx, db, job))

	run := &models.Run{ID: uuid.New(), JobID: job.ID, RequestedStrategy: models.EngineModeAuto, ResolvedStrategy: models.EngineHTTP, Attempt: 1, MaxAttempts: 3, Status: models.RunStatusRunning, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	require.NoError(t, repo.CreateRun(ctx, db, run))

	records := []*models.Record{{ID: uuid.New(), RunID: run.ID, Fields: map[string]models.FieldResult{"name": {FieldName: "name", Value: "Jane Doe", Confidence: 0.95}}, CreatedAt: time.Now().UTC()}}
	require.NoError(t, repo.PersistRecordsAndComplete(ctx, run.ID, records))

	got, err := repo.GetRun(ctx, db, run.ID)
	require.NoError(t, err)
	require.Equal(t, models.RunStatusCompleted, got.Status)

	stored, err := repo.ListRecordsForRun(ctx, db, run.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestPostgresStore_InterventionLifecycle(t *testing.T) {
	db := connectTestDB(t)
	repo := New(db)
	ctx := context.Background()

	job := &models.Job{ID: uuid.New(), TargetURL: "https://example.com", CrawlMode: models.CrawlModeSingle, EngineMode: models.EngineModeAuto, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	require.NoError(t, repo.CreateJob(ctx, db, job))
	run := &models.Run{ID: uuid.New(), JobID: job.ID, RequestedStrategy: models.EngineModeAuto, ResolvedStrategy: models.EngineHTTP, Attempt: 1, MaxAttempts: 3, Status: models.RunStatusRunning, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	require.NoError(t, repo.CreateRun(ctx, db, run))

	task := &models.InterventionTask{
		ID: uuid.New(), RunID: run.ID, Kind: models.InterventionSelectorFix, Status: models.InterventionStatusPending,
		TriggerReason: "selector_drift", Priority: models.PriorityNormal, Payload: map[string]any{"field_name": "email"},
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.CreateInterventionTask(ctx, db, task))

	run2, err := repo.GetRun(ctx, db, run.ID)
	require.NoError(t, err)
	require.Equal(t, models.RunStatusWaitingForHuman, run2.Status)

	active, err := repo.GetActiveInterventionForRun(ctx, db, run.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	require.Equal(t, models.InterventionSelectorFix, active.Kind)

	require.NoError(t, repo.UpdateInterventionStatus(ctx, db, task.ID, models.InterventionStatusCompleted, map[string]any{"resolved_by": "human:test"}))
	none, err := repo.GetActiveInterventionForRun(ctx, db, run.ID)
	require.NoError(t, err)
	require.Nil(t, none)
}
