// Package store defines the repository contract of §6: CRUD and status
// transitions for every entity in §3, with a transaction boundary around
// "persist records + mark run completed". Concrete implementations live
// in store/postgres (sqlx+lib/pq) and store/memory (a test double).
package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/linkpellow/scrapegoat/internal/models"
)

// Querier is satisfied by both *sqlx.DB and *sqlx.Tx, so repository
// methods can run standalone or inside a caller-managed transaction.
type Querier interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Transactor starts a transaction; only the Postgres store implements it
// meaningfully.
type Transactor interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// JobStore covers Job CRUD.
type JobStore interface {
	CreateJob(ctx context.Context, exec Querier, job *models.Job) error
	GetJob(ctx context.Context, exec Querier, id uuid.UUID) (*models.Job, error)
}

// FieldMapStore covers FieldMap CRUD and versioning.
type FieldMapStore interface {
	GetFieldMapsForJob(ctx context.Context, exec Querier, jobID uuid.UUID) ([]*models.FieldMap, error)
	CreateFieldMapVersion(ctx context.Context, exec Querier, fm *models.FieldMap) error
}

// RunStore covers Run CRUD and status transitions.
type RunStore interface {
	CreateRun(ctx context.Context, exec Querier, run *models.Run) error
	GetRun(ctx context.Context, exec Querier, id uuid.UUID) (*models.Run, error)
	UpdateRunStatus(ctx context.Context, exec Querier, runID uuid.UUID, status models.RunStatus, failureKind *models.FailureKind, errMsg string) error
	AppendEngineAttempts(ctx context.Context, exec Querier, runID uuid.UUID, attempts []models.EngineAttempt) error
}

// RunEventStore covers the append-only RunEvent log.
type RunEventStore interface {
	CreateRunEvent(ctx context.Context, exec Querier, event *models.RunEvent) error
	ListRunEvents(ctx context.Context, exec Querier, runID uuid.UUID) ([]*models.RunEvent, error)
}

// RecordStore covers extracted Records.
type RecordStore interface {
	CreateRecords(ctx context.Context, exec Querier, records []*models.Record) error
	ListRecordsForRun(ctx context.Context, exec Querier, runID uuid.UUID) ([]*models.Record, error)
}

// SessionVaultStore covers persisted sessions (the relational mirror of
// internal/sessionpool's disk files — see §6 persisted state layout).
type SessionVaultStore interface {
	CreateSessionVaultEntry(ctx context.Context, exec Querier, sv *models.SessionVault) error
	GetSessionVault(ctx context.Context, exec Querier, key models.SessionKey) (*models.SessionVault, error)
}

// DomainStatsStore covers C4's per-(domain, engine) counters.
type DomainStatsStore interface {
	GetDomainStats(ctx context.Context, exec Querier, domain string, engine models.Engine) (*models.DomainStats, error)
	UpsertDomainStats(ctx context.Context, exec Querier, stats *models.DomainStats) error
}

// DomainConfigStore covers the per-domain routing policy cache.
type DomainConfigStore interface {
	GetDomainConfig(ctx context.Context, exec Querier, domain string) (*models.DomainConfig, error)
	UpsertDomainConfig(ctx context.Context, exec Querier, cfg *models.DomainConfig) error
}

// InterventionTaskStore covers pause records.
type InterventionTaskStore interface {
	CreateInterventionTask(ctx context.Context, exec Querier, task *models.InterventionTask) error
	GetActiveInterventionForRun(ctx context.Context, exec Querier, runID uuid.UUID) (*models.InterventionTask, error)
	UpdateInterventionStatus(ctx context.Context, exec Querier, taskID uuid.UUID, status models.InterventionStatusEnum, resolution map[string]any) error
	ExpirePendingInterventions(ctx context.Context, exec Querier) (int64, error)
}

// RuleCandidateStore covers the HILR engine's learned-rule proposals
// (§4.6's third apply_resolution outcome).
type RuleCandidateStore interface {
	ListRuleCandidates(ctx context.Context, exec Querier, ruleType models.RuleCandidateTypeEnum, statuses []models.RuleCandidateStatusEnum) ([]*models.RuleCandidate, error)
	CreateRuleCandidate(ctx context.Context, exec Querier, rc *models.RuleCandidate) error
	UpdateRuleCandidate(ctx context.Context, exec Querier, rc *models.RuleCandidate) error
}

// Store is the full repository contract, plus the transaction wrapper
// required by §6 ("transactions must wrap 'persist records + mark run
// completed'").
type Store interface {
	Transactor
	JobStore
	FieldMapStore
	RunStore
	RunEventStore
	RecordStore
	SessionVaultStore
	DomainStatsStore
	DomainConfigStore
	InterventionTaskStore
	RuleCandidateStore

	// PersistRecordsAndComplete runs both writes in one transaction: the
	// extracted Records and the Run's transition to completed succeed or
	// fail together.
	PersistRecordsAndComplete(ctx context.Context, runID uuid.UUID, records []*models.Record) error

	// DefaultExec returns the Querier callers outside a transaction
	// should pass to the methods above (the underlying *sqlx.DB for
	// store/postgres; ignored, so nil, for store/memory).
	DefaultExec() Querier
}
