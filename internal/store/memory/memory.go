// Package memory is an in-process Store implementation used by tests and
// by cmd/worker and cmd/submitjob when no database DSN is configured; it
// implements the same contract as
// store/postgres without a database.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/linkpellow/scrapegoat/internal/models"
	"github.com/linkpellow/scrapegoat/internal/store"
)

// Store is a mutex-guarded in-memory implementation of store.Store.
type Store struct {
	mu sync.Mutex

	jobs           map[uuid.UUID]*models.Job
	fieldMaps      map[uuid.UUID][]*models.FieldMap
	runs           map[uuid.UUID]*models.Run
	runEvents      map[uuid.UUID][]*models.RunEvent
	records        map[uuid.UUID][]*models.Record
	sessions       map[models.SessionKey]*models.SessionVault
	domainStats    map[string]*models.DomainStats
	domainConfigs  map[string]*models.DomainConfig
	interventions  map[uuid.UUID]*models.InterventionTask
	ruleCandidates map[uuid.UUID]*models.RuleCandidate
}

// New builds an empty in-memory Store.
func New() *Store {
	return &Store{
		jobs:           make(map[uuid.UUID]*models.Job),
		fieldMaps:      make(map[uuid.UUID][]*models.FieldMap),
		runs:           make(map[uuid.UUID]*models.Run),
		runEvents:      make(map[uuid.UUID][]*models.RunEvent),
		records:        make(map[uuid.UUID][]*models.Record),
		sessions:       make(map[models.SessionKey]*models.SessionVault),
		domainStats:    make(map[string]*models.DomainStats),
		domainConfigs:  make(map[string]*models.DomainConfig),
		interventions:  make(map[uuid.UUID]*models.InterventionTask),
		ruleCandidates: make(map[uuid.UUID]*models.RuleCandidate),
	}
}

// BeginTxx is unsupported: callers needing real transaction semantics
// should use store/postgres. PersistRecordsAndComplete below emulates the
// atomicity in-process instead.
func (s *Store) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return nil, fmt.Errorf("memory store: transactions are not supported, use PersistRecordsAndComplete")
}

// DefaultExec returns nil: every method on Store ignores its exec
// parameter and goes straight to the in-memory maps under s.mu.
func (s *Store) DefaultExec() store.Querier {
	return nil
}

func domainStatsKey(domain string, engine models.Engine) string {
	return domain + "|" + string(engine)
}

func (s *Store) CreateJob(ctx context.Context, exec store.Querier, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *Store) GetJob(ctx context.Context, exec store.Querier, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("memory store: job %s not found", id)
	}
	return job, nil
}

func (s *Store) GetFieldMapsForJob(ctx context.Context, exec store.Querier, jobID uuid.UUID) ([]*models.FieldMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fieldMaps[jobID], nil
}

func (s *Store) CreateFieldMapVersion(ctx context.Context, exec store.Querier, fm *models.FieldMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fieldMaps[fm.JobID] = append(s.fieldMaps[fm.JobID], fm)
	return nil
}

func (s *Store) CreateRun(ctx context.Context, exec store.Querier, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

func (s *Store) GetRun(ctx context.Context, exec store.Querier, id uuid.UUID) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("memory store: run %s not found", id)
	}
	return run, nil
}

func (s *Store) UpdateRunStatus(ctx context.Context, exec store.Querier, runID uuid.UUID, status models.RunStatus, failureKind *models.FailureKind, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("memory store: run %s not found", runID)
	}
	run.Status = status
	run.FailureKind = failureKind
	run.ErrorMessage = errMsg
	run.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) AppendEngineAttempts(ctx context.Context, exec store.Querier, runID uuid.UUID, attempts []models.EngineAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("memory store: run %s not found", runID)
	}
	run.EngineAttempts = append(run.EngineAttempts, attempts...)
	return nil
}

func (s *Store) CreateRunEvent(ctx context.Context, exec store.Querier, event *models.RunEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runEvents[event.RunID] = append(s.runEvents[event.RunID], event)
	return nil
}

func (s *Store) ListRunEvents(ctx context.Context, exec store.Querier, runID uuid.UUID) ([]*models.RunEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runEvents[runID], nil
}

func (s *Store) CreateRecords(ctx context.Context, exec store.Querier, records []*models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.records[r.RunID] = append(s.records[r.RunID], r)
	}
	return nil
}

func (s *Store) ListRecordsForRun(ctx context.Context, exec store.Querier, runID uuid.UUID) ([]*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[runID], nil
}

func (s *Store) CreateSessionVaultEntry(ctx context.Context, exec store.Querier, sv *models.SessionVault) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sv.Key] = sv
	return nil
}

func (s *Store) GetSessionVault(ctx context.Context, exec store.Querier, key models.SessionKey) (*models.SessionVault, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sv, ok := s.sessions[key]
	if !ok {
		return nil, nil
	}
	return sv, nil
}

func (s *Store) GetDomainStats(ctx context.Context, exec store.Querier, domain string, engine models.Engine) (*models.DomainStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats, ok := s.domainStats[domainStatsKey(domain, engine)]
	if !ok {
		return nil, nil
	}
	return stats, nil
}

func (s *Store) UpsertDomainStats(ctx context.Context, exec store.Querier, stats *models.DomainStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.domainStats[domainStatsKey(stats.Domain, stats.Engine)] = stats
	return nil
}

func (s *Store) GetDomainConfig(ctx context.Context, exec store.Querier, domain string) (*models.DomainConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.domainConfigs[domain]
	if !ok {
		return nil, nil
	}
	return cfg, nil
}

func (s *Store) UpsertDomainConfig(ctx context.Context, exec store.Querier, cfg *models.DomainConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.domainConfigs[cfg.Domain] = cfg
	return nil
}

func (s *Store) CreateInterventionTask(ctx context.Context, exec store.Querier, task *models.InterventionTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interventions[task.ID] = task
	if run, ok := s.runs[task.RunID]; ok {
		run.Status = models.RunStatusWaitingForHuman
	}
	return nil
}

func (s *Store) GetActiveInterventionForRun(ctx context.Context, exec store.Querier, runID uuid.UUID) (*models.InterventionTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.interventions {
		if t.RunID == runID && t.IsActive() {
			return t, nil
		}
	}
	return nil, nil
}

func (s *Store) UpdateInterventionStatus(ctx context.Context, exec store.Querier, taskID uuid.UUID, status models.InterventionStatusEnum, resolution map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.interventions[taskID]
	if !ok {
		return fmt.Errorf("memory store: intervention task %s not found", taskID)
	}
	task.Status = status
	task.Resolution = resolution
	task.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) ExpirePendingInterventions(ctx context.Context, exec store.Querier) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	var count int64
	for _, t := range s.interventions {
		if t.Status == models.InterventionStatusPending && t.ExpiresAt != nil && t.ExpiresAt.Before(now) {
			t.Status = models.InterventionStatusExpired
			count++
		}
	}
	return count, nil
}

func (s *Store) ListRuleCandidates(ctx context.Context, exec store.Querier, ruleType models.RuleCandidateTypeEnum, statuses []models.RuleCandidateStatusEnum) ([]*models.RuleCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[models.RuleCandidateStatusEnum]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}
	var out []*models.RuleCandidate
	for _, rc := range s.ruleCandidates {
		if rc.RuleType != ruleType {
			continue
		}
		if len(wanted) > 0 && !wanted[rc.Status] {
			continue
		}
		out = append(out, rc)
	}
	return out, nil
}

func (s *Store) CreateRuleCandidate(ctx context.Context, exec store.Querier, rc *models.RuleCandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ruleCandidates[rc.ID] = rc
	return nil
}

func (s *Store) UpdateRuleCandidate(ctx context.Context, exec store.Querier, rc *models.RuleCandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ruleCandidates[rc.ID]; !ok {
		return fmt.Errorf("memory store: rule candidate %s not found", rc.ID)
	}
	s.ruleCandidates[rc.ID] = rc
	return nil
}

// PersistRecordsAndComplete applies both writes under the single mutex,
// matching the atomicity the Postgres implementation gets from a real
// transaction.
func (s *Store) PersistRecordsAndComplete(ctx context.Context, runID uuid.UUID, records []*models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("memory store: run %s not found", runID)
	}
	for _, r := range records {
		s.records[r.RunID] = append(s.records[r.RunID], r)
	}
	run.Status = models.RunStatusCompleted
	run.UpdatedAt = time.Now().UTC()
	return nil
}
