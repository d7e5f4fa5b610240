// Package postgres is the concrete Store implementation behind
// sqlx+lib/pq, matching the relational schema of §3/§6 (indexes on
// Run.status, InterventionTask.status, and (DomainStats.domain,
// DomainStats.engine)).
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/linkpellow/scrapegoat/internal/models"
	"github.com/linkpellow/scrapegoat/internal/store"
)

// Postgres implements store.Store.
type Postgres struct {
	db *sqlx.DB
}

// New wraps an already-opened *sqlx.DB (driver "postgres", via lib/pq).
func New(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return p.db.BeginTxx(ctx, opts)
}

// DefaultExec returns the wrapped *sqlx.DB, which satisfies store.Querier
// directly; callers outside an explicit transaction pass this.
func (p *Postgres) DefaultExec() store.Querier {
	return p.db
}

func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23505"
}

// --- Jobs -------------------------------------------------------------

func (p *Postgres) CreateJob(ctx context.Context, exec store.Querier, job *models.Job) error {
	fields, err := json.Marshal(job.Fields)
	if err != nil {
		return fmt.Errorf("postgres: marshal job fields: %w", err)
	}
	listConfig, err := json.Marshal(job.ListConfig)
	if err != nil {
		return fmt.Errorf("postgres: marshal list config: %w", err)
	}
	profile, err := json.Marshal(job.Profile)
	if err != nil {
		return fmt.Errorf("postgres: marshal browser profile: %w", err)
	}
	query := `INSERT INTO jobs (id, target_url, fields, requires_auth, crawl_mode, list_config, engine_mode, browser_profile, created_at, updated_at)
		VALUES (:id, :target_url, :fields, :requires_auth, :crawl_mode, :list_config, :engine_mode, :browser_profile, :created_at, :updated_at)`
	_, err = exec.NamedExecContext(ctx, query, map[string]any{
		"id": job.ID, "target_url": job.TargetURL, "fields": fields, "requires_auth": job.RequiresAuth,
		"crawl_mode": job.CrawlMode, "list_config": listConfig, "engine_mode": job.EngineMode,
		"browser_profile": profile, "created_at": job.CreatedAt, "updated_at": job.UpdatedAt,
	})
	if isUniqueViolation(err) {
		return store.ErrDuplicateEntry
	}
	return err
}

type jobRow struct {
	ID           uuid.UUID       `db:"id"`
	TargetURL    string          `db:"target_url"`
	Fields       json.RawMessage `db:"fields"`
	RequiresAuth bool            `db:"requires_auth"`
	CrawlMode    string          `db:"crawl_mode"`
	ListConfig   json.RawMessage `db:"list_config"`
	EngineMode   string          `db:"engine_mode"`
	Profile      json.RawMessage `db:"browser_profile"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

func (p *Postgres) GetJob(ctx context.Context, exec store.Querier, id uuid.UUID) (*models.Job, error) {
	var row jobRow
	err := exec.GetContext(ctx, &row, `SELECT id, target_url, fields, requires_auth, crawl_mode, list_config, engine_mode, browser_profile, created_at, updated_at FROM jobs WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get job %s: %w", id, err)
	}
	job := &models.Job{ID: row.ID, TargetURL: row.TargetURL, RequiresAuth: row.RequiresAuth, CrawlMode: models.CrawlModeEnum(row.CrawlMode), EngineMode: models.EngineModeEnum(row.EngineMode)}
	_ = json.Unmarshal(row.Fields, &job.Fields)
	_ = json.Unmarshal(row.ListConfig, &job.ListConfig)
	_ = json.Unmarshal(row.Profile, &job.Profile)
	return job, nil
}

// --- FieldMaps ----------------------------------------------------------

func (p *Postgres) GetFieldMapsForJob(ctx context.Context, exec store.Querier, jobID uuid.UUID) ([]*models.FieldMap, error) {
	var rows []struct {
		ID              uuid.UUID `db:"id"`
		JobID           uuid.UUID `db:"job_id"`
		FieldName       string    `db:"field_name"`
		Selector        string    `db:"selector"`
		FieldType       string    `db:"field_type"`
		SelectorVersion int       `db:"selector_version"`
		SmartConfig     json.RawMessage `db:"smart_config"`
		ValidationRules json.RawMessage `db:"validation_rules"`
		SelectorHistory json.RawMessage `db:"selector_history"`
	}
	err := exec.SelectContext(ctx, &rows, `SELECT id, job_id, field_name, selector, field_type, selector_version, smart_config, validation_rules, selector_history FROM field_maps WHERE job_id = $1 ORDER BY field_name`, jobID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list field maps for job %s: %w", jobID, err)
	}
	fieldMaps := make([]*models.FieldMap, 0, len(rows))
	for _, r := range rows {
		fm := &models.FieldMap{ID: r.ID, JobID: r.JobID, FieldName: r.FieldName, Selector: r.Selector, FieldType: r.FieldType, SelectorVersion: r.SelectorVersion}
		_ = json.Unmarshal(r.SmartConfig, &fm.SmartConfig)
		_ = json.Unmarshal(r.ValidationRules, &fm.ValidationRules)
		_ = json.Unmarshal(r.SelectorHistory, &fm.SelectorHistory)
		fieldMaps = append(fieldMaps, fm)
	}
	return fieldMaps, nil
}

func (p *Postgres) CreateFieldMapVersion(ctx context.Context, exec store.Querier, fm *models.FieldMap) error {
	smartConfig, _ := json.Marshal(fm.SmartConfig)
	validationRules, _ := json.Marshal(fm.ValidationRules)
	history, _ := json.Marshal(fm.SelectorHistory)
	query := `INSERT INTO field_maps (id, job_id, field_name, selector, field_type, selector_version, smart_config, validation_rules, selector_history)
		VALUES (:id, :job_id, :field_name, :selector, :field_type, :selector_version, :smart_config, :validation_rules, :selector_history)`
	_, err := exec.NamedExecContext(ctx, query, map[string]any{
		"id": fm.ID, "job_id": fm.JobID, "field_name": fm.FieldName, "selector": fm.Selector, "field_type": fm.FieldType,
		"selector_version": fm.SelectorVersion, "smart_config": smartConfig, "validation_rules": validationRules, "selector_history": history,
	})
	if err != nil {
		return fmt.Errorf("postgres: create field map version for job %s field %s: %w", fm.JobID, fm.FieldName, err)
	}
	return nil
}

// --- Runs ----------------------------------------------------------------

func (p *Postgres) CreateRun(ctx context.Context, exec store.Querier, run *models.Run) error {
	query := `INSERT INTO runs (id, job_id, requested_strategy, resolved_strategy, attempt, max_attempts, status, created_at, updated_at)
		VALUES (:id, :job_id, :requested_strategy, :resolved_strategy, :attempt, :max_attempts, :status, :created_at, :updated_at)`
	_, err := exec.NamedExecContext(ctx, query, map[string]any{
		"id": run.ID, "job_id": run.JobID, "requested_strategy": run.RequestedStrategy, "resolved_strategy": run.ResolvedStrategy,
		"attempt": run.Attempt, "max_attempts": run.MaxAttempts, "status": run.Status, "created_at": run.CreatedAt, "updated_at": run.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("postgres: create run %s: %w", run.ID, err)
	}
	return nil
}

func (p *Postgres) GetRun(ctx context.Context, exec store.Querier, id uuid.UUID) (*models.Run, error) {
	run := &models.Run{}
	err := exec.GetContext(ctx, run, `SELECT id, job_id, requested_strategy, resolved_strategy, attempt, max_attempts, status, failure_kind, error_message, created_at, updated_at FROM runs WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get run %s: %w", id, err)
	}
	return run, nil
}

func (p *Postgres) UpdateRunStatus(ctx context.Context, exec store.Querier, runID uuid.UUID, status models.RunStatus, failureKind *models.FailureKind, errMsg string) error {
	result, err := exec.ExecContext(ctx, `UPDATE runs SET status = $1, failure_kind = $2, error_message = $3, updated_at = now() WHERE id = $4`, status, failureKind, errMsg, runID)
	if err != nil {
		return fmt.Errorf("postgres: update run status for %s: %w", runID, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (p *Postgres) AppendEngineAttempts(ctx context.Context, exec store.Querier, runID uuid.UUID, attempts []models.EngineAttempt) error {
	for _, a := range attempts {
		meta, _ := json.Marshal(a.Meta)
		signals, _ := json.Marshal(a.Signals)
		_, err := exec.ExecContext(ctx,
			`INSERT INTO run_engine_attempts (run_id, engine, status, signals, decision, success, meta, timestamp) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			runID, a.Engine, a.Status, signals, a.Decision, a.Success, meta, a.Timestamp)
		if err != nil {
			return fmt.Errorf("postgres: append engine attempt for run %s: %w", runID, err)
		}
	}
	return nil
}

// --- RunEvents -------------------------------------------------------------

func (p *Postgres) CreateRunEvent(ctx context.Context, exec store.Querier, event *models.RunEvent) error {
	meta, _ := json.Marshal(event.Meta)
	_, err := exec.ExecContext(ctx, `INSERT INTO run_events (id, run_id, level, message, meta, timestamp) VALUES ($1,$2,$3,$4,$5,$6)`,
		event.ID, event.RunID, event.Level, event.Message, meta, event.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: create run event for run %s: %w", event.RunID, err)
	}
	return nil
}

func (p *Postgres) ListRunEvents(ctx context.Context, exec store.Querier, runID uuid.UUID) ([]*models.RunEvent, error) {
	var events []*models.RunEvent
	err := exec.SelectContext(ctx, &events, `SELECT id, run_id, level, message, timestamp FROM run_events WHERE run_id = $1 ORDER BY timestamp ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list run events for run %s: %w", runID, err)
	}
	return events, nil
}

// --- Records ---------------------------------------------------------------

func (p *Postgres) CreateRecords(ctx context.Context, exec store.Querier, records []*models.Record) error {
	for _, r := range records {
		fields, err := json.Marshal(r.Fields)
		if err != nil {
			return fmt.Errorf("postgres: marshal record fields for run %s: %w", r.RunID, err)
		}
		if _, err := exec.ExecContext(ctx, `INSERT INTO records (id, run_id, fields, created_at) VALUES ($1,$2,$3,$4)`, r.ID, r.RunID, fields, r.CreatedAt); err != nil {
			return fmt.Errorf("postgres: create record for run %s: %w", r.RunID, err)
		}
	}
	return nil
}

func (p *Postgres) ListRecordsForRun(ctx context.Context, exec store.Querier, runID uuid.UUID) ([]*models.Record, error) {
	var rows []struct {
		ID        uuid.UUID       `db:"id"`
		RunID     uuid.UUID       `db:"run_id"`
		Fields    json.RawMessage `db:"fields"`
		CreatedAt time.Time       `db:"created_at"`
	}
	if err := exec.SelectContext(ctx, &rows, `SELECT id, run_id, fields, created_at FROM records WHERE run_id = $1`, runID); err != nil {
		return nil, fmt.Errorf("postgres: list records for run %s: %w", runID, err)
	}
	records := make([]*models.Record, 0, len(rows))
	for _, row := range rows {
		rec := &models.Record{ID: row.ID, RunID: row.RunID}
		_ = json.Unmarshal(row.Fields, &rec.Fields)
		records = append(records, rec)
	}
	return records, nil
}

// --- SessionVaults -------------------------------------------------------

func (p *Postgres) CreateSessionVaultEntry(ctx context.Context, exec store.Querier, sv *models.SessionVault) error {
	extra, _ := json.Marshal(sv.Extra)
	query := `INSERT INTO session_vaults (domain, proxy_identity, cookies, storage_state, user_agent, viewport, first_seen, last_success, total_uses, failure_streak, captcha_count, extra)
		VALUES (:domain, :proxy_identity, :cookies, :storage_state, :user_agent, :viewport, :first_seen, :last_success, :total_uses, :failure_streak, :captcha_count, :extra)
		ON CONFLICT (domain, proxy_identity) DO UPDATE SET cookies = EXCLUDED.cookies, storage_state = EXCLUDED.storage_state, user_agent = EXCLUDED.user_agent, viewport = EXCLUDED.viewport`
	_, err := exec.NamedExecContext(ctx, query, map[string]any{
		"domain": sv.Key.Domain, "proxy_identity": sv.Key.ProxyIdentity, "cookies": sv.Cookies, "storage_state": sv.StorageState,
		"user_agent": sv.UserAgent, "viewport": sv.Viewport, "first_seen": sv.FirstSeen, "last_success": sv.LastSuccess,
		"total_uses": sv.TotalUses, "failure_streak": sv.FailureStreak, "captcha_count": sv.CaptchaCount, "extra": extra,
	})
	if err != nil {
		return fmt.Errorf("postgres: upsert session vault for %s/%s: %w", sv.Key.Domain, sv.Key.ProxyIdentity, err)
	}
	return nil
}

func (p *Postgres) GetSessionVault(ctx context.Context, exec store.Querier, key models.SessionKey) (*models.SessionVault, error) {
	var row struct {
		Cookies       []byte    `db:"cookies"`
		StorageState  []byte    `db:"storage_state"`
		UserAgent     string    `db:"user_agent"`
		Viewport      string    `db:"viewport"`
		FirstSeen     time.Time `db:"first_seen"`
		LastSuccess   time.Time `db:"last_success"`
		TotalUses     int       `db:"total_uses"`
		FailureStreak int       `db:"failure_streak"`
		CaptchaCount  int       `db:"captcha_count"`
		Extra         json.RawMessage `db:"extra"`
	}
	err := exec.GetContext(ctx, &row, `SELECT cookies, storage_state, user_agent, viewport, first_seen, last_success, total_uses, failure_streak, captcha_count, extra FROM session_vaults WHERE domain = $1 AND proxy_identity = $2`, key.Domain, key.ProxyIdentity)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get session vault for %s/%s: %w", key.Domain, key.ProxyIdentity, err)
	}
	sv := &models.SessionVault{
		Key: key, Cookies: row.Cookies, StorageState: row.StorageState, UserAgent: row.UserAgent, Viewport: row.Viewport,
		FirstSeen: row.FirstSeen, LastSuccess: row.LastSuccess, TotalUses: row.TotalUses, FailureStreak: row.FailureStreak, CaptchaCount: row.CaptchaCount,
	}
	_ = json.Unmarshal(row.Extra, &sv.Extra)
	return sv, nil
}

// --- DomainStats -----------------------------------------------------------

func (p *Postgres) GetDomainStats(ctx context.Context, exec store.Querier, domain string, engine models.Engine) (*models.DomainStats, error) {
	stats := &models.DomainStats{}
	err := exec.GetContext(ctx, stats, `SELECT domain, engine, total_attempts, successful_attempts, failed_attempts, success_rate, avg_escalations, total_records, avg_cost_per_record, first_seen, last_updated FROM domain_stats WHERE domain = $1 AND engine = $2`, domain, engine)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get domain stats for %s/%s: %w", domain, engine, err)
	}
	return stats, nil
}

func (p *Postgres) UpsertDomainStats(ctx context.Context, exec store.Querier, stats *models.DomainStats) error {
	query := `INSERT INTO domain_stats (domain, engine, total_attempts, successful_attempts, failed_attempts, success_rate, avg_escalations, total_records, avg_cost_per_record, first_seen, last_updated)
		VALUES (:domain, :engine, :total_attempts, :successful_attempts, :failed_attempts, :success_rate, :avg_escalations, :total_records, :avg_cost_per_record, :first_seen, :last_updated)
		ON CONFLICT (domain, engine) DO UPDATE SET total_attempts = EXCLUDED.total_attempts, successful_attempts = EXCLUDED.successful_attempts,
			failed_attempts = EXCLUDED.failed_attempts, success_rate = EXCLUDED.success_rate, avg_escalations = EXCLUDED.avg_escalations,
			total_records = EXCLUDED.total_records, avg_cost_per_record = EXCLUDED.avg_cost_per_record, last_updated = EXCLUDED.last_updated`
	_, err := exec.NamedExecContext(ctx, query, stats)
	if err != nil {
		return fmt.Errorf("postgres: upsert domain stats for %s/%s: %w", stats.Domain, stats.Engine, err)
	}
	return nil
}

// --- DomainConfigs ---------------------------------------------------------

func (p *Postgres) GetDomainConfig(ctx context.Context, exec store.Querier, domain string) (*models.DomainConfig, error) {
	var row struct {
		Domain             string          `db:"domain"`
		AccessClass        string          `db:"access_class"`
		SessionRequirement string          `db:"session_requirement"`
		Rolling403Rate     float64         `db:"rolling_403_rate"`
		RollingCaptchaRate float64         `db:"rolling_captcha_rate"`
		PreferredProvider  string          `db:"preferred_provider"`
		EngineStats        json.RawMessage `db:"engine_stats"`
	}
	err := exec.GetContext(ctx, &row, `SELECT domain, access_class, session_requirement, rolling_403_rate, rolling_captcha_rate, preferred_provider, engine_stats FROM domain_configs WHERE domain = $1`, domain)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get domain config for %s: %w", domain, err)
	}
	cfg := &models.DomainConfig{
		Domain: row.Domain, AccessClass: models.AccessClassEnum(row.AccessClass), SessionRequirement: models.SessionRequirementEnum(row.SessionRequirement),
		Rolling403Rate: row.Rolling403Rate, RollingCaptchaRate: row.RollingCaptchaRate, PreferredProvider: row.PreferredProvider,
	}
	_ = json.Unmarshal(row.EngineStats, &cfg.EngineStats)
	return cfg, nil
}

func (p *Postgres) UpsertDomainConfig(ctx context.Context, exec store.Querier, cfg *models.DomainConfig) error {
	engineStats, _ := json.Marshal(cfg.EngineStats)
	query := `INSERT INTO domain_configs (domain, access_class, session_requirement, rolling_403_rate, rolling_captcha_rate, preferred_provider, engine_stats, updated_at)
		VALUES (:domain, :access_class, :session_requirement, :rolling_403_rate, :rolling_captcha_rate, :preferred_provider, :engine_stats, :updated_at)
		ON CONFLICT (domain) DO UPDATE SET access_class = EXCLUDED.access_class, session_requirement = EXCLUDED.session_requirement,
			rolling_403_rate = EXCLUDED.rolling_403_rate, rolling_captcha_rate = EXCLUDED.rolling_captcha_rate,
			preferred_provider = EXCLUDED.preferred_provider, engine_stats = EXCLUDED.engine_stats, updated_at = EXCLUDED.updated_at`
	_, err := exec.NamedExecContext(ctx, query, map[string]any{
		"domain": cfg.Domain, "access_class": cfg.AccessClass, "session_requirement": cfg.SessionRequirement,
		"rolling_403_rate": cfg.Rolling403Rate, "rolling_captcha_rate": cfg.RollingCaptchaRate, "preferred_provider": cfg.PreferredProvider,
		"engine_stats": engineStats, "updated_at": cfg.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("postgres: upsert domain config for %s: %w", cfg.Domain, err)
	}
	return nil
}

// --- InterventionTasks -----------------------------------------------------

func (p *Postgres) CreateInterventionTask(ctx context.Context, exec store.Querier, task *models.InterventionTask) error {
	payload, _ := json.Marshal(task.Payload)
	query := `INSERT INTO intervention_tasks (id, run_id, kind, status, trigger_reason, priority, payload, expires_at, created_at, updated_at)
		VALUES (:id, :run_id, :kind, :status, :trigger_reason, :priority, :payload, :expires_at, :created_at, :updated_at)`
	_, err := exec.NamedExecContext(ctx, query, map[string]any{
		"id": task.ID, "run_id": task.RunID, "kind": task.Kind, "status": task.Status, "trigger_reason": task.TriggerReason,
		"priority": task.Priority, "payload": payload, "expires_at": task.ExpiresAt, "created_at": task.CreatedAt, "updated_at": task.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("postgres: create intervention task for run %s: %w", task.RunID, err)
	}
	if _, err := exec.ExecContext(ctx, `UPDATE runs SET status = $1, updated_at = now() WHERE id = $2`, models.RunStatusWaitingForHuman, task.RunID); err != nil {
		return fmt.Errorf("postgres: transition run %s to waiting_for_human: %w", task.RunID, err)
	}
	return nil
}

func (p *Postgres) GetActiveInterventionForRun(ctx context.Context, exec store.Querier, runID uuid.UUID) (*models.InterventionTask, error) {
	var row struct {
		ID            uuid.UUID       `db:"id"`
		RunID         uuid.UUID       `db:"run_id"`
		Kind          string          `db:"kind"`
		Status        string          `db:"status"`
		TriggerReason string          `db:"trigger_reason"`
		Priority      string          `db:"priority"`
		Payload       json.RawMessage `db:"payload"`
	}
	err := exec.GetContext(ctx, &row, `SELECT id, run_id, kind, status, trigger_reason, priority, payload FROM intervention_tasks WHERE run_id = $1 AND status IN ('pending','in_progress') LIMIT 1`, runID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get active intervention for run %s: %w", runID, err)
	}
	task := &models.InterventionTask{ID: row.ID, RunID: row.RunID, Kind: models.InterventionKindEnum(row.Kind), Status: models.InterventionStatusEnum(row.Status), TriggerReason: row.TriggerReason, Priority: models.PriorityEnum(row.Priority)}
	_ = json.Unmarshal(row.Payload, &task.Payload)
	return task, nil
}

func (p *Postgres) UpdateInterventionStatus(ctx context.Context, exec store.Querier, taskID uuid.UUID, status models.InterventionStatusEnum, resolution map[string]any) error {
	resolutionJSON, _ := json.Marshal(resolution)
	result, err := exec.ExecContext(ctx, `UPDATE intervention_tasks SET status = $1, resolution = $2, updated_at = now() WHERE id = $3`, status, resolutionJSON, taskID)
	if err != nil {
		return fmt.Errorf("postgres: update intervention status for %s: %w", taskID, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (p *Postgres) ExpirePendingInterventions(ctx context.Context, exec store.Querier) (int64, error) {
	result, err := exec.ExecContext(ctx, `UPDATE intervention_tasks SET status = 'expired', updated_at = now() WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("postgres: expire pending interventions: %w", err)
	}
	return result.RowsAffected()
}

// --- RuleCandidates ---------------------------------------------------------

func (p *Postgres) ListRuleCandidates(ctx context.Context, exec store.Querier, ruleType models.RuleCandidateTypeEnum, statuses []models.RuleCandidateStatusEnum) ([]*models.RuleCandidate, error) {
	statusStrs := make([]string, len(statuses))
	for i, s := range statuses {
		statusStrs[i] = string(s)
	}
	var rows []struct {
		ID                    uuid.UUID       `db:"id"`
		RuleType              string          `db:"rule_type"`
		FieldType             string          `db:"field_type"`
		TriggerPattern        json.RawMessage `db:"trigger_pattern"`
		ProposedRule          json.RawMessage `db:"proposed_rule"`
		SupportingEvidence    json.RawMessage `db:"supporting_evidence"`
		Confidence            float64         `db:"confidence"`
		Confirmations         int             `db:"confirmations"`
		RequiredConfirmations int             `db:"required_confirmations"`
		Status                string          `db:"status"`
		ApplyScope            string          `db:"apply_scope"`
		ScopeFilter           json.RawMessage `db:"scope_filter"`
		ApprovedBy            string          `db:"approved_by"`
		ApprovedAt            *time.Time      `db:"approved_at"`
		AppliedAt             *time.Time      `db:"applied_at"`
		CreatedAt             time.Time       `db:"created_at"`
		UpdatedAt             time.Time       `db:"updated_at"`
	}
	query := `SELECT id, rule_type, field_type, trigger_pattern, proposed_rule, supporting_evidence, confidence, confirmations, required_confirmations, status, apply_scope, scope_filter, approved_by, approved_at, applied_at, created_at, updated_at
		FROM rule_candidates WHERE rule_type = $1 AND status = ANY($2) ORDER BY created_at`
	if err := exec.SelectContext(ctx, &rows, query, ruleType, pq.Array(statusStrs)); err != nil {
		return nil, fmt.Errorf("postgres: list rule candidates for type %s: %w", ruleType, err)
	}
	candidates := make([]*models.RuleCandidate, 0, len(rows))
	for _, r := range rows {
		rc := &models.RuleCandidate{
			ID: r.ID, RuleType: models.RuleCandidateTypeEnum(r.RuleType), FieldType: r.FieldType,
			Confidence: r.Confidence, Confirmations: r.Confirmations, RequiredConfirmations: r.RequiredConfirmations,
			Status: models.RuleCandidateStatusEnum(r.Status), ApplyScope: models.RuleCandidateApplyScope(r.ApplyScope),
			ApprovedBy: r.ApprovedBy, ApprovedAt: r.ApprovedAt, AppliedAt: r.AppliedAt, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
		}
		_ = json.Unmarshal(r.TriggerPattern, &rc.TriggerPattern)
		_ = json.Unmarshal(r.ProposedRule, &rc.ProposedRule)
		_ = json.Unmarshal(r.SupportingEvidence, &rc.SupportingEvidence)
		_ = json.Unmarshal(r.ScopeFilter, &rc.ScopeFilter)
		candidates = append(candidates, rc)
	}
	return candidates, nil
}

func (p *Postgres) CreateRuleCandidate(ctx context.Context, exec store.Querier, rc *models.RuleCandidate) error {
	triggerPattern, _ := json.Marshal(rc.TriggerPattern)
	proposedRule, _ := json.Marshal(rc.ProposedRule)
	supportingEvidence, _ := json.Marshal(rc.SupportingEvidence)
	scopeFilter, _ := json.Marshal(rc.ScopeFilter)
	query := `INSERT INTO rule_candidates (id, rule_type, field_type, trigger_pattern, proposed_rule, supporting_evidence, confidence, confirmations, required_confirmations, status, apply_scope, scope_filter, approved_by, approved_at, applied_at, created_at, updated_at)
		VALUES (:id, :rule_type, :field_type, :trigger_pattern, :proposed_rule, :supporting_evidence, :confidence, :confirmations, :required_confirmations, :status, :apply_scope, :scope_filter, :approved_by, :approved_at, :applied_at, :created_at, :updated_at)`
	_, err := exec.NamedExecContext(ctx, query, map[string]any{
		"id": rc.ID, "rule_type": rc.RuleType, "field_type": rc.FieldType, "trigger_pattern": triggerPattern, "proposed_rule": proposedRule,
		"supporting_evidence": supportingEvidence, "confidence": rc.Confidence, "confirmations": rc.Confirmations, "required_confirmations": rc.RequiredConfirmations,
		"status": rc.Status, "apply_scope": rc.ApplyScope, "scope_filter": scopeFilter, "approved_by": rc.ApprovedBy,
		"approved_at": rc.ApprovedAt, "applied_at": rc.AppliedAt, "created_at": rc.CreatedAt, "updated_at": rc.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("postgres: create rule candidate for type %s: %w", rc.RuleType, err)
	}
	return nil
}

func (p *Postgres) UpdateRuleCandidate(ctx context.Context, exec store.Querier, rc *models.RuleCandidate) error {
	triggerPattern, _ := json.Marshal(rc.TriggerPattern)
	proposedRule, _ := json.Marshal(rc.ProposedRule)
	supportingEvidence, _ := json.Marshal(rc.SupportingEvidence)
	scopeFilter, _ := json.Marshal(rc.ScopeFilter)
	query := `UPDATE rule_candidates SET trigger_pattern = :trigger_pattern, proposed_rule = :proposed_rule, supporting_evidence = :supporting_evidence,
		confidence = :confidence, confirmations = :confirmations, required_confirmations = :required_confirmations, status = :status,
		apply_scope = :apply_scope, scope_filter = :scope_filter, approved_by = :approved_by, approved_at = :approved_at,
		applied_at = :applied_at, updated_at = :updated_at WHERE id = :id`
	result, err := exec.NamedExecContext(ctx, query, map[string]any{
		"id": rc.ID, "trigger_pattern": triggerPattern, "proposed_rule": proposedRule, "supporting_evidence": supportingEvidence,
		"confidence": rc.Confidence, "confirmations": rc.Confirmations, "required_confirmations": rc.RequiredConfirmations,
		"status": rc.Status, "apply_scope": rc.ApplyScope, "scope_filter": scopeFilter, "approved_by": rc.ApprovedBy,
		"approved_at": rc.ApprovedAt, "applied_at": rc.AppliedAt, "updated_at": rc.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("postgres: update rule candidate %s: %w", rc.ID, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- Transaction wrapper ---------------------------------------------------

// PersistRecordsAndComplete wraps CreateRecords and the completed-status
// transition in one transaction (§6).
func (p *Postgres) PersistRecordsAndComplete(ctx context.Context, runID uuid.UUID, records []*models.Record) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin tx for run %s: %w", runID, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := p.CreateRecords(ctx, tx, records); err != nil {
		return err
	}
	if err := p.UpdateRunStatus(ctx, tx, runID, models.RunStatusCompleted, nil, ""); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit tx for run %s: %w", runID, err)
	}
	return nil
}
