package models

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the state-machine status of §4.7.
type RunStatus string

const (
	RunStatusQueued          RunStatus = "queued"
	RunStatusRunning         RunStatus = "running"
	RunStatusWaitingForHuman RunStatus = "waiting_for_human"
	RunStatusCompleted       RunStatus = "completed"
	RunStatusFailed          RunStatus = "failed"
)

// FailureKind is the closed set of terminal reasons a Run may carry (§7).
type FailureKind string

const (
	FailureBlocked          FailureKind = "blocked"
	FailureRateLimited      FailureKind = "rate_limited"
	FailureTimeout          FailureKind = "timeout"
	FailureNetwork          FailureKind = "network"
	FailureBadResponse      FailureKind = "bad_response"
	FailureExtractionFailed FailureKind = "extraction_failed"
	FailureMaxEscalations   FailureKind = "max_escalations"
	FailureUnknown          FailureKind = "unknown"
)

// EngineAttempt is one entry in a Run's append-only engine-attempts log.
type EngineAttempt struct {
	Engine    Engine         `json:"engine"`
	Status    int            `json:"status,omitempty"`
	Signals   []string       `json:"signals,omitempty"`
	Decision  string         `json:"decision"` // "success" | "escalate:<reason>" | "fail:<kind>"
	Success   bool           `json:"success"`
	Meta      map[string]any `json:"meta,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// RunStats is the free-form statistics bag a Run accumulates.
type RunStats struct {
	RecordsExtracted int     `json:"records_extracted"`
	EscalationCount  int     `json:"escalation_count"`
	CostEstimate     float64 `json:"cost_estimate"`
}

// Run is one execution attempt of a Job (§3, §4.7).
type Run struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	JobID             uuid.UUID       `json:"job_id" db:"job_id"`
	RequestedStrategy EngineModeEnum  `json:"requested_strategy" db:"requested_strategy"`
	ResolvedStrategy  Engine          `json:"resolved_strategy" db:"resolved_strategy"`
	Attempt           int             `json:"attempt" db:"attempt"`
	MaxAttempts       int             `json:"max_attempts" db:"max_attempts"`
	Status            RunStatus       `json:"status" db:"status"`
	FailureKind       *FailureKind    `json:"failure_kind,omitempty" db:"failure_kind"`
	ErrorMessage      string          `json:"error_message,omitempty" db:"error_message"`
	Stats             RunStats        `json:"stats" db:"-"`
	EngineAttempts    []EngineAttempt `json:"engine_attempts" db:"-"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// AppendAttempt records one engine-attempts log entry; the log is the only
// source of truth for what happened during a run (§4.7 ordering guarantee).
func (r *Run) AppendAttempt(a EngineAttempt) {
	a.Timestamp = timeNow()
	r.EngineAttempts = append(r.EngineAttempts, a)
}

// timeNow exists so tests can override it without reaching into time.Now
// scattered across the package.
var timeNow = time.Now

// FieldResult is the typed, evidence-bearing output of the field pipeline
// (C2, §4.2, GLOSSARY).
type FieldResult struct {
	FieldName  string   `json:"field_name"`
	Value      any      `json:"value"`
	Raw        string   `json:"raw"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons,omitempty"`
	Errors     []string `json:"errors,omitempty"`
	Type       string   `json:"type"`
}

// Record is one extracted item belonging to exactly one Run (§3).
type Record struct {
	ID        uuid.UUID              `json:"id" db:"id"`
	RunID     uuid.UUID              `json:"run_id" db:"run_id"`
	Fields    map[string]FieldResult `json:"fields" db:"-"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
}

// RunEvent is an append-only log entry for a Run (§3).
type RunEvent struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	RunID     uuid.UUID      `json:"run_id" db:"run_id"`
	Level     string         `json:"level" db:"level"` // info | warn | error
	Message   string         `json:"message" db:"message"`
	Meta      map[string]any `json:"meta,omitempty" db:"-"`
	Timestamp time.Time      `json:"timestamp" db:"timestamp"`
}
