package models

import (
	"time"

	"github.com/google/uuid"
)

// InterventionKindEnum is the closed set of pause reasons (§3/C6).
type InterventionKindEnum string

const (
	InterventionSelectorFix   InterventionKindEnum = "selector_fix"
	InterventionFieldConfirm InterventionKindEnum = "field_confirm"
	InterventionLoginRefresh InterventionKindEnum = "login_refresh"
	InterventionManualAccess InterventionKindEnum = "manual_access"
	InterventionCaptchaSolve InterventionKindEnum = "captcha_solve"
)

// InterventionStatusEnum is the lifecycle of an InterventionTask (§3).
type InterventionStatusEnum string

const (
	InterventionStatusPending    InterventionStatusEnum = "pending"
	InterventionStatusInProgress InterventionStatusEnum = "in_progress"
	InterventionStatusCompleted  InterventionStatusEnum = "completed"
	InterventionStatusExpired    InterventionStatusEnum = "expired"
	InterventionStatusCancelled  InterventionStatusEnum = "cancelled"
)

// PriorityEnum orders InterventionTasks for a human queue (§3).
type PriorityEnum string

const (
	PriorityLow      PriorityEnum = "low"
	PriorityNormal   PriorityEnum = "normal"
	PriorityHigh     PriorityEnum = "high"
	PriorityCritical PriorityEnum = "critical"
)

// InterventionTask is a pause record for a Run (§3).
type InterventionTask struct {
	ID            uuid.UUID              `json:"id" db:"id"`
	RunID         uuid.UUID              `json:"run_id" db:"run_id"`
	Kind          InterventionKindEnum   `json:"kind" db:"kind"`
	Status        InterventionStatusEnum `json:"status" db:"status"`
	TriggerReason string                 `json:"trigger_reason" db:"trigger_reason"`
	Priority      PriorityEnum           `json:"priority" db:"priority"`
	Payload       map[string]any         `json:"payload" db:"-"`
	Resolution    map[string]any         `json:"resolution,omitempty" db:"-"`
	ExpiresAt     *time.Time             `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt     time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at" db:"updated_at"`
}

// IsActive reports whether this task is the one holding its Run in
// waiting_for_human (§3 invariant).
func (t *InterventionTask) IsActive() bool {
	return t.Status == InterventionStatusPending || t.Status == InterventionStatusInProgress
}
