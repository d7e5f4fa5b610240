package models

import (
	"time"

	"github.com/google/uuid"
)

// RuleCandidateStatusEnum is the lifecycle of a RuleCandidate: a human
// resolution pattern collects confirmations until it auto-approves or an
// admin reviews it, then gets applied to its scope (original_source
// app/models/rule_candidate.py).
type RuleCandidateStatusEnum string

const (
	RuleCandidateStatusPending  RuleCandidateStatusEnum = "pending"
	RuleCandidateStatusApproved RuleCandidateStatusEnum = "approved"
	RuleCandidateStatusRejected RuleCandidateStatusEnum = "rejected"
	RuleCandidateStatusApplied  RuleCandidateStatusEnum = "applied"
)

// RuleCandidateTypeEnum distinguishes the four resolution shapes the HILR
// engine learns from (original_source app/services/hilr_engine.py).
type RuleCandidateTypeEnum string

const (
	RuleTypeFieldNormalization RuleCandidateTypeEnum = "field_normalization"
	RuleTypeSelectorPattern    RuleCandidateTypeEnum = "selector_pattern"
	RuleTypeAuthRefreshTrigger RuleCandidateTypeEnum = "auth_refresh_trigger"
	RuleTypeCaptchaHandling    RuleCandidateTypeEnum = "captcha_handling"
)

// RuleCandidateApplyScope names where an approved rule is applied.
type RuleCandidateApplyScope string

const (
	RuleApplyScopeDomain RuleCandidateApplyScope = "domain"
	RuleApplyScopeJob    RuleCandidateApplyScope = "job"
	RuleApplyScopeGlobal RuleCandidateApplyScope = "global"
)

// RuleEvidence is one intervention resolution supporting a RuleCandidate
// (rule_candidate.py's supporting_evidence entries).
type RuleEvidence struct {
	InterventionTaskID uuid.UUID      `json:"intervention_task_id"`
	Resolution         map[string]any `json:"resolution"`
	Domain             string         `json:"domain"`
	MatchedAt          time.Time      `json:"matched_at"`
}

// RuleCandidate is the Human-in-the-Rule (HILR) proposal that a repeated
// human resolution should become a reusable, auto-applied rule (§4.6's
// third `apply_resolution` outcome, "new rule candidate" — the other two
// are the new FieldMap selector version and new SessionVault entry).
type RuleCandidate struct {
	ID                    uuid.UUID               `json:"id" db:"id"`
	RuleType              RuleCandidateTypeEnum   `json:"rule_type" db:"rule_type"`
	FieldType             string                  `json:"field_type,omitempty" db:"field_type"`
	TriggerPattern        map[string]any          `json:"trigger_pattern" db:"-"`
	ProposedRule          map[string]any          `json:"proposed_rule" db:"-"`
	SupportingEvidence    []RuleEvidence          `json:"supporting_evidence" db:"-"`
	Confidence            float64                 `json:"confidence" db:"confidence"`
	Confirmations         int                     `json:"confirmations" db:"confirmations"`
	RequiredConfirmations int                     `json:"required_confirmations" db:"required_confirmations"`
	Status                RuleCandidateStatusEnum `json:"status" db:"status"`
	ApplyScope            RuleCandidateApplyScope `json:"apply_scope" db:"apply_scope"`
	ScopeFilter           map[string]any          `json:"scope_filter,omitempty" db:"-"`
	ApprovedBy            string                  `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt            *time.Time              `json:"approved_at,omitempty" db:"approved_at"`
	AppliedAt             *time.Time              `json:"applied_at,omitempty" db:"applied_at"`
	CreatedAt             time.Time               `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time               `json:"updated_at" db:"updated_at"`
}

// AddConfirmation appends supporting evidence and recomputes confidence,
// matching rule_candidate.py's add_confirmation (confidence climbs
// 0.5 + confirmations*0.15, capped at 1.0).
func (rc *RuleCandidate) AddConfirmation(taskID uuid.UUID, resolution map[string]any, domain string, now time.Time) {
	rc.SupportingEvidence = append(rc.SupportingEvidence, RuleEvidence{
		InterventionTaskID: taskID,
		Resolution:         resolution,
		Domain:             domain,
		MatchedAt:          now,
	})
	rc.Confirmations++
	rc.UpdatedAt = now
	confidence := 0.5 + float64(rc.Confirmations)*0.15
	if confidence > 1.0 {
		confidence = 1.0
	}
	rc.Confidence = confidence
}

// CanAutoApprove mirrors rule_candidate.py's can_auto_approve.
func (rc *RuleCandidate) CanAutoApprove() bool {
	return rc.Status == RuleCandidateStatusPending && rc.Confirmations >= rc.RequiredConfirmations
}

// Approve transitions the candidate to approved (rule_candidate.py's approve).
func (rc *RuleCandidate) Approve(approvedBy string, now time.Time) {
	rc.Status = RuleCandidateStatusApproved
	rc.ApprovedBy = approvedBy
	rc.ApprovedAt = &now
	rc.UpdatedAt = now
}
