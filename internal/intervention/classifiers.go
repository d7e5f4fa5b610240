// Package intervention implements C6: pure classifiers that decide when a
// Run should pause for a human, plus the constructor and resolution-apply
// step that turn a classification into state (§4.6).
package intervention

import (
	"fmt"

	"github.com/linkpellow/scrapegoat/internal/models"
)

// Spec is the intervention a classifier proposes; nil means "no pause".
type Spec struct {
	Kind          models.InterventionKindEnum
	Priority      models.PriorityEnum
	TriggerReason string
	Payload       map[string]any
}

// LowConfidence fires when a required field's extraction confidence falls
// below 0.75 (§4.6).
func LowConfidence(fieldName string, result models.FieldResult, isRequired bool) *Spec {
	if !isRequired || result.Confidence >= 0.75 {
		return nil
	}
	priority := models.PriorityNormal
	if result.Confidence < 0.5 {
		priority = models.PriorityHigh
	}
	return &Spec{
		Kind:          models.InterventionFieldConfirm,
		Priority:      priority,
		TriggerReason: "low_confidence_required_field",
		Payload: map[string]any{
			"field_name": fieldName,
			"raw":        result.Raw,
			"parsed":     result.Value,
			"confidence": result.Confidence,
			"reasons":    result.Reasons,
			"errors":     result.Errors,
			"field_type": result.Type,
		},
	}
}

const maxPageSnapshotBytes = 50 * 1024

// SelectorDrift fires when a selector extracted nothing (§4.6).
func SelectorDrift(fieldName, selector string, selectorVersion int, extractionResult any, pageHTML string, extractionCount int) *Spec {
	if extractionCount > 0 {
		return nil
	}
	snapshot := pageHTML
	if len(snapshot) > maxPageSnapshotBytes {
		snapshot = snapshot[:maxPageSnapshotBytes]
	}
	return &Spec{
		Kind:          models.InterventionSelectorFix,
		Priority:      models.PriorityHigh,
		TriggerReason: "selector_extracted_nothing",
		Payload: map[string]any{
			"field_name":         fieldName,
			"old_selector":       selector,
			"old_selector_version": selectorVersion,
			"old_selector_hash":  shortHash(selector),
			"page_snapshot":      snapshot,
			"extraction_result":  extractionResult,
			"extraction_count":   extractionCount,
		},
	}
}

// AuthExpired fires when the terminal failure is auth-related (blocked,
// i.e. a 401/403 response) and the Job requires auth (§4.6).
func AuthExpired(failureKind models.FailureKind, job models.Job, run models.Run) *Spec {
	if !job.RequiresAuth || failureKind != models.FailureBlocked {
		return nil
	}
	return &Spec{
		Kind:          models.InterventionLoginRefresh,
		Priority:      models.PriorityCritical,
		TriggerReason: "auth_expired",
		Payload: map[string]any{
			"job_id":       job.ID,
			"run_id":       run.ID,
			"target_url":   job.TargetURL,
			"failure_kind": failureKind,
		},
	}
}

func hasBlockSignal(a models.EngineAttempt) bool {
	if a.Status == 401 || a.Status == 403 || a.Status == 429 {
		return true
	}
	for _, s := range a.Signals {
		switch s {
		case "blocked_status_code", "blocked_detected", "captcha", "block_interstitial_text":
			return true
		}
	}
	return false
}

// HardBlock fires when the engine-attempts log shows repeated blocking
// across at least three attempts (§4.6).
func HardBlock(attempts []models.EngineAttempt, job models.Job, run models.Run) *Spec {
	if len(attempts) < 3 {
		return nil
	}
	blocked := 0
	for _, a := range attempts {
		if hasBlockSignal(a) {
			blocked++
		}
	}
	if blocked < 2 {
		return nil
	}
	return &Spec{
		Kind:          models.InterventionManualAccess,
		Priority:      models.PriorityCritical,
		TriggerReason: "repeated_block_signals",
		Payload: map[string]any{
			"job_id":          job.ID,
			"run_id":          run.ID,
			"attempt_count":   len(attempts),
			"blocked_count":   blocked,
			"target_url":      job.TargetURL,
		},
	}
}

// shortHash is a cheap, non-cryptographic fingerprint for selector-drift
// payloads; it only needs to distinguish "same selector" from "different
// selector" across InterventionTask history, not resist collisions.
func shortHash(s string) string {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return fmt.Sprintf("%08x", h)
}
