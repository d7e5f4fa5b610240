// Package hilr is the Human-in-the-Rule engine: it watches completed
// field_confirm and captcha_solve intervention resolutions, clusters
// similar ones into a RuleCandidate, and auto-approves once enough
// confirmations accrue. Grounded on
// _examples/original_source/app/services/hilr_engine.py and
// _examples/original_source/app/models/rule_candidate.py; there is no
// donor precedent for clustering captcha resolutions specifically (the
// donor's detect_pattern only covers field_confirm/selector_fix/
// login_refresh), so RuleTypeCaptchaHandling generalizes the donor's
// auth-pattern shape (keyed on domain rather than failure code) to the
// captcha_solve kind this repo also resolves via ApplyResolution.
package hilr

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/linkpellow/scrapegoat/internal/models"
)

// confirmationThresholds mirrors hilr_engine.py's CONFIRMATION_THRESHOLDS:
// how many supporting resolutions a candidate needs before it
// auto-approves. Kept lower for rule types judged more sensitive.
var confirmationThresholds = map[models.RuleCandidateTypeEnum]int{
	models.RuleTypeFieldNormalization: 3,
	models.RuleTypeSelectorPattern:    2,
	models.RuleTypeAuthRefreshTrigger: 1,
	models.RuleTypeCaptchaHandling:    2,
}

// Store is the narrow slice of the repository contract this package needs.
type Store interface {
	ListRuleCandidates(ctx context.Context, ruleType models.RuleCandidateTypeEnum, statuses []models.RuleCandidateStatusEnum) ([]*models.RuleCandidate, error)
	CreateRuleCandidate(ctx context.Context, rc *models.RuleCandidate) error
	UpdateRuleCandidate(ctx context.Context, rc *models.RuleCandidate) error
}

// pattern is the detected signature of a human resolution
// (hilr_engine.py's detect_pattern return value).
type pattern struct {
	ruleType     models.RuleCandidateTypeEnum
	fieldType    string
	errorPattern []string
	domain       string
	resolution   map[string]any
}

// detectFieldConfirmPattern mirrors _detect_field_normalization_pattern:
// a field_confirm resolution only forms a pattern when the human actually
// edited the value (resolution["action"] == "edit") and the task carries
// a field type and at least one validation error.
func detectFieldConfirmPattern(payload, resolution map[string]any, domain string) (pattern, bool) {
	fieldType, _ := payload["field_type"].(string)
	errs := stringSlice(payload["errors"])
	action, _ := resolution["action"].(string)
	if fieldType == "" || len(errs) == 0 || action != "edit" {
		return pattern{}, false
	}
	return pattern{
		ruleType:     models.RuleTypeFieldNormalization,
		fieldType:    fieldType,
		errorPattern: sortedCopy(errs),
		domain:       domain,
		resolution:   resolution,
	}, true
}

// detectCaptchaSolvePattern generalizes hilr_engine.py's auth-pattern shape
// (keyed on a domain-scoped trigger) to captcha_solve resolutions, which
// the donor's HILR engine never covers.
func detectCaptchaSolvePattern(resolution map[string]any, domain string) (pattern, bool) {
	if domain == "" {
		return pattern{}, false
	}
	return pattern{
		ruleType:   models.RuleTypeCaptchaHandling,
		domain:     domain,
		resolution: resolution,
	}, true
}

// DetectAndRecord is the package's single entry point for §4.6's third
// apply_resolution outcome: given a resolved field_confirm or
// captcha_solve InterventionTask, detect whether its resolution matches a
// known pattern and, if so, find-or-create the supporting RuleCandidate.
// Returns (nil, nil) when the kind/payload/resolution don't form a
// recognizable pattern — that is not an error, just nothing to learn from
// this particular resolution.
func DetectAndRecord(ctx context.Context, st Store, kind models.InterventionKindEnum, payload, resolution map[string]any, domain string, taskID uuid.UUID, now time.Time) (*models.RuleCandidate, error) {
	var (
		p  pattern
		ok bool
	)
	switch kind {
	case models.InterventionFieldConfirm:
		p, ok = detectFieldConfirmPattern(payload, resolution, domain)
	case models.InterventionCaptchaSolve:
		p, ok = detectCaptchaSolvePattern(resolution, domain)
	}
	if !ok {
		return nil, nil
	}
	return findOrCreateRuleCandidate(ctx, st, p, taskID, now)
}

// patternsMatch mirrors hilr_engine.py's _patterns_match: same rule type,
// plus a type-specific equality check.
func patternsMatch(a pattern, b *models.RuleCandidate) bool {
	if a.ruleType != b.RuleType {
		return false
	}
	switch a.ruleType {
	case models.RuleTypeFieldNormalization:
		return a.fieldType == b.FieldType && sameSet(a.errorPattern, stringSlice(b.TriggerPattern["error_pattern"]))
	case models.RuleTypeCaptchaHandling:
		domainPattern, _ := b.TriggerPattern["domain"].(string)
		return a.domain == domainPattern
	default:
		return false
	}
}

func extractProposedRule(p pattern) map[string]any {
	switch p.ruleType {
	case models.RuleTypeFieldNormalization:
		normalizationRule, _ := p.resolution["normalization_rule"].(map[string]any)
		return map[string]any{"smart_config": normalizationRule, "validation_rules": map[string]any{}}
	case models.RuleTypeCaptchaHandling:
		strategy, _ := p.resolution["strategy"].(string)
		if strategy == "" {
			strategy = "manual"
		}
		return map[string]any{"solver_strategy": strategy, "persist_session": true}
	default:
		return map[string]any{}
	}
}

func triggerPattern(p pattern) map[string]any {
	switch p.ruleType {
	case models.RuleTypeFieldNormalization:
		return map[string]any{
			"type":          string(p.ruleType),
			"field_type":    p.fieldType,
			"error_pattern": p.errorPattern,
		}
	case models.RuleTypeCaptchaHandling:
		return map[string]any{"type": string(p.ruleType), "domain": p.domain}
	default:
		return map[string]any{"type": string(p.ruleType)}
	}
}

// findOrCreateRuleCandidate mirrors hilr_engine.py's
// find_or_create_rule_candidate: look for a pending/approved candidate of
// the same rule type whose trigger pattern matches, and add a
// confirmation to it; otherwise create a new one seeded with this
// resolution as its first evidence. If the new/updated candidate can now
// auto-approve, it is approved before returning (check_and_auto_approve).
func findOrCreateRuleCandidate(ctx context.Context, st Store, p pattern, taskID uuid.UUID, now time.Time) (*models.RuleCandidate, error) {
	existing, err := st.ListRuleCandidates(ctx, p.ruleType, []models.RuleCandidateStatusEnum{models.RuleCandidateStatusPending, models.RuleCandidateStatusApproved})
	if err != nil {
		return nil, fmt.Errorf("hilr: list rule candidates for type %s: %w", p.ruleType, err)
	}

	for _, candidate := range existing {
		if !patternsMatch(p, candidate) {
			continue
		}
		candidate.AddConfirmation(taskID, p.resolution, p.domain, now)
		checkAndAutoApprove(candidate, now)
		if err := st.UpdateRuleCandidate(ctx, candidate); err != nil {
			return nil, fmt.Errorf("hilr: update rule candidate %s: %w", candidate.ID, err)
		}
		return candidate, nil
	}

	applyScope := models.RuleApplyScopeDomain
	var scopeFilter map[string]any
	if p.domain != "" {
		scopeFilter = map[string]any{"domain_pattern": "*" + p.domain}
	}
	candidate := &models.RuleCandidate{
		ID:                    uuid.New(),
		RuleType:              p.ruleType,
		FieldType:             p.fieldType,
		TriggerPattern:        triggerPattern(p),
		ProposedRule:          extractProposedRule(p),
		Status:                models.RuleCandidateStatusPending,
		ApplyScope:            applyScope,
		ScopeFilter:           scopeFilter,
		RequiredConfirmations: confirmationThresholds[p.ruleType],
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if candidate.RequiredConfirmations == 0 {
		candidate.RequiredConfirmations = 3
	}
	candidate.AddConfirmation(taskID, p.resolution, p.domain, now)
	checkAndAutoApprove(candidate, now)

	if err := st.CreateRuleCandidate(ctx, candidate); err != nil {
		return nil, fmt.Errorf("hilr: create rule candidate for type %s: %w", p.ruleType, err)
	}
	return candidate, nil
}

// checkAndAutoApprove mirrors hilr_engine.py's check_and_auto_approve.
func checkAndAutoApprove(candidate *models.RuleCandidate, now time.Time) bool {
	if !candidate.CanAutoApprove() {
		return false
	}
	candidate.Approve("system_auto_approval", now)
	return true
}

func stringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, s := range a {
		seen[s]++
	}
	for _, s := range b {
		seen[s]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}
