package hilr

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/linkpellow/scrapegoat/internal/models"
)

// fakeStore is an in-process Store double, matching the package's own
// narrow contract so detection logic can be tested without a database.
type fakeStore struct {
	candidates map[uuid.UUID]*models.RuleCandidate
}

func newFakeStore() *fakeStore {
	return &fakeStore{candidates: map[uuid.UUID]*models.RuleCandidate{}}
}

func (s *fakeStore) ListRuleCandidates(ctx context.Context, ruleType models.RuleCandidateTypeEnum, statuses []models.RuleCandidateStatusEnum) ([]*models.RuleCandidate, error) {
	wanted := make(map[models.RuleCandidateStatusEnum]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}
	var out []*models.RuleCandidate
	for _, rc := range s.candidates {
		if rc.RuleType == ruleType && wanted[rc.Status] {
			out = append(out, rc)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateRuleCandidate(ctx context.Context, rc *models.RuleCandidate) error {
	s.candidates[rc.ID] = rc
	return nil
}

func (s *fakeStore) UpdateRuleCandidate(ctx context.Context, rc *models.RuleCandidate) error {
	s.candidates[rc.ID] = rc
	return nil
}

func TestDetectAndRecordFieldConfirmRequiresEditAction(t *testing.T) {
	st := newFakeStore()
	payload := map[string]any{"field_type": "price", "errors": []string{"parse_failed"}}
	resolution := map[string]any{"action": "accept"}
	rc, err := DetectAndRecord(context.Background(), st, models.InterventionFieldConfirm, payload, resolution, "example.com", uuid.New(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rc != nil {
		t.Fatalf("expected no rule candidate for a non-edit resolution, got %+v", rc)
	}
}

func TestDetectAndRecordFieldConfirmAccumulatesConfirmations(t *testing.T) {
	st := newFakeStore()
	payload := map[string]any{"field_type": "price", "errors": []string{"parse_failed"}}
	resolution := map[string]any{"action": "edit", "normalization_rule": map[string]any{"strip": "$"}}

	first, err := DetectAndRecord(context.Background(), st, models.InterventionFieldConfirm, payload, resolution, "example.com", uuid.New(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == nil {
		t.Fatalf("expected a new rule candidate")
	}
	if first.Confirmations != 1 || first.Status != models.RuleCandidateStatusPending {
		t.Fatalf("expected 1 confirmation and pending status, got %+v", first)
	}

	required := confirmationThresholds[models.RuleTypeFieldNormalization]
	var last *models.RuleCandidate
	for i := 1; i < required; i++ {
		last, err = DetectAndRecord(context.Background(), st, models.InterventionFieldConfirm, payload, resolution, "example.com", uuid.New(), time.Now())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if last.ID != first.ID {
		t.Fatalf("expected repeated resolutions to match the same candidate, got a new one")
	}
	if !last.CanAutoApprove() && last.Status != models.RuleCandidateStatusApproved {
		t.Fatalf("expected candidate to auto-approve after %d confirmations, got %+v", required, last)
	}
	if last.Status != models.RuleCandidateStatusApproved {
		t.Fatalf("expected status approved after reaching the confirmation threshold, got %s", last.Status)
	}
}

func TestDetectAndRecordCaptchaSolveRequiresDomain(t *testing.T) {
	st := newFakeStore()
	rc, err := DetectAndRecord(context.Background(), st, models.InterventionCaptchaSolve, nil, map[string]any{"strategy": "2captcha"}, "", uuid.New(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rc != nil {
		t.Fatalf("expected no rule candidate without a domain, got %+v", rc)
	}
}

func TestDetectAndRecordIgnoresOtherKinds(t *testing.T) {
	st := newFakeStore()
	rc, err := DetectAndRecord(context.Background(), st, models.InterventionSelectorFix, nil, map[string]any{}, "example.com", uuid.New(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rc != nil {
		t.Fatalf("expected selector_fix resolutions to be ignored by the HILR engine, got %+v", rc)
	}
}
