package intervention

import (
	"testing"

	"github.com/linkpellow/scrapegoat/internal/models"
)

func TestLowConfidenceThresholds(t *testing.T) {
	cases := []struct {
		confidence   float64
		required     bool
		expectSpec   bool
		expectHigh   bool
	}{
		{0.9, true, false, false},
		{0.6, true, true, false},
		{0.4, true, true, true},
		{0.3, false, false, false},
	}
	for _, c := range cases {
		result := models.FieldResult{Confidence: c.confidence}
		spec := LowConfidence("email", result, c.required)
		if (spec != nil) != c.expectSpec {
			t.Fatalf("confidence=%v required=%v: expected spec=%v, got %v", c.confidence, c.required, c.expectSpec, spec)
		}
		if spec != nil && c.expectHigh && spec.Priority != models.PriorityHigh {
			t.Fatalf("confidence=%v: expected high priority, got %v", c.confidence, spec.Priority)
		}
	}
}

func TestSelectorDriftOnlyWhenEmpty(t *testing.T) {
	if spec := SelectorDrift("price", ".price", 1, nil, "<html></html>", 0); spec == nil {
		t.Fatalf("expected spec when extraction_count is 0")
	}
	if spec := SelectorDrift("price", ".price", 1, nil, "<html></html>", 3); spec != nil {
		t.Fatalf("expected no spec when extraction_count > 0, got %+v", spec)
	}
}

func TestAuthExpiredRequiresJobAuth(t *testing.T) {
	job := models.Job{RequiresAuth: false}
	if spec := AuthExpired(models.FailureBlocked, job, models.Run{}); spec != nil {
		t.Fatalf("expected nil spec when job does not require auth")
	}
	job.RequiresAuth = true
	if spec := AuthExpired(models.FailureBlocked, job, models.Run{}); spec == nil {
		t.Fatalf("expected spec when job requires auth and failure is blocked")
	}
	if spec := AuthExpired(models.FailureTimeout, job, models.Run{}); spec != nil {
		t.Fatalf("expected nil spec for a non-auth failure kind")
	}
}

func TestHardBlockRequiresThreeAttemptsTwoBlocked(t *testing.T) {
	attempts := []models.EngineAttempt{
		{Status: 403},
		{Status: 403},
		{Status: 200},
	}
	job := models.Job{}
	run := models.Run{}
	if spec := HardBlock(attempts, job, run); spec == nil {
		t.Fatalf("expected spec with 2 of 3 attempts blocked")
	}
	if spec := HardBlock(attempts[:2], job, run); spec != nil {
		t.Fatalf("expected nil spec with fewer than 3 attempts")
	}
}

func TestClassifyBlockRuleTable(t *testing.T) {
	cases := []struct {
		name         string
		responseCode int
		errMsg       string
		hasSession   bool
		isPublic     bool
		noItems      bool
		wantPause    bool
		wantKind     string
	}{
		{"403_with_session", 403, "", true, false, false, true, "login_refresh"},
		{"403_without_session", 403, "", false, false, false, true, "manual_access"},
		{"401", 401, "", false, false, false, true, "login_refresh"},
		{"captcha_mention", 200, "please solve the captcha", false, false, false, true, "captcha_solve"},
		{"cloudflare_mention", 200, "cloudflare challenge detected", false, false, false, true, "manual_access"},
		{"no_items_non_public", 200, "", true, false, true, true, "selector_fix"},
		{"no_items_public_no_pause", 200, "", true, true, true, false, ""},
		{"rate_limited_no_pause", 429, "", false, false, false, false, ""},
		{"network_no_pause", 0, "connection reset", false, false, false, false, ""},
	}
	for _, c := range cases {
		got := ClassifyBlock(c.responseCode, c.errMsg, c.hasSession, c.isPublic, c.noItems)
		if got.ShouldPause != c.wantPause {
			t.Fatalf("%s: expected pause=%v, got %v", c.name, c.wantPause, got.ShouldPause)
		}
		if c.wantPause && got.Kind != c.wantKind {
			t.Fatalf("%s: expected kind %q, got %q", c.name, c.wantKind, got.Kind)
		}
	}
}
