package escalation

import (
	"reflect"
	"testing"

	"github.com/linkpellow/scrapegoat/internal/models"
)

func TestDecideIsDeterministicAndIdempotent(t *testing.T) {
	in := Input{
		CurrentEngine:         models.EngineHTTP,
		EngineMode:            models.EngineModeAuto,
		HTML:                  `<div id="root"></div>`,
		HTTPStatus:            200,
		ExtractedCount:        0,
		RequiredSelectorCount: 1,
	}
	first := Decide(in)
	second := Decide(in)
	if first == nil || second == nil {
		t.Fatalf("expected an escalation decision, got first=%v second=%v", first, second)
	}
	if !reflect.DeepEqual(*first, *second) {
		t.Fatalf("Decide is not idempotent: %+v != %+v", *first, *second)
	}
}

func TestForcedEngineModeNeverEscalates(t *testing.T) {
	in := Input{
		CurrentEngine: models.EngineHTTP,
		EngineMode:    models.EngineModeHTTP,
		HTTPStatus:    403,
	}
	if d := Decide(in); d != nil {
		t.Fatalf("forced engine mode must never escalate, got %+v", d)
	}
}

func TestHTTPStatusTakesPrecedenceOverHTMLSignals(t *testing.T) {
	in := Input{
		CurrentEngine: models.EngineHTTP,
		EngineMode:    models.EngineModeAuto,
		HTML:          `<div id="root"></div>`,
		HTTPStatus:    403,
	}
	d := Decide(in)
	if d == nil {
		t.Fatalf("expected an escalation decision")
	}
	if d.Reason != "blocked_status_code" {
		t.Fatalf("expected status-code signal to win over SPA marker, got reason %q", d.Reason)
	}
}

func TestHTTPZeroExtractedTriggersEscalation(t *testing.T) {
	in := Input{
		CurrentEngine:         models.EngineHTTP,
		EngineMode:            models.EngineModeAuto,
		HTTPStatus:            200,
		ExtractedCount:        0,
		RequiredSelectorCount: 2,
	}
	d := Decide(in)
	if d == nil || d.Reason != "extraction_confidence_fail" {
		t.Fatalf("expected extraction_confidence_fail, got %+v", d)
	}
}

func TestHTTPNoEscalationWhenContentExtracted(t *testing.T) {
	in := Input{
		CurrentEngine:         models.EngineHTTP,
		EngineMode:            models.EngineModeAuto,
		HTML:                  "<h1>Widget</h1>",
		HTTPStatus:            200,
		ExtractedCount:        2,
		RequiredSelectorCount: 2,
	}
	if d := Decide(in); d != nil {
		t.Fatalf("expected no escalation on a clean successful fetch, got %+v", d)
	}
}

func TestBrowserEscalatesOnCaptcha(t *testing.T) {
	in := Input{
		CurrentEngine:   models.EngineBrowser,
		EngineMode:      models.EngineModeAuto,
		CaptchaDetected: true,
	}
	d := Decide(in)
	if d == nil || d.Reason != "captcha_detected" || d.To != models.EngineProvider {
		t.Fatalf("expected captcha escalation to provider, got %+v", d)
	}
}

func TestBrowserEscalatesOnNavigationFailure(t *testing.T) {
	in := Input{
		CurrentEngine:    models.EngineBrowser,
		EngineMode:       models.EngineModeAuto,
		NavigationFailed: true,
	}
	d := Decide(in)
	if d == nil || d.Reason != "navigation_failed" {
		t.Fatalf("expected navigation_failed escalation, got %+v", d)
	}
}

func TestProviderTierNeverEscalatesFurther(t *testing.T) {
	in := Input{
		CurrentEngine: models.EngineProvider,
		EngineMode:    models.EngineModeAuto,
		HTTPStatus:    403,
	}
	if d := Decide(in); d != nil {
		t.Fatalf("provider is the top tier, expected no escalation, got %+v", d)
	}
}
