// Package escalation implements C3: a pure decision function over
// (current engine, HTML, HTTP status, extraction counts) that emits
// escalate/stop (§4.3). It holds no state and performs no I/O; HTML
// sniffing uses goquery purely as a DOM reader.
package escalation

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/linkpellow/scrapegoat/internal/models"
)

// Input is everything the policy needs to decide.
type Input struct {
	CurrentEngine         models.Engine
	EngineMode            models.EngineModeEnum
	HTML                  string
	HTTPStatus            int
	ExtractedCount        int
	RequiredSelectorCount int
	NavigationFailed      bool
	CaptchaDetected       bool
}

// Decision is the non-nil result of Decide: escalate one tier up, with the
// reason and the signals that produced it.
type Decision struct {
	From    models.Engine
	To      models.Engine
	Reason  string
	Signals []string
}

// spaMarkers are well-known hydration/root-mount sentinels of SPA shells.
var spaMarkers = []string{
	`id="root"`, `id="app"`, `id="__next"`, `data-reactroot`,
	`ng-version`, `window.__NUXT__`, `window.__INITIAL_STATE__`,
	`__NEXT_DATA__`,
}

var blockInterstitialPhrases = []string{
	"checking your browser", "access denied", "are you a human",
	"captcha", "cloudflare", "please verify you are a human",
	"request blocked", "unusual traffic",
}

// Decide applies the ladder rules of §4.3. A forced (non-auto) engine mode
// never escalates, matching "the function never escalates" in §4.3.
func Decide(in Input) *Decision {
	if in.EngineMode.Forced() {
		return nil
	}

	switch in.CurrentEngine {
	case models.EngineHTTP:
		return decideFromHTTP(in)
	case models.EngineBrowser:
		return decideFromBrowser(in)
	default:
		return nil
	}
}

// decideFromHTTP: status-code signals outrank HTML-based signals (§4.7
// ordering guarantee).
func decideFromHTTP(in Input) *Decision {
	if in.HTTPStatus == 401 || in.HTTPStatus == 403 || in.HTTPStatus == 429 {
		return esc(in.CurrentEngine, "blocked_status_code", []string{statusSignal(in.HTTPStatus)})
	}
	if hasSPAMarker(in.HTML) {
		return esc(in.CurrentEngine, "js_app_detected", []string{"spa_marker"})
	}
	if in.ExtractedCount == 0 && in.RequiredSelectorCount > 0 {
		return esc(in.CurrentEngine, "extraction_confidence_fail", []string{"zero_extracted"})
	}
	if hasRobotsNoindex(in.HTML) {
		return esc(in.CurrentEngine, "robots_noindex", []string{"meta_robots_noindex"})
	}
	return nil
}

func decideFromBrowser(in Input) *Decision {
	signals := []string{}
	if in.HTTPStatus == 401 || in.HTTPStatus == 403 || in.HTTPStatus == 429 {
		signals = append(signals, statusSignal(in.HTTPStatus))
	}
	if hasBlockInterstitial(in.HTML) {
		signals = append(signals, "block_interstitial_text")
	}
	if len(signals) > 0 {
		return esc(in.CurrentEngine, "blocked_detected", signals)
	}
	if in.NavigationFailed {
		return esc(in.CurrentEngine, "navigation_failed", []string{"navigation_failed"})
	}
	if in.CaptchaDetected {
		return esc(in.CurrentEngine, "captcha_detected", []string{"captcha"})
	}
	return nil
}

func esc(from models.Engine, reason string, signals []string) *Decision {
	to, ok := from.Next()
	if !ok {
		return nil
	}
	return &Decision{From: from, To: to, Reason: reason, Signals: signals}
}

func statusSignal(status int) string {
	switch status {
	case 401:
		return "status_401"
	case 403:
		return "status_403"
	case 429:
		return "status_429"
	default:
		return "status_unknown"
	}
}

func hasSPAMarker(html string) bool {
	lower := strings.ToLower(html)
	for _, m := range spaMarkers {
		if strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	found := false
	doc.Find("div#root, div#app, div#__next").Each(func(_ int, s *goquery.Selection) {
		if strings.TrimSpace(s.Text()) == "" && len(s.Children().Nodes) == 0 {
			found = true
		}
	})
	return found
}

func hasRobotsNoindex(html string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	noindex := false
	doc.Find(`meta[name="robots"]`).Each(func(_ int, s *goquery.Selection) {
		content, _ := s.Attr("content")
		if strings.Contains(strings.ToLower(content), "noindex") {
			noindex = true
		}
	})
	return noindex
}

func hasBlockInterstitial(html string) bool {
	lower := strings.ToLower(html)
	for _, p := range blockInterstitialPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
