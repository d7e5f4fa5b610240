package intervention

import "strings"

// BlockDecision is the outcome of the run-loop block classifier of §4.6.
// It is distinct from the Spec-producing classifiers in classifiers.go: it only
// decides whether to pause and with what kind, leaving payload assembly
// to the caller, which has the run/job context in hand.
type BlockDecision struct {
	ShouldPause bool
	Kind        string
	Reason      string
}

var captchaMarkers = []string{"captcha", "recaptcha", "hcaptcha"}
var challengeMarkers = []string{"cloudflare", "challenge", "checking your browser"}

// ClassifyBlock maps (response_code, error_message, has_session,
// access_class, no_items_extracted) to a pause decision, exactly per the
// rule table in §4.6.
func ClassifyBlock(responseCode int, errorMessage string, hasSession bool, accessClassPublic bool, noItemsExtracted bool) BlockDecision {
	lowerMsg := strings.ToLower(errorMessage)

	switch responseCode {
	case 403:
		if hasSession {
			return BlockDecision{true, "login_refresh", "403_with_session"}
		}
		return BlockDecision{true, "manual_access", "403_without_session"}
	case 401:
		return BlockDecision{true, "login_refresh", "401"}
	}

	if containsAny(lowerMsg, captchaMarkers) {
		return BlockDecision{true, "captcha_solve", "captcha_detected"}
	}
	if containsAny(lowerMsg, challengeMarkers) {
		return BlockDecision{true, "manual_access", "challenge_interstitial"}
	}

	if responseCode == 200 && noItemsExtracted && !accessClassPublic {
		return BlockDecision{true, "selector_fix", "no_items_extracted_non_public_domain"}
	}

	switch responseCode {
	case 429:
		return BlockDecision{false, "", "rate_limited_not_paused"}
	}
	return BlockDecision{false, "", "no_pause_signal"}
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
