// Package fieldpipeline implements C2: parse -> validate -> normalize ->
// score for one (field_name, raw_string, field_type) tuple (§4.2). The
// pipeline is deterministic and side-effect free given its inputs.
package fieldpipeline

import (
	"strings"

	"github.com/linkpellow/scrapegoat/internal/models"
)

// Context carries the optional page-level signals the pipeline needs for
// multi-source consensus (§4.2 stage 5).
type Context struct {
	PageHTML string
	Timezone string
}

// Input is one field extraction request.
type Input struct {
	FieldName       string
	Raw             string
	FieldType       string
	SmartConfig     models.SmartConfig
	ValidationRules models.ValidationRules
	Context         Context
}

// Process runs the full C2 pipeline and returns a FieldResult.
func Process(in Input) models.FieldResult {
	result := models.FieldResult{FieldName: in.FieldName, Raw: in.Raw, Type: in.FieldType}

	// Stage 1: empty handling. A blank primary extraction still gets one
	// chance at multi-source consensus before being treated as missing,
	// since a page-level fact can stand in for a selector that found
	// nothing (§4.2 stage 5 promotion rule).
	trimmedRaw := strings.TrimSpace(in.Raw)
	if trimmedRaw == "" {
		if in.Context.PageHTML != "" {
			if promoted, consensusReasons, bonus := applyConsensus(in.FieldName, nil, "", in.Context.PageHTML); consensusReasons != nil {
				result.Value = promoted
				result.Reasons = append(result.Reasons, consensusReasons...)
				result.Confidence = clampRound(score(result, "") + bonus)
				return result
			}
		}
		if in.ValidationRules.Required {
			result.Errors = append(result.Errors, "required_missing")
			result.Confidence = 0
			return result
		}
		result.Confidence = 1
		result.Reasons = append(result.Reasons, "optional_not_provided")
		return result
	}

	// Stage 2: clean.
	cleaned := trimmedRaw

	// Stage 3: parse.
	parser := lookupParser(in.FieldType)
	value, reasons, errs := parser(cleaned, in.SmartConfig)
	result.Value = value
	result.Reasons = append(result.Reasons, reasons...)
	result.Errors = append(result.Errors, errs...)

	// Stage 4: validate.
	validationErrs := validateField(value, cleaned, in.FieldType, in.ValidationRules)
	result.Errors = append(result.Errors, validationErrs...)

	// Stage 5: multi-source consensus, only when page context is present.
	if in.Context.PageHTML != "" {
		if promoted, consensusReasons, bonus := applyConsensus(in.FieldName, result.Value, cleaned, in.Context.PageHTML); consensusReasons != nil {
			result.Value = promoted
			result.Reasons = append(result.Reasons, consensusReasons...)
			result.Confidence = score(result, cleaned) + bonus
			result.Confidence = clampRound(result.Confidence)
			return result
		}
	}

	result.Confidence = clampRound(score(result, cleaned))
	return result
}

// score implements §4.2 stage 6: start at 1.0, -0.2 per validation error,
// +0.05 per well-known success reason (capped at 1.0 before the error
// deduction), -0.1 if parsing shrank the raw by more than half.
func score(result models.FieldResult, cleaned string) float64 {
	confidence := 1.0
	confidence -= 0.2 * float64(len(result.Errors))

	bonus := 0.05 * float64(countSuccessReasons(result.Reasons))
	if bonus > 1.0 {
		bonus = 1.0
	}
	confidence += bonus

	if parsedShrankByHalf(result.Value, cleaned) {
		confidence -= 0.1
	}
	return confidence
}

func clampRound(v float64) float64 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return float64(int(v*100+0.5)) / 100
}

func countSuccessReasons(reasons []string) int {
	count := 0
	for _, r := range reasons {
		if strings.HasPrefix(r, "parsed_") || strings.HasPrefix(r, "normalized_") || strings.HasPrefix(r, "matched_") {
			count++
		}
	}
	return count
}

func parsedShrankByHalf(value any, raw string) bool {
	s, ok := value.(string)
	if !ok || raw == "" {
		return false
	}
	return float64(len(s)) < float64(len(raw))*0.5
}
