package fieldpipeline

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/linkpellow/scrapegoat/internal/models"
)

// validate is a single shared validator.Validate instance; it holds no
// per-call state so reuse across goroutines is safe.
var validate = validator.New()

// validateField applies the closed rule set of §4.2 stage 4 against the
// parsed value and the cleaned raw string, returning one error code per
// violated rule.
func validateField(value any, cleaned string, fieldType string, rules models.ValidationRules) []string {
	var errs []string

	if rules.Required && value == nil {
		errs = append(errs, "required_value_missing")
	}

	if rules.MinLen != nil && len(cleaned) < *rules.MinLen {
		errs = append(errs, fmt.Sprintf("below_min_len:%d", *rules.MinLen))
	}
	if rules.MaxLen != nil && len(cleaned) > *rules.MaxLen {
		errs = append(errs, fmt.Sprintf("above_max_len:%d", *rules.MaxLen))
	}

	if num, ok := numericValue(value); ok {
		if rules.MinValue != nil && num < *rules.MinValue {
			errs = append(errs, fmt.Sprintf("below_min_value:%v", *rules.MinValue))
		}
		if rules.MaxValue != nil && num > *rules.MaxValue {
			errs = append(errs, fmt.Sprintf("above_max_value:%v", *rules.MaxValue))
		}
	}

	if len(rules.AllowedValues) > 0 {
		if s, ok := value.(string); ok && !contains(rules.AllowedValues, s) {
			errs = append(errs, "value_not_in_allowed_set")
		}
	}

	if len(rules.AllowedDomains) > 0 && (fieldType == "url" || fieldType == "image_url" || fieldType == "email") {
		if s, ok := value.(string); ok {
			if !hostAllowed(s, fieldType, rules.AllowedDomains) {
				errs = append(errs, "domain_not_allowed")
			}
		}
	}

	if rules.CustomRegex != "" {
		re, err := regexp.Compile(rules.CustomRegex)
		if err != nil {
			errs = append(errs, "invalid_custom_regex")
		} else if !re.MatchString(cleaned) {
			errs = append(errs, "custom_regex_mismatch")
		}
	}

	if fieldType == "email" {
		if s, ok := value.(string); ok {
			if err := validate.Var(s, "email"); err != nil {
				errs = append(errs, "email_struct_validation_failed")
			}
		}
	}

	return errs
}

func numericValue(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case MoneyValue:
		return v.Amount, true
	default:
		return 0, false
	}
}

func contains(set []string, target string) bool {
	for _, s := range set {
		if strings.EqualFold(s, target) {
			return true
		}
	}
	return false
}

// hostAllowed checks value's domain against the allowed set (§4.2 stage
// 4's "allowed_domains for email/url"). For an email address the domain
// is the part after the last "@", not a URL hostname — url.Parse on a
// bare "user@example.com" does not produce a usable Host/Hostname.
func hostAllowed(value, fieldType string, domains []string) bool {
	var host string
	if fieldType == "email" {
		at := strings.LastIndex(value, "@")
		if at < 0 || at == len(value)-1 {
			return false
		}
		host = value[at+1:]
	} else {
		parsed, err := url.Parse(value)
		if err != nil {
			return false
		}
		host = parsed.Hostname()
	}
	host = strings.ToLower(host)
	for _, d := range domains {
		d = strings.ToLower(strings.TrimPrefix(d, "www."))
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
