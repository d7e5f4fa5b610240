package fieldpipeline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/linkpellow/scrapegoat/internal/models"
)

// parserFunc parses a cleaned raw string into a typed value plus the
// reasons/errors the parse produced (§4.2 stage 3).
type parserFunc func(raw string, smart models.SmartConfig) (value any, reasons []string, errors []string)

var registry = map[string]parserFunc{
	"email":       parseEmail,
	"phone":       parsePhone,
	"fax":         parsePhone,
	"mobile":      parsePhone,
	"url":         parseURL,
	"image_url":   parseURL,
	"address":     parseString,
	"city":        parseTitleCase,
	"state":       parseTitleCase,
	"zip_code":    parseZipCode,
	"country":     parseTitleCase,
	"person_name": parseTitleCase,
	"first_name":  parseTitleCase,
	"last_name":   parseTitleCase,
	"company":     parseString,
	"job_title":   parseString,
	"number":      parseDecimal,
	"integer":     parseInteger,
	"decimal":     parseDecimal,
	"money":       parseMoney,
	"percentage":  parsePercentage,
	"rating":      parseDecimal,
	"date":        parseDate,
	"time":        parseTimeOfDay,
	"datetime":    parseDateTime,
	"string":      parseString,
	"text":        parseString,
	"html":        parseString,
	"category":    parseTitleCase,
	"boolean":     parseBoolean,
}

// lookupParser returns the registered parser for fieldType, or the string
// fallback for unknown types (§4.2 stage 3).
func lookupParser(fieldType string) parserFunc {
	if p, ok := registry[fieldType]; ok {
		return p
	}
	return parseString
}

func parseString(raw string, _ models.SmartConfig) (any, []string, []string) {
	return raw, []string{"parsed_string"}, nil
}

var titleCaser = strings.Title // lightweight, matches donor's unadorned string helpers

func parseTitleCase(raw string, _ models.SmartConfig) (any, []string, []string) {
	normalized := strings.Join(strings.Fields(strings.ToLower(raw)), " ")
	normalized = titleCaser(normalized)
	return normalized, []string{"normalized_title_case"}, nil
}

var emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

func parseEmail(raw string, _ models.SmartConfig) (any, []string, []string) {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if !emailRe.MatchString(lower) {
		return nil, nil, []string{"invalid_email_format"}
	}
	return lower, []string{"parsed_email"}, nil
}

var phoneDigitsRe = regexp.MustCompile(`[^0-9+]`)

// parsePhone normalizes to E.164 when a country-callable number of
// plausible length is found; national/international formatting per
// smart.PhoneFormat otherwise just strips punctuation (§4.2: "email,
// phone in E.164/national/international per smart config").
func parsePhone(raw string, smart models.SmartConfig) (any, []string, []string) {
	digits := phoneDigitsRe.ReplaceAllString(raw, "")
	stripped := strings.TrimPrefix(digits, "+")
	if len(stripped) < 7 || len(stripped) > 15 {
		return nil, nil, []string{"invalid_phone_length"}
	}
	format := smart.PhoneFormat
	if format == "" {
		format = "e164"
	}
	switch format {
	case "e164":
		if !strings.HasPrefix(digits, "+") {
			digits = "+" + stripped
		}
		return digits, []string{"normalized_e164"}, nil
	default:
		return stripped, []string{"normalized_" + format}, nil
	}
}

var urlRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.\-]*://[^\s]+$`)

func parseURL(raw string, _ models.SmartConfig) (any, []string, []string) {
	candidate := strings.TrimSpace(raw)
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}
	if !urlRe.MatchString(candidate) {
		return nil, nil, []string{"invalid_url_format"}
	}
	return candidate, []string{"parsed_url"}, nil
}

var zipRe = regexp.MustCompile(`^\d{5}(-\d{4})?$`)

func parseZipCode(raw string, _ models.SmartConfig) (any, []string, []string) {
	candidate := strings.TrimSpace(raw)
	if !zipRe.MatchString(candidate) {
		return candidate, []string{"parsed_string"}, []string{"invalid_zip_format"}
	}
	return candidate, []string{"matched_zip_format"}, nil
}

var numericStripRe = regexp.MustCompile(`[^0-9.\-]`)

func parseDecimal(raw string, _ models.SmartConfig) (any, []string, []string) {
	candidate := numericStripRe.ReplaceAllString(raw, "")
	f, err := strconv.ParseFloat(candidate, 64)
	if err != nil {
		return nil, nil, []string{"invalid_number_format"}
	}
	return f, []string{"parsed_number"}, nil
}

func parseInteger(raw string, _ models.SmartConfig) (any, []string, []string) {
	candidate := numericStripRe.ReplaceAllString(raw, "")
	i, err := strconv.ParseInt(candidate, 10, 64)
	if err != nil {
		if f, ferr := strconv.ParseFloat(candidate, 64); ferr == nil {
			return int64(f), []string{"parsed_integer_truncated"}, nil
		}
		return nil, nil, []string{"invalid_integer_format"}
	}
	return i, []string{"parsed_integer"}, nil
}

func parsePercentage(raw string, _ models.SmartConfig) (any, []string, []string) {
	candidate := strings.TrimSpace(raw)
	candidate = strings.TrimSuffix(candidate, "%")
	f, err := strconv.ParseFloat(numericStripRe.ReplaceAllString(candidate, ""), 64)
	if err != nil {
		return nil, nil, []string{"invalid_percentage_format"}
	}
	return f, []string{"parsed_percentage"}, nil
}

// MoneyValue is the typed money field output (§4.2: "money -> {amount, currency}").
type MoneyValue struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

var currencySymbols = map[string]string{"$": "USD", "€": "EUR", "£": "GBP", "¥": "JPY"}

func parseMoney(raw string, _ models.SmartConfig) (any, []string, []string) {
	currency := "USD"
	for symbol, code := range currencySymbols {
		if strings.Contains(raw, symbol) {
			currency = code
			break
		}
	}
	for _, code := range []string{"USD", "EUR", "GBP", "JPY"} {
		if strings.Contains(strings.ToUpper(raw), code) {
			currency = code
			break
		}
	}
	candidate := numericStripRe.ReplaceAllString(raw, "")
	f, err := strconv.ParseFloat(candidate, 64)
	if err != nil {
		return nil, nil, []string{"invalid_money_format"}
	}
	return MoneyValue{Amount: f, Currency: currency}, []string{"parsed_money"}, nil
}

func parseDate(raw string, _ models.SmartConfig) (any, []string, []string) {
	for _, layout := range []string{"2006-01-02", "01/02/2006", "Jan 2, 2006", "2 Jan 2006"} {
		if t, err := time.Parse(layout, strings.TrimSpace(raw)); err == nil {
			return t.Format("2006-01-02"), []string{"parsed_date"}, nil
		}
	}
	return nil, nil, []string{"invalid_date_format"}
}

func parseTimeOfDay(raw string, _ models.SmartConfig) (any, []string, []string) {
	for _, layout := range []string{"15:04:05", "15:04", "3:04 PM", "3:04PM"} {
		if t, err := time.Parse(layout, strings.TrimSpace(raw)); err == nil {
			return t.Format("15:04:05"), []string{"parsed_time"}, nil
		}
	}
	return nil, nil, []string{"invalid_time_format"}
}

// parseDateTime emits ISO-8601 in the timezone named by context, per §4.2.
func parseDateTime(raw string, smart models.SmartConfig) (any, []string, []string) {
	loc := time.UTC
	if smart.Timezone != "" {
		if l, err := time.LoadLocation(smart.Timezone); err == nil {
			loc = l
		}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "01/02/2006 15:04:05"} {
		if t, err := time.Parse(layout, strings.TrimSpace(raw)); err == nil {
			return t.In(loc).Format(time.RFC3339), []string{"parsed_datetime"}, nil
		}
	}
	return nil, nil, []string{"invalid_datetime_format"}
}

func parseBoolean(raw string, _ models.SmartConfig) (any, []string, []string) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "yes", "1", "y":
		return true, []string{"parsed_boolean"}, nil
	case "false", "no", "0", "n":
		return false, []string{"parsed_boolean"}, nil
	default:
		return nil, nil, []string{fmt.Sprintf("invalid_boolean_format:%s", raw)}
	}
}
