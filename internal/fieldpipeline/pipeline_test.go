package fieldpipeline

import (
	"testing"

	"github.com/linkpellow/scrapegoat/internal/models"
)

func TestProcessEmptyOptionalField(t *testing.T) {
	result := Process(Input{FieldName: "job_title", Raw: "  ", FieldType: "string"})
	if result.Confidence != 1 {
		t.Fatalf("expected confidence 1 for empty optional field, got %v", result.Confidence)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("expected no errors, got %v", result.Errors)
	}
}

func TestProcessEmptyRequiredField(t *testing.T) {
	result := Process(Input{
		FieldName:       "email",
		Raw:             "",
		FieldType:       "email",
		ValidationRules: models.ValidationRules{Required: true},
	})
	if result.Confidence != 0 {
		t.Fatalf("expected confidence 0 for missing required field, got %v", result.Confidence)
	}
	if len(result.Errors) != 1 || result.Errors[0] != "required_missing" {
		t.Fatalf("expected required_missing error, got %v", result.Errors)
	}
}

func TestProcessValidEmail(t *testing.T) {
	result := Process(Input{FieldName: "email", Raw: "Jane.Doe@Example.com", FieldType: "email"})
	if result.Value != "jane.doe@example.com" {
		t.Fatalf("expected normalized lowercase email, got %v", result.Value)
	}
	if result.Confidence != 1 {
		t.Fatalf("expected confidence 1.0, got %v", result.Confidence)
	}
}

func TestProcessInvalidEmailLowersConfidence(t *testing.T) {
	result := Process(Input{FieldName: "email", Raw: "not-an-email", FieldType: "email"})
	if result.Value != nil {
		t.Fatalf("expected nil value for unparseable email, got %v", result.Value)
	}
	if len(result.Errors) == 0 {
		t.Fatalf("expected a parse error")
	}
	if result.Confidence >= 1 {
		t.Fatalf("expected confidence below 1.0, got %v", result.Confidence)
	}
}

func TestProcessPhoneE164Default(t *testing.T) {
	result := Process(Input{FieldName: "phone", Raw: "(415) 555-0100", FieldType: "phone"})
	if result.Value != "+4155550100" {
		t.Fatalf("expected e164-normalized phone, got %v", result.Value)
	}
}

func TestProcessMoneyExtractsCurrency(t *testing.T) {
	result := Process(Input{FieldName: "price", Raw: "$1,299.99", FieldType: "money"})
	money, ok := result.Value.(MoneyValue)
	if !ok {
		t.Fatalf("expected MoneyValue, got %T", result.Value)
	}
	if money.Amount != 1299.99 || money.Currency != "USD" {
		t.Fatalf("expected 1299.99 USD, got %+v", money)
	}
}

func TestProcessValidationMinMaxLen(t *testing.T) {
	minLen, maxLen := 5, 10
	result := Process(Input{
		FieldName:       "company",
		Raw:             "ab",
		FieldType:       "company",
		ValidationRules: models.ValidationRules{MinLen: &minLen, MaxLen: &maxLen},
	})
	found := false
	for _, e := range result.Errors {
		if e == "below_min_len:5" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected below_min_len error, got %v", result.Errors)
	}
}

func TestProcessAllowedValues(t *testing.T) {
	result := Process(Input{
		FieldName:       "category",
		Raw:             "gizmos",
		FieldType:       "category",
		ValidationRules: models.ValidationRules{AllowedValues: []string{"Widgets", "Gadgets"}},
	})
	found := false
	for _, e := range result.Errors {
		if e == "value_not_in_allowed_set" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected value_not_in_allowed_set error, got %v", result.Errors)
	}
}

func TestProcessEmailAllowedDomains(t *testing.T) {
	rules := models.ValidationRules{AllowedDomains: []string{"example.com"}}

	allowed := Process(Input{FieldName: "email", Raw: "jane@example.com", FieldType: "email", ValidationRules: rules})
	for _, e := range allowed.Errors {
		if e == "domain_not_allowed" {
			t.Fatalf("expected example.com email to be allowed, got errors %v", allowed.Errors)
		}
	}

	rejected := Process(Input{FieldName: "email", Raw: "jane@other.com", FieldType: "email", ValidationRules: rules})
	found := false
	for _, e := range rejected.Errors {
		if e == "domain_not_allowed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected domain_not_allowed for an email outside allowed_domains, got %v", rejected.Errors)
	}
}

func TestProcessConsensusPromotesNullPrimary(t *testing.T) {
	html := `
	<html><head>
	<meta property="og:title" content="Acme Rocket Skates">
	<meta name="twitter:title" content="Acme Rocket Skates">
	</head></html>`
	result := Process(Input{
		FieldName: "title",
		Raw:       "   ",
		FieldType: "title",
		Context:   Context{PageHTML: html},
	})
	if result.Value != "Acme Rocket Skates" {
		t.Fatalf("expected promoted consensus value, got %v", result.Value)
	}
}

func TestProcessConsensusConfirmsPrimary(t *testing.T) {
	html := `
	<html><head>
	<meta property="og:title" content="Acme Rocket Skates">
	<meta name="twitter:title" content="Acme Rocket Skates">
	</head></html>`
	result := Process(Input{
		FieldName: "title",
		Raw:       "Acme Rocket Skates",
		FieldType: "string",
		Context:   Context{PageHTML: html},
	})
	if result.Confidence < 1 {
		t.Fatalf("expected confidence boosted to clamp of 1.0, got %v", result.Confidence)
	}
}

func TestClampRound(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{-0.5, 0},
		{1.5, 1},
		{0.555, 0.56},
		{0.5, 0.5},
	}
	for _, c := range cases {
		if got := clampRound(c.in); got != c.want {
			t.Fatalf("clampRound(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
