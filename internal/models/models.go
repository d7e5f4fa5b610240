// Package models defines the entity schema of §3: Job, FieldMap, Run,
// Record, RunEvent, SessionVault, DomainStats, DomainConfig and
// InterventionTask, plus the closed enums each carries.
package models

import (
	"time"

	"github.com/google/uuid"
)

// CrawlModeEnum selects single-page vs. list-page extraction.
type CrawlModeEnum string

const (
	CrawlModeSingle CrawlModeEnum = "single"
	CrawlModeList   CrawlModeEnum = "list"
)

// EngineModeEnum is a Job's engine selection policy: automatic escalation,
// or a forced tier that never escalates (see C3).
type EngineModeEnum string

const (
	EngineModeAuto     EngineModeEnum = "auto"
	EngineModeHTTP     EngineModeEnum = "http"
	EngineModeBrowser  EngineModeEnum = "browser"
	EngineModeProvider EngineModeEnum = "provider"
)

// Forced reports whether this mode pins a specific engine.
func (m EngineModeEnum) Forced() bool { return m != EngineModeAuto && m != "" }

// Engine is one tier of the escalation ladder (GLOSSARY).
type Engine string

const (
	EngineHTTP     Engine = "http"
	EngineBrowser  Engine = "browser"
	EngineProvider Engine = "provider"
)

// engineRank orders the ladder http < browser < provider.
var engineRank = map[Engine]int{EngineHTTP: 0, EngineBrowser: 1, EngineProvider: 2}

// Rank returns the tier's position in the ladder; higher is more expensive.
func (e Engine) Rank() int { return engineRank[e] }

// Next returns the next tier up the ladder, or ok=false at the top.
func (e Engine) Next() (Engine, bool) {
	switch e {
	case EngineHTTP:
		return EngineBrowser, true
	case EngineBrowser:
		return EngineProvider, true
	default:
		return "", false
	}
}

// ListConfig configures list/paginated crawl mode.
type ListConfig struct {
	ItemLinkSelector   string `json:"item_link_selector"`
	PaginationSelector string `json:"pagination_selector,omitempty"`
	MaxPages           int    `json:"max_pages"`
	MaxItems           int    `json:"max_items"`
}

// BrowserProfile carries optional browser fingerprinting hints for the
// browser/provider engine tiers.
type BrowserProfile struct {
	UserAgent string `json:"user_agent,omitempty"`
	Viewport  string `json:"viewport,omitempty"` // e.g. "1366x768"
	Locale    string `json:"locale,omitempty"`
	Timezone  string `json:"timezone,omitempty"`
}

// Job is the declarative extraction request of §3.
type Job struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	TargetURL    string          `json:"target_url" db:"target_url"`
	Fields       []string        `json:"fields" db:"-"`
	RequiresAuth bool            `json:"requires_auth" db:"requires_auth"`
	CrawlMode    CrawlModeEnum   `json:"crawl_mode" db:"crawl_mode"`
	ListConfig   *ListConfig     `json:"list_config,omitempty" db:"-"`
	EngineMode   EngineModeEnum  `json:"engine_mode" db:"engine_mode"`
	Profile      *BrowserProfile `json:"browser_profile,omitempty" db:"-"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// ValidationRules is the closed rule set C2's validate stage applies.
type ValidationRules struct {
	Required       bool     `json:"required,omitempty"`
	MinLen         *int     `json:"min_len,omitempty"`
	MaxLen         *int     `json:"max_len,omitempty"`
	MinValue       *float64 `json:"min_value,omitempty"`
	MaxValue       *float64 `json:"max_value,omitempty"`
	AllowedValues  []string `json:"allowed_values,omitempty"`
	AllowedDomains []string `json:"allowed_domains,omitempty"`
	CustomRegex    string   `json:"custom_regex,omitempty"`
}

// SmartConfig is the type-specific parsing config (timezone for dates,
// phone number format, etc.) threaded through to C2's parse stage.
type SmartConfig struct {
	PhoneFormat string `json:"phone_format,omitempty"` // e164 | national | international
	Timezone    string `json:"timezone,omitempty"`
}

// SelectorHistoryEntry is one superseded (or current) selector, kept for
// audit (§3 invariant: selector history length equals selector version).
type SelectorHistoryEntry struct {
	Selector  string    `json:"selector"`
	Version   int       `json:"version"`
	ChangedAt time.Time `json:"changed_at"`
	ChangedBy string    `json:"changed_by,omitempty"` // "system" | "human:<task id>"
	Diff      string    `json:"diff,omitempty"`
}

// FieldMap is the per-job, per-field selector and typing record of §3.
type FieldMap struct {
	ID              uuid.UUID              `json:"id" db:"id"`
	JobID           uuid.UUID              `json:"job_id" db:"job_id"`
	FieldName       string                 `json:"field_name" db:"field_name"`
	Selector        string                 `json:"selector" db:"selector"`
	FieldType       string                 `json:"field_type" db:"field_type"`
	SmartConfig     SmartConfig            `json:"smart_config" db:"-"`
	ValidationRules ValidationRules        `json:"validation_rules" db:"-"`
	SelectorVersion int                    `json:"selector_version" db:"selector_version"`
	SelectorHistory []SelectorHistoryEntry `json:"selector_history" db:"-"`
}

// DefaultSelector returns the built-in default for well-known fields when a
// Job omits an explicit FieldMap (orchestrator step 1 of §4.7).
func DefaultSelector(fieldName string) string {
	if fieldName == "title" {
		return "h1"
	}
	return ""
}
