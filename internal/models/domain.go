package models

import "time"

// AccessClassEnum classifies how a domain should be approached (§3).
type AccessClassEnum string

const (
	AccessClassPublic AccessClassEnum = "public"
	AccessClassInfra  AccessClassEnum = "infra"
	AccessClassHuman  AccessClassEnum = "human"
)

// SessionRequirementEnum is a domain's policy on session reuse (§3).
type SessionRequirementEnum string

const (
	SessionRequirementNo       SessionRequirementEnum = "no"
	SessionRequirementOptional SessionRequirementEnum = "optional"
	SessionRequirementRequired SessionRequirementEnum = "required"
)

// DomainStats are the per-(domain, engine) counters of §3/C4.
type DomainStats struct {
	Domain             string    `json:"domain" db:"domain"`
	Engine             Engine    `json:"engine" db:"engine"`
	TotalAttempts      int64     `json:"total_attempts" db:"total_attempts"`
	SuccessfulAttempts int64     `json:"successful_attempts" db:"successful_attempts"`
	FailedAttempts     int64     `json:"failed_attempts" db:"failed_attempts"`
	SuccessRate        float64   `json:"success_rate" db:"success_rate"`
	AvgEscalations     float64   `json:"avg_escalations" db:"avg_escalations"`
	TotalRecords       int64     `json:"total_records" db:"total_records"`
	AvgCostPerRecord   float64   `json:"avg_cost_per_record" db:"avg_cost_per_record"`
	FirstSeen          time.Time `json:"first_seen" db:"first_seen"`
	LastUpdated        time.Time `json:"last_updated" db:"last_updated"`
}

// PerEngineStats is a compact summary, keyed by engine, embedded in
// DomainConfig's stat bag.
type PerEngineStats struct {
	TotalAttempts int64   `json:"total_attempts"`
	SuccessRate   float64 `json:"success_rate"`
}

// DomainConfig is the per-domain policy cache of §3.
type DomainConfig struct {
	Domain               string                    `json:"domain" db:"domain"`
	AccessClass          AccessClassEnum           `json:"access_class" db:"access_class"`
	SessionRequirement    SessionRequirementEnum    `json:"session_requirement" db:"session_requirement"`
	Rolling403Rate       float64                   `json:"rolling_403_rate" db:"rolling_403_rate"`
	RollingCaptchaRate   float64                   `json:"rolling_captcha_rate" db:"rolling_captcha_rate"`
	EngineStats          map[Engine]PerEngineStats `json:"engine_stats" db:"-"`
	PreferredProvider    string                    `json:"preferred_provider,omitempty" db:"preferred_provider"`
	SessionLifetimeEst   time.Duration             `json:"session_lifetime_estimate" db:"-"`
	UpdatedAt            time.Time                 `json:"updated_at" db:"updated_at"`
}
