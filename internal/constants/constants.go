// Package constants collects the fixed thresholds the spec pins down by
// name so every component reads the same numbers.
package constants

import "time"

// Adaptive intelligence (C4) thresholds.
const (
	AdaptiveMinAttempts = 5
	AdaptiveLowRate     = 0.20
	AdaptiveHighRate    = 0.85
	AdaptiveEMAWeight   = 0.3
)

// Engine cost weights used for avg_cost_per_record (C4).
const (
	EngineCostHTTP     = 1.0
	EngineCostBrowser  = 3.0
	EngineCostProvider = 10.0
)

// Session pool (C5) trust-score formula inputs.
const (
	TrustAgePenaltyThresholdMinutes = 60  // age beyond this accrues linear penalty
	TrustAgePenaltyRate             = 0.5 // per minute over threshold
	TrustFailurePenaltyRate         = 15.0
	TrustRecencyBonus               = 20.0
	TrustRecencyWindowMinutes       = 5
	TrustUsePenaltyThreshold        = 50 // uses beyond this accrue linear penalty
	TrustUsePenaltyRate             = 1.0
	TrustUseStepThreshold           = 100 // MAX_USES: crossing this adds a flat step penalty
	TrustUseStepPenalty             = 50.0
)

// Session pool (C5) reuse/retire thresholds.
const (
	TrustDegraded        = 40.0 // reuse floor
	TrustHealthy         = 70.0
	SessionMaxAgeMinutes = 120 // MAX_AGE, hard retire
	SessionHardUseCap    = 200 // HARD_CAP, hard retire
	MaxFailureStreak     = 3   // hard retire at this streak
)

// Circuit breaker (C5) thresholds.
const (
	CircuitFailureThreshold = 10
	CircuitCooldownMinutes  = 30
)

// Session persistence (C5).
const (
	MaxPersistedAgeHours = 24
)

// Orchestrator (C7) bounds.
const (
	MaxEscalations = 3
)

// Engine adapter timeout budgets (§5).
const (
	HTTPEngineTimeout        = 20 * time.Second
	BrowserNavigationTimeout = 30 * time.Second
)
