package sessionpool

import (
	"time"

	"github.com/linkpellow/scrapegoat/internal/constants"
	"github.com/linkpellow/scrapegoat/internal/models"
)

// computeTrust implements the §4.5 scoring formula: start at 100 and apply
// age, failure-streak, recency, and use penalties/bonuses, clamped to
// [0,100]. The breakdown is returned alongside the score so callers can
// log it on reuse.
func computeTrust(s *models.SessionVault, now time.Time) models.TrustBreakdown {
	ageMinutes := now.Sub(s.FirstSeen).Minutes()
	minutesSinceSuccess := now.Sub(s.LastSuccess).Minutes()

	b := models.TrustBreakdown{Base: 100}

	if over := ageMinutes - constants.TrustAgePenaltyThresholdMinutes; over > 0 {
		b.AgePenalty = over * constants.TrustAgePenaltyRate
	}

	b.FailurePenalty = float64(s.FailureStreak) * constants.TrustFailurePenaltyRate

	if !s.LastSuccess.IsZero() && minutesSinceSuccess < constants.TrustRecencyWindowMinutes {
		b.RecencyBonus = constants.TrustRecencyBonus
	}

	if over := float64(s.TotalUses) - constants.TrustUsePenaltyThreshold; over > 0 {
		b.UsePenalty = over * constants.TrustUsePenaltyRate
	}
	if s.TotalUses > constants.TrustUseStepThreshold {
		b.HardCapPenalty = constants.TrustUseStepPenalty
	}

	score := b.Base - b.AgePenalty - b.FailurePenalty + b.RecencyBonus - b.UsePenalty - b.HardCapPenalty
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	b.Score = score
	return b
}

// shouldHardRetire reports the unconditional retirement rules of §4.5,
// independent of the trust score.
func shouldHardRetire(s *models.SessionVault, now time.Time) bool {
	ageMinutes := now.Sub(s.FirstSeen).Minutes()
	return ageMinutes > constants.SessionMaxAgeMinutes ||
		s.TotalUses > constants.SessionHardUseCap ||
		s.FailureStreak >= constants.MaxFailureStreak
}
