package sessionpool

import (
	"testing"
	"time"

	"github.com/linkpellow/scrapegoat/internal/models"
)

func TestComputeTrustMonotoneNonIncreasingWithAge(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &models.SessionVault{FirstSeen: base, LastSuccess: base.Add(-10 * time.Hour), FailureStreak: 0, TotalUses: 10}

	prevScore := computeTrust(s, base).Score
	for _, minutesLater := range []int{30, 90, 150, 240} {
		now := base.Add(time.Duration(minutesLater) * time.Minute)
		score := computeTrust(s, now).Score
		if score > prevScore {
			t.Fatalf("trust increased with age: at +%dmin got %v, previous was %v", minutesLater, score, prevScore)
		}
		prevScore = score
	}
}

func TestComputeTrustRecencyBonus(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &models.SessionVault{FirstSeen: base, LastSuccess: base}
	breakdown := computeTrust(s, base.Add(2*time.Minute))
	if breakdown.RecencyBonus != 20 {
		t.Fatalf("expected recency bonus of 20, got %v", breakdown.RecencyBonus)
	}
}

func TestComputeTrustClampsToZero(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &models.SessionVault{FirstSeen: base, FailureStreak: 10, TotalUses: 500}
	breakdown := computeTrust(s, base.Add(10*time.Hour))
	if breakdown.Score != 0 {
		t.Fatalf("expected clamped score 0, got %v", breakdown.Score)
	}
}

func TestShouldHardRetireOnUses(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &models.SessionVault{FirstSeen: base, TotalUses: 201}
	if !shouldHardRetire(s, base.Add(time.Minute)) {
		t.Fatalf("expected hard retire above HARD_CAP uses")
	}
}

func TestCircuitBreakerOpensAndCoolsDown(t *testing.T) {
	c := newCircuitBreaker()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		c.recordFailure(now)
	}
	if !c.isOpen() {
		t.Fatalf("expected circuit to open after 10 consecutive failures")
	}
	if c.allow(now.Add(time.Minute)) {
		t.Fatalf("expected circuit to refuse requests before cooldown elapses")
	}
	if !c.allow(now.Add(31 * time.Minute)) {
		t.Fatalf("expected circuit to close after cooldown")
	}
}

func TestCircuitBreakerClosesOnSuccess(t *testing.T) {
	c := newCircuitBreaker()
	now := time.Now()
	for i := 0; i < 10; i++ {
		c.recordFailure(now)
	}
	c.recordSuccess()
	if c.isOpen() {
		t.Fatalf("expected circuit to close immediately on success")
	}
}
