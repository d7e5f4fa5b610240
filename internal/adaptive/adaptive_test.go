package adaptive

import (
	"context"
	"testing"
	"time"

	"github.com/linkpellow/scrapegoat/internal/models"
)

type fakeStatsStore struct {
	byKey map[string]*models.DomainStats
}

func newFakeStatsStore() *fakeStatsStore {
	return &fakeStatsStore{byKey: make(map[string]*models.DomainStats)}
}

func (f *fakeStatsStore) GetDomainStats(ctx context.Context, domain string, engine models.Engine) (*models.DomainStats, error) {
	s, ok := f.byKey[cacheKey(domain, engine)]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStatsStore) UpsertDomainStats(ctx context.Context, stats *models.DomainStats) error {
	cp := *stats
	f.byKey[cacheKey(stats.Domain, stats.Engine)] = &cp
	return nil
}

func TestBiasInitialEngineDefaultsToHTTP(t *testing.T) {
	intel := New(newFakeStatsStore(), 0)
	bias, err := intel.BiasInitialEngine(context.Background(), "fresh.example.com", models.EngineModeAuto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bias.Engine != models.EngineHTTP {
		t.Fatalf("expected http default for a domain with no history, got %v", bias.Engine)
	}
}

func TestBiasInitialEngineForcedModeShortCircuits(t *testing.T) {
	intel := New(newFakeStatsStore(), 0)
	bias, err := intel.BiasInitialEngine(context.Background(), "example.com", models.EngineModeProvider)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bias.Engine != models.EngineProvider || bias.Reason != "" {
		t.Fatalf("expected forced provider tier with no bias reason, got %+v", bias)
	}
}

func TestBiasInitialEngineLowHTTPSuccessBiasesBrowser(t *testing.T) {
	ctx := context.Background()
	intel := New(newFakeStatsStore(), 0)
	domain := "blocked.example.com"
	for i := 0; i < 5; i++ {
		if err := intel.RecordOutcome(ctx, domain, models.EngineHTTP, false, 0, 0, 1.0); err != nil {
			t.Fatalf("record outcome: %v", err)
		}
	}
	bias, err := intel.BiasInitialEngine(ctx, domain, models.EngineModeAuto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bias.Engine != models.EngineBrowser {
		t.Fatalf("expected a bias toward browser after repeated http failures, got %v", bias.Engine)
	}
}

// TestBiasInitialEngineMonotoneUnderHighHTTPSuccess is §8's adaptive-bias
// monotonicity property: after N additional successful HTTP outcomes,
// BiasInitialEngine cannot come back with a non-HTTP engine "because HTTP
// has low success" — once the rate crosses the high threshold it must
// keep recommending http, never flip to browser/provider from more
// successes.
func TestBiasInitialEngineMonotoneUnderHighHTTPSuccess(t *testing.T) {
	ctx := context.Background()
	intel := New(newFakeStatsStore(), 0)
	domain := "reliable.example.com"

	for i := 0; i < 5; i++ {
		if err := intel.RecordOutcome(ctx, domain, models.EngineHTTP, true, 1, 0, 1.0); err != nil {
			t.Fatalf("record outcome: %v", err)
		}
	}
	bias, err := intel.BiasInitialEngine(ctx, domain, models.EngineModeAuto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bias.Engine != models.EngineHTTP {
		t.Fatalf("expected http bias after consistent successes, got %v", bias.Engine)
	}

	for i := 0; i < 20; i++ {
		if err := intel.RecordOutcome(ctx, domain, models.EngineHTTP, true, 1, 0, 1.0); err != nil {
			t.Fatalf("record outcome: %v", err)
		}
		bias, err := intel.BiasInitialEngine(ctx, domain, models.EngineModeAuto)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if bias.Engine != models.EngineHTTP {
			t.Fatalf("bias flipped away from http after %d additional successes: %v", i+1, bias.Engine)
		}
	}
}

func TestRecordOutcomeComputesSuccessRate(t *testing.T) {
	ctx := context.Background()
	store := newFakeStatsStore()
	intel := New(store, 0)
	domain := "counted.example.com"

	for i := 0; i < 3; i++ {
		if err := intel.RecordOutcome(ctx, domain, models.EngineHTTP, true, 2, 0, 1.0); err != nil {
			t.Fatalf("record outcome: %v", err)
		}
	}
	if err := intel.RecordOutcome(ctx, domain, models.EngineHTTP, false, 0, 1, 1.0); err != nil {
		t.Fatalf("record outcome: %v", err)
	}

	stats, err := store.GetDomainStats(ctx, domain, models.EngineHTTP)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TotalAttempts != 4 || stats.SuccessfulAttempts != 3 || stats.FailedAttempts != 1 {
		t.Fatalf("unexpected counters: %+v", stats)
	}
	wantRate := 3.0 / 4.0
	if stats.SuccessRate != wantRate {
		t.Fatalf("expected success rate %v, got %v", wantRate, stats.SuccessRate)
	}
}

func TestGetReturnsCachedStatsAfterRecordOutcome(t *testing.T) {
	intel := New(newFakeStatsStore(), time.Minute)
	ctx := context.Background()
	domain := "cached.example.com"
	if err := intel.RecordOutcome(ctx, domain, models.EngineHTTP, true, 1, 0, 1.0); err != nil {
		t.Fatalf("record outcome: %v", err)
	}
	stats, err := intel.get(ctx, domain, models.EngineHTTP)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats == nil || stats.TotalAttempts != 1 {
		t.Fatalf("expected cached stats to reflect the recorded outcome, got %+v", stats)
	}
}
