// Package adaptive implements C4: per-(domain, engine) counters that bias
// the initial engine selection for a Job from historical performance
// (§4.4). A patrickmn/go-cache read-through layer avoids a store round
// trip on every bias lookup; per-key locking keeps record_outcome
// atomic per (domain, engine) without a global lock (§5).
package adaptive

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/linkpellow/scrapegoat/internal/constants"
	"github.com/linkpellow/scrapegoat/internal/models"
)

// StatsStore is the persistence contract C4 relies on; the concrete
// implementation lives in internal/store (out of scope per §1, accessed
// only through this contract).
type StatsStore interface {
	GetDomainStats(ctx context.Context, domain string, engine models.Engine) (*models.DomainStats, error)
	UpsertDomainStats(ctx context.Context, stats *models.DomainStats) error
}

// Intelligence is the process-wide C4 service.
type Intelligence struct {
	store StatsStore
	cache *gocache.Cache

	keyLocksMu sync.Mutex
	keyLocks   map[string]*sync.Mutex
}

// New builds an Intelligence service backed by store, caching reads for
// ttl (a zero ttl keeps cached entries until RecordOutcome overwrites them).
func New(store StatsStore, ttl time.Duration) *Intelligence {
	return &Intelligence{
		store:    store,
		cache:    gocache.New(ttl, 2*ttl),
		keyLocks: make(map[string]*sync.Mutex),
	}
}

func cacheKey(domain string, engine models.Engine) string {
	return domain + "|" + string(engine)
}

func (a *Intelligence) lockFor(key string) *sync.Mutex {
	a.keyLocksMu.Lock()
	defer a.keyLocksMu.Unlock()
	l, ok := a.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		a.keyLocks[key] = l
	}
	return l
}

func (a *Intelligence) get(ctx context.Context, domain string, engine models.Engine) (*models.DomainStats, error) {
	key := cacheKey(domain, engine)
	if v, ok := a.cache.Get(key); ok {
		stats := v.(models.DomainStats)
		return &stats, nil
	}
	stats, err := a.store.GetDomainStats(ctx, domain, engine)
	if err != nil {
		return nil, err
	}
	if stats != nil {
		a.cache.SetDefault(key, *stats)
	}
	return stats, nil
}

// RecordOutcome increments counters for (domain, engine), recomputes the
// cached success rate, updates the escalation EMA (α=0.3) and the average
// cost per record (§4.4).
func (a *Intelligence) RecordOutcome(ctx context.Context, domain string, engine models.Engine, success bool, recordsExtracted int, escalations int, cost float64) error {
	key := cacheKey(domain, engine)
	lock := a.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	stats, err := a.get(ctx, domain, engine)
	if err != nil {
		return fmt.Errorf("adaptive: load stats for %s/%s: %w", domain, engine, err)
	}
	now := time.Now().UTC()
	if stats == nil {
		stats = &models.DomainStats{Domain: domain, Engine: engine, FirstSeen: now}
	}

	stats.TotalAttempts++
	if success {
		stats.SuccessfulAttempts++
	} else {
		stats.FailedAttempts++
	}
	if stats.TotalAttempts > 0 {
		stats.SuccessRate = float64(stats.SuccessfulAttempts) / float64(stats.TotalAttempts)
	}

	if stats.TotalAttempts == 1 {
		stats.AvgEscalations = float64(escalations)
	} else {
		stats.AvgEscalations = stats.AvgEscalations*(1-constants.AdaptiveEMAWeight) + float64(escalations)*constants.AdaptiveEMAWeight
	}

	stats.TotalRecords += int64(recordsExtracted)
	engineCost := engineCostWeight(engine)
	totalCost := stats.AvgCostPerRecord*float64(stats.TotalRecords-int64(recordsExtracted)) + cost*engineCost*float64(recordsExtracted)
	if stats.TotalRecords > 0 {
		stats.AvgCostPerRecord = totalCost / float64(stats.TotalRecords)
	}
	stats.LastUpdated = now

	if err := a.store.UpsertDomainStats(ctx, stats); err != nil {
		return fmt.Errorf("adaptive: persist stats for %s/%s: %w", domain, engine, err)
	}
	a.cache.SetDefault(key, *stats)
	return nil
}

func engineCostWeight(engine models.Engine) float64 {
	switch engine {
	case models.EngineHTTP:
		return constants.EngineCostHTTP
	case models.EngineBrowser:
		return constants.EngineCostBrowser
	case models.EngineProvider:
		return constants.EngineCostProvider
	default:
		return constants.EngineCostHTTP
	}
}

// Bias is the engine bias decision and the reason for it; Reason is empty
// for a forced engine mode and when falling through to the http default.
type Bias struct {
	Engine models.Engine
	Reason string
}

// BiasInitialEngine picks the starting engine for a new Run (§4.4).
// A forced engine_mode is honored unconditionally.
func (a *Intelligence) BiasInitialEngine(ctx context.Context, domain string, engineMode models.EngineModeEnum) (Bias, error) {
	if engineMode.Forced() {
		return Bias{Engine: models.Engine(engineMode)}, nil
	}

	httpStats, err := a.get(ctx, domain, models.EngineHTTP)
	if err != nil {
		return Bias{}, fmt.Errorf("adaptive: load http stats for %s: %w", domain, err)
	}
	if httpStats != nil && httpStats.TotalAttempts >= constants.AdaptiveMinAttempts {
		if httpStats.SuccessRate < constants.AdaptiveLowRate {
			return Bias{Engine: models.EngineBrowser, Reason: "http_low_success_rate"}, nil
		}
		if httpStats.SuccessRate > constants.AdaptiveHighRate {
			return Bias{Engine: models.EngineHTTP, Reason: "http_high_success_rate"}, nil
		}
	}

	browserStats, err := a.get(ctx, domain, models.EngineBrowser)
	if err != nil {
		return Bias{}, fmt.Errorf("adaptive: load browser stats for %s: %w", domain, err)
	}
	if browserStats != nil && browserStats.TotalAttempts >= constants.AdaptiveMinAttempts && browserStats.SuccessRate > constants.AdaptiveHighRate {
		return Bias{Engine: models.EngineBrowser, Reason: "browser_high_success_rate"}, nil
	}

	return Bias{Engine: models.EngineHTTP}, nil
}
