// Package sessionpool implements C5: persisted browser sessions keyed by
// (site_domain, proxy_identity), trust scoring and reuse thresholds, a
// per-site circuit breaker, and disk persistence (§3, §4.5, §6).
package sessionpool

import (
	"log"
	"sync"
	"time"

	"github.com/linkpellow/scrapegoat/internal/constants"
	"github.com/linkpellow/scrapegoat/internal/models"
)

// Pool is the process-wide C5 service. Mutations are serialized by a
// single mutex (§5: "session-pool mutations are serialized by a
// per-process lock"); the pool is not expected to be large enough for
// that lock to be a real contention point.
type Pool struct {
	mu       sync.Mutex
	dir      string
	sessions map[models.SessionKey]*models.SessionVault
	circuits map[string]*circuitBreaker
	now      func() time.Time
	observer func(domain string, open bool)
}

// New builds a Pool, optionally hydrating it from persistDir (empty
// disables persistence entirely).
func New(persistDir string) *Pool {
	p := &Pool{
		dir:      persistDir,
		sessions: make(map[models.SessionKey]*models.SessionVault),
		circuits: make(map[string]*circuitBreaker),
		now:      time.Now,
	}
	p.loadFromDisk()
	return p
}

// SetCircuitObserver registers fn to be called whenever a per-domain
// circuit breaker opens or closes, so a worker can publish it onto the
// event bus without the pool importing eventbus itself.
func (p *Pool) SetCircuitObserver(fn func(domain string, open bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observer = fn
}

func (p *Pool) notifyCircuit(domain string, open bool) {
	if p.observer != nil {
		p.observer(domain, open)
	}
}

func (p *Pool) circuitFor(domain string) *circuitBreaker {
	c, ok := p.circuits[domain]
	if !ok {
		c = newCircuitBreaker()
		p.circuits[domain] = c
	}
	return c
}

// Get returns a reusable session for (domain, proxy), or nil if the
// circuit is open, no session exists, or the existing one fails the trust
// threshold or a hard-retire rule (§4.5 get operation).
func (p *Pool) Get(domain string, proxyIdentity string) *models.SessionVault {
	if proxyIdentity == "" {
		proxyIdentity = models.DefaultProxyIdentity
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if !p.circuitFor(domain).allow(now) {
		log.Printf("[INFO] sessionpool: circuit open for domain=%s, refusing reuse", domain)
		return nil
	}

	key := models.SessionKey{Domain: domain, ProxyIdentity: proxyIdentity}
	s, ok := p.sessions[key]
	if !ok {
		return nil
	}

	if shouldHardRetire(s, now) {
		log.Printf("[INFO] sessionpool: hard-retiring session %s/%s (age_min=%.1f uses=%d streak=%d)",
			domain, proxyIdentity, now.Sub(s.FirstSeen).Minutes(), s.TotalUses, s.FailureStreak)
		delete(p.sessions, key)
		p.remove(key)
		return nil
	}

	breakdown := computeTrust(s, now)
	log.Printf("[DIAGNOSTIC] sessionpool: trust breakdown for %s/%s: base=%.0f age_penalty=%.1f failure_penalty=%.1f recency_bonus=%.1f use_penalty=%.1f hard_cap_penalty=%.1f score=%.1f",
		domain, proxyIdentity, breakdown.Base, breakdown.AgePenalty, breakdown.FailurePenalty, breakdown.RecencyBonus, breakdown.UsePenalty, breakdown.HardCapPenalty, breakdown.Score)

	if breakdown.Score < constants.TrustDegraded {
		log.Printf("[INFO] sessionpool: retiring session %s/%s, trust %.1f below degraded floor", domain, proxyIdentity, breakdown.Score)
		delete(p.sessions, key)
		p.remove(key)
		return nil
	}

	clone := *s
	return &clone
}

// Create starts a new persisted session for (domain, proxy).
func (p *Pool) Create(domain, proxyIdentity string, cookies, storageState []byte, userAgent, viewport string) *models.SessionVault {
	if proxyIdentity == "" {
		proxyIdentity = models.DefaultProxyIdentity
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	s := &models.SessionVault{
		Key:          models.SessionKey{Domain: domain, ProxyIdentity: proxyIdentity},
		Cookies:      cookies,
		StorageState: storageState,
		UserAgent:    userAgent,
		Viewport:     viewport,
		FirstSeen:    now,
	}
	p.sessions[s.Key] = s
	if err := p.persist(s); err != nil {
		log.Printf("[WARN] sessionpool: %v", err)
	}
	return s
}

// MarkSuccess resets the failure streak, bumps use/success bookkeeping,
// persists the session, and closes the site's circuit breaker (§4.5).
func (p *Pool) MarkSuccess(domain, proxyIdentity string, hadCaptcha bool) {
	if proxyIdentity == "" {
		proxyIdentity = models.DefaultProxyIdentity
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	key := models.SessionKey{Domain: domain, ProxyIdentity: proxyIdentity}
	s, ok := p.sessions[key]
	if !ok {
		return
	}
	now := p.now()
	s.FailureStreak = 0
	s.LastSuccess = now
	s.TotalUses++
	if hadCaptcha {
		s.CaptchaCount++
	}
	if err := p.persist(s); err != nil {
		log.Printf("[WARN] sessionpool: %v", err)
	}
	if wasOpen := p.circuitFor(domain).recordSuccess(); wasOpen {
		p.notifyCircuit(domain, false)
	}
}

// MarkFailure increments the failure streak and use count, auto-retiring
// at MaxFailureStreak, and ticks the site circuit breaker (§4.5).
func (p *Pool) MarkFailure(domain, proxyIdentity string) {
	if proxyIdentity == "" {
		proxyIdentity = models.DefaultProxyIdentity
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	key := models.SessionKey{Domain: domain, ProxyIdentity: proxyIdentity}
	if s, ok := p.sessions[key]; ok {
		s.FailureStreak++
		s.TotalUses++
		if s.FailureStreak >= constants.MaxFailureStreak {
			log.Printf("[INFO] sessionpool: auto-retiring %s/%s after %d consecutive failures", domain, proxyIdentity, s.FailureStreak)
			delete(p.sessions, key)
			p.remove(key)
		} else if err := p.persist(s); err != nil {
			log.Printf("[WARN] sessionpool: %v", err)
		}
	}
	if justOpened := p.circuitFor(domain).recordFailure(now); justOpened {
		p.notifyCircuit(domain, true)
	}
}

// CleanupExpired sweeps sessions whose trust has fallen below the reuse
// floor or that meet a hard-retire rule (§4.5).
func (p *Pool) CleanupExpired() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	removed := 0
	for key, s := range p.sessions {
		if shouldHardRetire(s, now) || computeTrust(s, now).Score < constants.TrustDegraded {
			delete(p.sessions, key)
			p.remove(key)
			removed++
		}
	}
	if removed > 0 {
		log.Printf("[INFO] sessionpool: cleanup_expired removed %d sessions", removed)
	}
	return removed
}

// Stats is the observability summary of §4.5.
type Stats struct {
	Total           int
	Healthy         int
	Degraded        int
	MeanAgeMinutes  float64
	MeanUses        float64
	CaptchaRatePct  float64
	SampleBreakdown *models.TrustBreakdown
}

// Stats computes the pool-wide summary of §4.5 ("stats" operation).
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var stats Stats
	var totalAge, totalUses, totalCaptcha, totalRequests float64
	for _, s := range p.sessions {
		breakdown := computeTrust(s, now)
		stats.Total++
		switch {
		case breakdown.Score >= constants.TrustHealthy:
			stats.Healthy++
		case breakdown.Score >= constants.TrustDegraded:
			stats.Degraded++
		}
		totalAge += now.Sub(s.FirstSeen).Minutes()
		totalUses += float64(s.TotalUses)
		totalCaptcha += float64(s.CaptchaCount)
		totalRequests += float64(s.TotalUses)
		if stats.SampleBreakdown == nil {
			b := breakdown
			stats.SampleBreakdown = &b
		}
	}
	if stats.Total > 0 {
		stats.MeanAgeMinutes = totalAge / float64(stats.Total)
		stats.MeanUses = totalUses / float64(stats.Total)
	}
	if totalRequests > 0 {
		stats.CaptchaRatePct = totalCaptcha / totalRequests * 100
	}
	return stats
}
