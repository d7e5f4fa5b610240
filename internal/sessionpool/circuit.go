package sessionpool

import (
	"sync"
	"time"

	"github.com/linkpellow/scrapegoat/internal/constants"
)

// circuitBreaker is a per-site consecutive-failure counter (§4.5). Opens at
// CircuitFailureThreshold, closes after CircuitCooldownMinutes of no
// failures or immediately on any success.
type circuitBreaker struct {
	mu              sync.Mutex
	consecutiveFail int
	openedAt        time.Time
	open            bool
}

func newCircuitBreaker() *circuitBreaker {
	return &circuitBreaker{}
}

// allow reports whether a request may proceed against this site right now.
func (c *circuitBreaker) allow(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return true
	}
	if now.Sub(c.openedAt) >= constants.CircuitCooldownMinutes*time.Minute {
		c.open = false
		c.consecutiveFail = 0
		return true
	}
	return false
}

// recordSuccess closes the circuit and reports whether it had been open,
// so the pool can tell the difference between "stayed closed" and "just
// closed" for its circuit-change notifications.
func (c *circuitBreaker) recordSuccess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	wasOpen := c.open
	c.consecutiveFail = 0
	c.open = false
	return wasOpen
}

// recordFailure reports whether this failure is the one that just tripped
// the breaker (as opposed to one more failure against an already-open or
// still-closed circuit).
func (c *circuitBreaker) recordFailure(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveFail++
	if c.open {
		// A failure while open restarts the cooldown.
		c.openedAt = now
		return false
	}
	if c.consecutiveFail >= constants.CircuitFailureThreshold {
		c.open = true
		c.openedAt = now
		return true
	}
	return false
}

func (c *circuitBreaker) isOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}
