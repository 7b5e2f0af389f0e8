package detector

import (
	"sync"
	"time"

	"github.com/quantfeed/perpwatch/types"
)

type cooldownKey struct {
	symbol string
	kind   types.AnomalyKind
}

// CooldownMap enforces one alert per (symbol, kind) per cooldown period.
// Checks and records are atomic per key.
type CooldownMap struct {
	mu       sync.Mutex
	period   time.Duration
	lastEmit map[cooldownKey]time.Time

	nowFunc func() time.Time
}

// NewCooldownMap creates a map with the given cooldown period.
func NewCooldownMap(period time.Duration) *CooldownMap {
	return &CooldownMap{
		period:   period,
		lastEmit: make(map[cooldownKey]time.Time),
		nowFunc:  time.Now,
	}
}

// Ready reports whether (symbol, kind) is past its cooldown.
func (c *CooldownMap) Ready(symbol string, kind types.AnomalyKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, seen := c.lastEmit[cooldownKey{symbol, kind}]
	if !seen {
		return true
	}
	return c.nowFunc().Sub(last) > c.period
}

// Record stamps the emission time for (symbol, kind). Cooldown begins now.
func (c *CooldownMap) Record(symbol string, kind types.AnomalyKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastEmit[cooldownKey{symbol, kind}] = c.nowFunc()
}

// Purge drops entries older than twice the cooldown period.
func (c *CooldownMap) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.nowFunc().Add(-2 * c.period)
	for k, last := range c.lastEmit {
		if last.Before(cutoff) {
			delete(c.lastEmit, k)
		}
	}
}

// Len returns the number of live entries.
func (c *CooldownMap) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lastEmit)
}
