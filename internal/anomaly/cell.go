// Package anomaly holds the most recent externally supplied anomaly score.
package anomaly

import (
	"math"
	"sync"
	"time"
)

// Cell is a single-slot, last-writer-wins score. Readers on the hot path use
// TryLoad and never wait for a writer.
type Cell struct {
	mu      sync.RWMutex
	score   float64
	set     bool
	updated time.Time
}

// Store records score clamped to [0,1]. Non-finite scores are rejected.
func (c *Cell) Store(score float64, at time.Time) bool {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return false
	}
	score = math.Max(0, math.Min(1, score))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.score = score
	c.set = true
	c.updated = at
	return true
}

// Clear forgets the current score.
func (c *Cell) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.score = 0
	c.set = false
	c.updated = time.Time{}
}

// Load waits for any writer and returns the current score.
func (c *Cell) Load() (score float64, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.score, c.set
}

// TryLoad returns the current score without blocking. ok is false when no
// score is set or a writer holds the cell.
func (c *Cell) TryLoad() (score float64, ok bool) {
	if !c.mu.TryRLock() {
		return 0, false
	}
	defer c.mu.RUnlock()
	return c.score, c.set
}

// UpdatedAt is when the current score was stored; zero when unset.
func (c *Cell) UpdatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updated
}
