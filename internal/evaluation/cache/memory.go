package cache

import (
	"context"
	"sync"
	"time"

	"evalledger/internal/evaluation/models"
)

// Memory is a process-local cache for single-instance deployments.
type Memory struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	cases   []*models.TestCase
	expires time.Time
	gen     uint64
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{ttl: ttl, now: time.Now}
}

func (c *Memory) GetGlobal(_ context.Context) ([]*models.TestCase, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cases == nil || !c.now().Before(c.expires) {
		return nil, false, nil
	}
	return cloneCases(c.cases), true, nil
}

func (c *Memory) Generation(_ context.Context) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen, nil
}

// SetGlobal stores cases unless an invalidation happened after gen was read.
func (c *Memory) SetGlobal(_ context.Context, gen uint64, cases []*models.TestCase) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return nil
	}
	c.cases = cloneCases(cases)
	c.expires = c.now().Add(c.ttl)
	return nil
}

func (c *Memory) InvalidateGlobal(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.cases = nil
	return nil
}

func cloneCases(in []*models.TestCase) []*models.TestCase {
	out := make([]*models.TestCase, len(in))
	for i, tc := range in {
		out[i] = tc.Clone()
	}
	return out
}
