package exchanger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/swapbot/core/logger"
	"github.com/m3rciful/swapbot/exchange/clock"
)

// DefaultDirectionsTTL matches the server-side cache of get_directions.
const DefaultDirectionsTTL = 5 * time.Minute

type directionLister interface {
	Directions(ctx context.Context, giveCurrencyID, getCurrencyID string) ([]Direction, error)
}

// DirectionCache keeps the unfiltered direction list for a TTL.
// Concurrent misses share one request.
type DirectionCache struct {
	src   directionLister
	ttl   time.Duration
	clock clock.Clock

	fetch sync.Mutex

	mu        sync.RWMutex
	items     []Direction
	fetchedAt time.Time
	valid     bool
}

// NewDirectionCache wraps src. A non-positive ttl uses DefaultDirectionsTTL.
func NewDirectionCache(src directionLister, ttl time.Duration, clk clock.Clock) *DirectionCache {
	if ttl <= 0 {
		ttl = DefaultDirectionsTTL
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &DirectionCache{src: src, ttl: ttl, clock: clk}
}

// Directions returns cached directions, refreshing them once expired.
// A failed refresh returns the error; stale entries are not served.
func (c *DirectionCache) Directions(ctx context.Context) ([]Direction, error) {
	if items, ok := c.fresh(); ok {
		return items, nil
	}
	c.fetch.Lock()
	defer c.fetch.Unlock()
	if items, ok := c.fresh(); ok {
		return items, nil
	}

	items, err := c.src.Directions(ctx, "", "")
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.items = items
	c.fetchedAt = c.clock.Now()
	c.valid = true
	c.mu.Unlock()
	logger.Debug(ctx, logger.CompExchanger, "directions.refresh",
		slog.Int("count", len(items)),
	)
	return clone(items), nil
}

// Invalidate drops the cached list.
func (c *DirectionCache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.items = nil
	c.mu.Unlock()
}

// Warm preloads the cache. It satisfies bootstrap.Warmer.
func (c *DirectionCache) Warm(ctx context.Context) error {
	_, err := c.Directions(ctx)
	return err
}

func (c *DirectionCache) fresh() ([]Direction, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.valid || c.clock.Now().Sub(c.fetchedAt) >= c.ttl {
		return nil, false
	}
	return clone(c.items), true
}

func clone(in []Direction) []Direction {
	out := make([]Direction, len(in))
	copy(out, in)
	return out
}
