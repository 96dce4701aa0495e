// Package catalog holds the tradable currency-pair directions of a session.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/m3rciful/swapbot/core/logger"
)

var (
	// ErrCatalogUnavailable is returned when the directions source fails.
	ErrCatalogUnavailable = errors.New("catalog: directions unavailable")
	// ErrEmptyCatalog is returned when no direction is loaded.
	ErrEmptyCatalog = errors.New("catalog: no directions available")
)

// Direction is an exchange-capable ordered pair of currencies.
type Direction struct {
	ID        string
	GiveID    string
	GiveLabel string
	GetID     string
	GetLabel  string
}

// Source fetches the full list of directions.
type Source interface {
	FetchDirections(ctx context.Context) ([]Direction, error)
}

type pairKey struct{ give, get string }

// Catalog is an ordered, de-duplicated list of directions.
// It is safe for concurrent use.
type Catalog struct {
	src Source

	mu         sync.RWMutex
	directions []Direction
	byPair     map[pairKey]Direction
}

// New returns an empty catalog backed by src.
func New(src Source) *Catalog {
	return &Catalog{src: src, byPair: map[pairKey]Direction{}}
}

// Load fetches the catalog. On failure the previous contents stay untouched.
// Duplicate label pairs are dropped; the first one seen wins.
func (c *Catalog) Load(ctx context.Context) ([]Direction, error) {
	start := time.Now()
	fetched, err := c.src.FetchDirections(ctx)
	if err != nil {
		logger.Warn(ctx, logger.CompCatalog, "catalog.load",
			slog.String("status", "fail"),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.Duration("duration", logger.RoundMS(time.Since(start))),
		)
		return nil, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
	}

	directions := make([]Direction, 0, len(fetched))
	byPair := make(map[pairKey]Direction, len(fetched))
	for _, d := range fetched {
		key := pairKey{d.GiveLabel, d.GetLabel}
		if _, dup := byPair[key]; dup {
			continue
		}
		byPair[key] = d
		directions = append(directions, d)
	}

	c.mu.Lock()
	c.directions = directions
	c.byPair = byPair
	c.mu.Unlock()

	logger.Info(ctx, logger.CompCatalog, "catalog.load",
		slog.String("status", "ok"),
		slog.Int("directions", len(directions)),
		slog.Int("duplicates", len(fetched)-len(directions)),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return append([]Direction(nil), directions...), nil
}

// Len reports the number of loaded directions.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.directions)
}

// Directions returns a copy of the loaded directions in catalog order.
func (c *Catalog) Directions() []Direction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Direction(nil), c.directions...)
}

// GiveOptions returns distinct give labels in first-seen order.
func (c *Catalog) GiveOptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, d := range c.directions {
		if _, ok := seen[d.GiveLabel]; ok {
			continue
		}
		seen[d.GiveLabel] = struct{}{}
		out = append(out, d.GiveLabel)
	}
	return out
}

// GetOptions returns distinct get labels reachable from give.
func (c *Catalog) GetOptions(give string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, d := range c.directions {
		if d.GiveLabel != give {
			continue
		}
		if _, ok := seen[d.GetLabel]; ok {
			continue
		}
		seen[d.GetLabel] = struct{}{}
		out = append(out, d.GetLabel)
	}
	return out
}

// Resolve looks up a direction by exact labels.
func (c *Catalog) Resolve(give, get string) (Direction, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.byPair[pairKey{give, get}]
	return d, ok
}

// ReverseOf returns the direction exchanging get for give.
func (c *Catalog) ReverseOf(give, get string) (Direction, bool) {
	return c.Resolve(get, give)
}

// ByID returns the direction with the given identifier.
func (c *Catalog) ByID(id string) (Direction, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, d := range c.directions {
		if d.ID == id {
			return d, true
		}
	}
	return Direction{}, false
}

// ResolveDefault picks the first direction whose give label contains
// preferredGive and whose get label contains every whitespace-separated
// keyword of preferredGet, case-insensitively. Without a match the first
// direction is returned.
func (c *Catalog) ResolveDefault(preferredGive, preferredGet string) (Direction, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.directions) == 0 {
		return Direction{}, ErrEmptyCatalog
	}
	give := strings.ToLower(strings.TrimSpace(preferredGive))
	keywords := strings.Fields(strings.ToLower(preferredGet))
	for _, d := range c.directions {
		if matches(d, give, keywords) {
			return d, nil
		}
	}
	return c.directions[0], nil
}

func matches(d Direction, give string, keywords []string) bool {
	if !strings.Contains(strings.ToLower(d.GiveLabel), give) {
		return false
	}
	getLabel := strings.ToLower(d.GetLabel)
	for _, kw := range keywords {
		if !strings.Contains(getLabel, kw) {
			return false
		}
	}
	return true
}
