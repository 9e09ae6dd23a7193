// Package oracle defines the USD price lookup the validator uses for
// dollar-denominated thresholds. The engine only consumes the interface;
// the cached decorator keeps one scan tick from hammering the upstream feed.
package oracle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/arbiterlabs/flasharb/cache"
)

// PriceSource resolves a token symbol to its USD price.
type PriceSource interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

// Static is a fixed symbol->price table, used in tests and dry runs.
type Static map[string]float64

// Price returns the configured price for symbol.
func (s Static) Price(_ context.Context, symbol string) (float64, error) {
	price, ok := s[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for symbol %q", symbol)
	}
	return price, nil
}

// Cached decorates a PriceSource with a TTL cache and a rate limiter on the
// upstream feed.
type Cached struct {
	src     PriceSource
	cache   *cache.TTLCache
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewCached wraps src. ttl bounds staleness; rps bounds upstream calls.
func NewCached(src PriceSource, ttl time.Duration, rps float64, logger *zap.Logger, clock cache.Clock) (*Cached, error) {
	if src == nil {
		return nil, fmt.Errorf("price source is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := cache.New(256, ttl, clock)
	if err != nil {
		return nil, fmt.Errorf("failed to create price cache: %w", err)
	}
	return &Cached{
		src:     src,
		cache:   c,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger,
	}, nil
}

// Price serves from cache when fresh, otherwise waits for limiter headroom
// and refreshes from the upstream source.
func (c *Cached) Price(ctx context.Context, symbol string) (float64, error) {
	key := cache.StringKey(symbol)
	if cached, ok := c.cache.Get(key); ok {
		return cached.(float64), nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limit wait aborted: %w", err)
	}

	price, err := c.src.Price(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("upstream price lookup failed: %w", err)
	}

	c.cache.Set(key, price)
	return price, nil
}
