package rates

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/teleswap/exchange-desk/internal/pkg/ctxlog"
)

// ErrPairUnavailable is returned when the upstream has no quote for the
// requested pair.
var ErrPairUnavailable = errors.New("no quote for currency pair")

// Quoter fetches quotes for a base currency.
type Quoter interface {
	FetchRates(ctx context.Context, base string) (map[string]decimal.Decimal, error)
}

// ServiceConfig contains rate service settings.
type ServiceConfig struct {
	// Markup is added to the raw quote as a fraction, e.g. 0.015 for 1.5%.
	Markup float64
}

// Service serves exchange rates with caching and an optional markup.
type Service struct {
	quoter Quoter
	cache  *Cache
	markup decimal.Decimal
}

// NewService creates a new rates service. The cache may be nil.
func NewService(quoter Quoter, cache *Cache, config ServiceConfig) *Service {
	return &Service{
		quoter: quoter,
		cache:  cache,
		markup: decimal.NewFromFloat(config.Markup),
	}
}

// GetRate returns the quote for from/to with the markup applied. Cache
// errors degrade to an upstream fetch, never to a request failure.
func (s *Service) GetRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	if from == to {
		return decimal.New(1, 0), nil
	}

	cached, found, err := s.cache.Get(ctx, from, to)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("rate cache read failed", "error", err)
	}
	if found {
		return cached, nil
	}

	quotes, err := s.quoter.FetchRates(ctx, from)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch quotes: %w", err)
	}

	raw, ok := quotes[to]
	if !ok || !raw.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s/%s", ErrPairUnavailable, from, to)
	}

	rate := raw.Mul(decimal.New(1, 0).Add(s.markup))

	if err := s.cache.Set(ctx, from, to, rate); err != nil {
		ctxlog.FromContext(ctx).Warn("rate cache write failed", "error", err)
	}

	return rate, nil
}
