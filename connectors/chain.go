package connectors

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// ErrPartial signals a provider produced usable but incomplete data. The
// chain stops and reports the result as Degraded instead of advancing.
var ErrPartial = errors.New("partial data")

const (
	DefaultProviderTimeout = 4 * time.Second
	DefaultChainTimeout    = 8 * time.Second
)

// Provider is one underlying data source in a fallback chain.
type Provider[T any] interface {
	Name() string
	Fetch(ctx context.Context, domain string) (T, error)
}

// Chain tries an ordered list of providers until one yields parseable
// data or the chain is exhausted. A provider that errors or times out is
// skipped, not retried, within a single scan. The chain never returns an
// error: exhaustion becomes an Unavailable result carrying the last
// failure reason.
type Chain[T any] struct {
	Source          string
	Providers       []Provider[T]
	ProviderTimeout time.Duration
	Timeout         time.Duration
	Log             *log.Logger
}

func NewChain[T any](source string, logger *log.Logger, providers ...Provider[T]) *Chain[T] {
	return &Chain[T]{
		Source:          source,
		Providers:       providers,
		ProviderTimeout: DefaultProviderTimeout,
		Timeout:         DefaultChainTimeout,
		Log:             logger,
	}
}

func (c *Chain[T]) Run(ctx context.Context, domain string) Result[T] {
	if len(c.Providers) == 0 {
		return Unavailable[T](fmt.Sprintf("%s: no providers configured", c.Source))
	}
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	lastErr := fmt.Errorf("%s: chain exhausted", c.Source)
	for _, p := range c.Providers {
		if ctx.Err() != nil {
			lastErr = fmt.Errorf("%s: %w", c.Source, ctx.Err())
			break
		}
		callCtx, done := context.WithTimeout(ctx, c.ProviderTimeout)
		data, err := p.Fetch(callCtx, domain)
		done()
		if err == nil {
			return OK(p.Name(), data)
		}
		if errors.Is(err, ErrPartial) {
			return Degraded(p.Name(), data, err.Error())
		}
		lastErr = fmt.Errorf("%s/%s: %w", c.Source, p.Name(), err)
		if c.Log != nil {
			c.Log.Printf("%s: provider %s failed, advancing: %v", c.Source, p.Name(), err)
		}
	}
	return Unavailable[T](lastErr.Error())
}
