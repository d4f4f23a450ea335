// Copyright (C) 2026 Customs Platform Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// RateSource supplies exchange rates. Implementations may call an
// external service; the lookup may block or fail, which degrades the
// calling rule to errored rather than aborting the phase.
type RateSource interface {
	// Rate returns the multiplier converting one unit of from into to.
	Rate(ctx context.Context, from, to string) (float64, error)
}

// StaticRates is a fixed in-memory RateSource, used in tests and in
// deployments where rates are pushed out-of-band. Keys are "FROM/TO".
type StaticRates map[string]float64

// Rate implements RateSource.
func (s StaticRates) Rate(_ context.Context, from, to string) (float64, error) {
	if r, ok := s[from+"/"+to]; ok {
		return r, nil
	}
	return 0, fmt.Errorf("no exchange rate for %s/%s", from, to)
}

// Converter converts amounts to a common currency, caching rates and
// rate-limiting lookups against the external source.
//
// Thread Safety: safe for concurrent use.
type Converter struct {
	source  RateSource
	cache   *gocache.Cache
	limiter *rate.Limiter
}

// ConverterConfig tunes the converter's cache and lookup budget.
type ConverterConfig struct {
	// CacheTTL is how long a fetched rate stays valid. Default 1h.
	CacheTTL time.Duration

	// LookupsPerSecond bounds calls to the rate source. Default 5.
	LookupsPerSecond float64

	// LookupBurst is the limiter burst size. Default 5.
	LookupBurst int
}

// NewConverter wraps a rate source with caching and rate limiting.
func NewConverter(source RateSource, cfg ConverterConfig) *Converter {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.LookupsPerSecond == 0 {
		cfg.LookupsPerSecond = 5
	}
	if cfg.LookupBurst == 0 {
		cfg.LookupBurst = 5
	}
	return &Converter{
		source:  source,
		cache:   gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		limiter: rate.NewLimiter(rate.Limit(cfg.LookupsPerSecond), cfg.LookupBurst),
	}
}

// Convert converts amount from one currency to another. Identical
// currencies convert for free; otherwise the rate comes from the cache
// or, rate-limited, from the source. A missing rate is an error the
// caller records as a computation failure.
func (c *Converter) Convert(ctx context.Context, amount float64, from, to string) (float64, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if from == "" || to == "" {
		return 0, fmt.Errorf("currency codes required, got %q -> %q", from, to)
	}
	if from == to {
		return amount, nil
	}

	key := from + "/" + to
	if cached, ok := c.cache.Get(key); ok {
		return amount * cached.(float64), nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate lookup %s: %w", key, err)
	}
	r, err := c.source.Rate(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("rate lookup %s: %w", key, err)
	}
	if r <= 0 {
		return 0, fmt.Errorf("rate lookup %s: non-positive rate %f", key, r)
	}

	c.cache.SetDefault(key, r)
	return amount * r, nil
}
