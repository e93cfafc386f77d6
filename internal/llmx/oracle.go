package llmx

import (
	"context"
	"time"

	"mnemo/internal/observability"
)

// Oracle wraps a Backend with the deterministic-only memoization policy from
// spec.md §4.1. It never swallows backend errors and never records a cache
// entry for a failed call.
type Oracle struct {
	backend Backend
	cache   *cache
	invalid Invalidator // optional, for distributed cache-bump notifications
}

// Invalidator broadcasts cache-clear events to other processes sharing a
// workspace root (e.g. via Redis pub/sub). It is optional; a nil Invalidator
// makes the oracle purely local, matching spec.md's single-process default.
type Invalidator interface {
	PublishInvalidateAll(ctx context.Context) error
	Subscribe(ctx context.Context) (<-chan struct{}, func())
}

type Option func(*Oracle)

// WithInvalidator attaches a distributed cache-invalidation channel.
func WithInvalidator(inv Invalidator) Option {
	return func(o *Oracle) { o.invalid = inv }
}

// New constructs an Oracle with the given backend and LRU+TTL capacity/ttl.
func New(backend Backend, capacity int, ttl time.Duration, opts ...Option) *Oracle {
	o := &Oracle{backend: backend, cache: newCache(capacity, ttl)}
	for _, opt := range opts {
		opt(o)
	}
	if o.invalid != nil {
		ch, _ := o.invalid.Subscribe(context.Background())
		go func() {
			for range ch {
				o.cache.clear()
			}
		}()
	}
	return o
}

// Create implements spec.md §4.1's create() contract. Requests with
// temperature > 0 unconditionally bypass the cache.
func (o *Oracle) Create(ctx context.Context, req Request) (Response, error) {
	log := observability.LoggerWithTrace(ctx)

	if req.Temperature > 0 {
		o.cache.recordBypass()
		return o.backend.Create(ctx, req)
	}

	key := cacheKey(req)
	if resp, ok := o.cache.get(key); ok {
		log.Debug().Str("cache_key", key[:12]).Msg("llm_oracle_cache_hit")
		return resp, nil
	}

	resp, err := o.backend.Create(ctx, req)
	if err != nil {
		return Response{}, err
	}
	o.cache.set(key, resp)
	return resp, nil
}

// Stats returns a snapshot of hit/miss/bypass/eviction/expiration counters.
func (o *Oracle) Stats() Stats { return o.cache.snapshot() }

// ClearCache empties the cache without affecting statistics history.
func (o *Oracle) ClearCache() {
	o.cache.clear()
	if o.invalid != nil {
		_ = o.invalid.PublishInvalidateAll(context.Background())
	}
}

// InvalidateKey evicts a single memoized request, if present, identified by
// the same (model, messages, temperature, max_output_tokens, reasoning_effort)
// tuple a Create call would have used.
func (o *Oracle) InvalidateKey(req Request) bool {
	return o.cache.invalidate(cacheKey(req))
}

// InvalidateRawKey evicts by the opaque cache key itself (the full 64-hex
// string), for operator tooling that only has the key string and not the
// original Request. Stats does not list keys, and the cache-hit debug log
// shows only the key's first 12 characters.
func (o *Oracle) InvalidateRawKey(key string) bool {
	return o.cache.invalidate(key)
}
