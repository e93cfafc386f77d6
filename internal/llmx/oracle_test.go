package llmx

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingBackend struct {
	calls atomic.Int64
	resp  Response
	err   error
}

func (b *countingBackend) Create(ctx context.Context, req Request) (Response, error) {
	b.calls.Add(1)
	return b.resp, b.err
}

func TestCreateCachesDeterministicCalls(t *testing.T) {
	backend := &countingBackend{resp: Response{Content: "hello"}}
	o := New(backend, 10, time.Minute)
	req := Request{Model: "m", Messages: []Message{{Role: "user", Content: "x"}}, Temperature: 0}

	_, err := o.Create(context.Background(), req)
	require.NoError(t, err)
	_, err = o.Create(context.Background(), req)
	require.NoError(t, err)

	assert.EqualValues(t, 1, backend.calls.Load(), "second identical call should hit cache")
	stats := o.Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.EqualValues(t, 0, stats.Bypassed)
}

func TestCreateBypassesNonDeterministicCalls(t *testing.T) {
	backend := &countingBackend{resp: Response{Content: "hi"}}
	o := New(backend, 10, time.Minute)
	req := Request{Model: "m", Messages: []Message{{Role: "user", Content: "x"}}, Temperature: 0.7}

	_, _ = o.Create(context.Background(), req)
	_, _ = o.Create(context.Background(), req)

	assert.EqualValues(t, 2, backend.calls.Load(), "temperature>0 must never be cached")
	stats := o.Stats()
	assert.EqualValues(t, 0, stats.Hits)
	assert.EqualValues(t, 0, stats.Misses)
	assert.EqualValues(t, 2, stats.Bypassed)
}

func TestCreatePropagatesBackendErrorsWithoutCaching(t *testing.T) {
	backend := &countingBackend{err: errors.New("boom")}
	o := New(backend, 10, time.Minute)
	req := Request{Model: "m", Temperature: 0}

	_, err := o.Create(context.Background(), req)
	require.Error(t, err)
	_, err = o.Create(context.Background(), req)
	require.Error(t, err)

	assert.EqualValues(t, 2, backend.calls.Load(), "a failed call must not be memoized")
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	backend := &countingBackend{resp: Response{Content: "x"}}
	o := New(backend, 10, time.Millisecond)
	req := Request{Model: "m", Temperature: 0}

	_, _ = o.Create(context.Background(), req)
	time.Sleep(5 * time.Millisecond)
	_, _ = o.Create(context.Background(), req)

	assert.EqualValues(t, 2, backend.calls.Load())
	assert.EqualValues(t, 1, o.Stats().Expirations)
}

func TestCacheEvictsOldestOnOverflow(t *testing.T) {
	backend := &countingBackend{resp: Response{Content: "x"}}
	o := New(backend, 2, time.Hour)

	for i := 0; i < 3; i++ {
		req := Request{Model: "m", Temperature: 0, MaxOutputTokens: i}
		_, _ = o.Create(context.Background(), req)
	}
	assert.EqualValues(t, 1, o.Stats().Evictions)
	assert.Len(t, o.cache.entries, 2)
}

func TestHitRateComputation(t *testing.T) {
	s := Stats{Hits: 3, Misses: 1}
	assert.InDelta(t, 0.75, s.HitRate(), 0.0001)
	assert.Equal(t, int64(4), s.TotalRequests())

	empty := Stats{}
	assert.Equal(t, float64(0), empty.HitRate())
}
