package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRequestPool_AcquireRelease(t *testing.T) {
	p := New(Config{MaxConcurrent: 2, RequestsPerMinute: 100, Window: time.Minute}, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, p.Acquire(ctx))
	require.NoError(t, p.Acquire(ctx))
	assert.Equal(t, 2, p.Active())

	p.Release()
	p.Release()
	assert.Equal(t, 0, p.Active())
}

func TestRequestPool_ConcurrencyBound(t *testing.T) {
	p := New(Config{MaxConcurrent: 1, RequestsPerMinute: 100, Window: time.Minute}, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, p.Acquire(ctx))

	// A second Acquire must block until the slot is released.
	acquired := make(chan struct{})
	go func() {
		if err := p.Acquire(ctx); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should have blocked")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never completed")
	}
	p.Release()
}

func TestRequestPool_RateLimitBoundary(t *testing.T) {
	window := 300 * time.Millisecond
	p := New(Config{MaxConcurrent: 10, RequestsPerMinute: 3, Window: window}, zap.NewNop())
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Acquire(ctx))
		p.Release()
	}
	assert.Less(t, time.Since(start), window, "first N admissions should not wait")

	// The (N+1)th admission must wait for the window to roll.
	require.NoError(t, p.Acquire(ctx))
	p.Release()
	assert.GreaterOrEqual(t, time.Since(start), window)
}

func TestRequestPool_AcquireCancelled(t *testing.T) {
	p := New(Config{MaxConcurrent: 1, RequestsPerMinute: 100, Window: time.Minute}, zap.NewNop())

	require.NoError(t, p.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := p.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	p.Release()
}

func TestRequestPool_RateWaitCancelled(t *testing.T) {
	p := New(Config{MaxConcurrent: 10, RequestsPerMinute: 1, Window: time.Minute}, zap.NewNop())

	require.NoError(t, p.Acquire(context.Background()))
	p.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := p.Acquire(ctx)
	require.Error(t, err)

	// The slot taken during the failed acquire must have been given
	// back.
	assert.Equal(t, 0, p.Active())
	require.True(t, p.slots.TryAcquire(int64(p.config.MaxConcurrent)))
	p.slots.Release(int64(p.config.MaxConcurrent))
}

func TestRequestPool_Do(t *testing.T) {
	p := New(Config{MaxConcurrent: 1, RequestsPerMinute: 100, Window: time.Minute}, zap.NewNop())
	ctx := context.Background()

	wantErr := errors.New("boom")
	err := p.Do(ctx, func(ctx context.Context) error {
		assert.Equal(t, 1, p.Active())
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 0, p.Active())
}

func TestRequestPool_DoReleasesOnPanic(t *testing.T) {
	p := New(Config{MaxConcurrent: 1, RequestsPerMinute: 100, Window: time.Minute}, zap.NewNop())
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = p.Do(ctx, func(ctx context.Context) error {
			panic("boom")
		})
	})

	// The slot must be free again after the panic unwound.
	require.NoError(t, p.Acquire(ctx))
	p.Release()
}

func TestRequestPool_ConcurrentDo(t *testing.T) {
	p := New(Config{MaxConcurrent: 4, RequestsPerMinute: 1000, Window: time.Minute}, zap.NewNop())
	ctx := context.Background()

	var peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Do(ctx, func(ctx context.Context) error {
				if n := int64(p.Active()); n > peak.Load() {
					peak.Store(n)
				}
				time.Sleep(time.Millisecond)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(4))
}
