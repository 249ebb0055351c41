package lock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithLockSerializesSameKey(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	var inside int32
	var maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := reg.WithLock(ctx, []string{"provider:abc:2026-09-02"}, func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					cur := atomic.LoadInt32(&maxInside)
					if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
						break
					}
				}
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInside), "critical section must be exclusive")
}

func TestWithLockOverlappingKeySetsDoNotDeadlock(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	// Both goroutines ask for the same pair in opposite order; the registry
	// must sort the keys so the acquisitions cannot cross.
	var wg sync.WaitGroup
	var runs int32

	for i := 0; i < 100; i++ {
		keysA := []string{"appointment:1", "request:9"}
		keysB := []string{"request:9", "appointment:1"}

		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = reg.WithLock(ctx, keysA, func(context.Context) error {
				atomic.AddInt32(&runs, 1)
				return nil
			})
		}()
		go func() {
			defer wg.Done()
			_ = reg.WithLock(ctx, keysB, func(context.Context) error {
				atomic.AddInt32(&runs, 1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(200), atomic.LoadInt32(&runs))
}

func TestWithLockReleasesOnError(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	wantErr := fmt.Errorf("boom")
	err := reg.WithLock(ctx, []string{"appointment:1"}, func(context.Context) error {
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)

	// A second acquisition for the same key must not block.
	reacquired := false
	err = reg.WithLock(ctx, []string{"appointment:1"}, func(context.Context) error {
		reacquired = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, reacquired)
}

func TestWithLockDuplicateKeys(t *testing.T) {
	reg := NewMemoryRegistry()

	called := false
	err := reg.WithLock(context.Background(), []string{"k", "k", "k"}, func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}
