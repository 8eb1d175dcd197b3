package locks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireSerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()

	const workers = 32
	var counter, max int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := km.Acquire(context.Background(), "product-1", time.Second)
			require.NoError(t, err)
			defer release()

			mu.Lock()
			counter++
			if counter > max {
				max = counter
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			counter--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, max, "at most one holder at a time")
	assert.Equal(t, 0, km.Len(), "entries cleaned up after release")
}

func TestAcquireIndependentKeysDoNotBlock(t *testing.T) {
	km := NewKeyedMutex()

	releaseA, err := km.Acquire(context.Background(), "a", time.Second)
	require.NoError(t, err)
	defer releaseA()

	done := make(chan struct{})
	go func() {
		releaseB, err := km.Acquire(context.Background(), "b", time.Second)
		assert.NoError(t, err)
		releaseB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on independent key blocked")
	}
}

func TestAcquireWaitExpires(t *testing.T) {
	km := NewKeyedMutex()

	release, err := km.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	defer release()

	_, err = km.Acquire(context.Background(), "k", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrWaitExpired)
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	km := NewKeyedMutex()

	release, err := km.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = km.Acquire(ctx, "k", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReleaseIsIdempotent(t *testing.T) {
	km := NewKeyedMutex()

	release, err := km.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	release()
	release()

	again, err := km.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	again()
}
