package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupRemembersResult(t *testing.T) {
	d := NewDedup[int](time.Minute)
	ctx := context.Background()
	calls := 0
	fn := func() (int, error) {
		calls++
		return 42, nil
	}

	v, shared, err := d.Do(ctx, "k", fn)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.False(t, shared)

	v, shared, err = d.Do(ctx, "k", fn)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.True(t, shared)
	assert.Equal(t, 1, calls)
}

func TestDedupForgetsErrors(t *testing.T) {
	d := NewDedup[string](time.Minute)
	ctx := context.Background()

	_, _, err := d.Do(ctx, "k", func() (string, error) { return "", errors.New("boom") })
	require.Error(t, err)
	assert.Zero(t, d.Len())

	v, shared, err := d.Do(ctx, "k", func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.False(t, shared)
}

func TestDedupConcurrentCallsRunOnce(t *testing.T) {
	d := NewDedup[int](time.Minute)
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]int, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := d.Do(context.Background(), "k", func() (int, error) {
				calls.Add(1)
				<-release
				return 7, nil
			})
			if err == nil {
				results[i] = v
			}
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, 7, v)
	}
}

func TestDedupExpiry(t *testing.T) {
	d := NewDedup[int](time.Minute)
	now := time.Now()
	d.now = func() time.Time { return now }
	ctx := context.Background()

	_, _, err := d.Do(ctx, "k", func() (int, error) { return 1, nil })
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	v, shared, err := d.Do(ctx, "k", func() (int, error) { return 2, nil })
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.False(t, shared)

	now = now.Add(2 * time.Minute)
	d.Cleanup()
	assert.Zero(t, d.Len())
}
