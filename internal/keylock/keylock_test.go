package keylock

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestMemoryExcludesSameKey(t *testing.T) {
	l := NewMemory()
	var inside, maxInside int32

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			release, err := l.Lock(context.Background(), "item:1")
			if err != nil {
				return err
			}
			defer release()

			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, l.Len(), "entries should be dropped once released")
}

func TestMemoryDifferentKeysDoNotBlock(t *testing.T) {
	l := NewMemory()

	release1, err := l.Lock(context.Background(), "item:1")
	require.NoError(t, err)
	defer release1()

	release2, err := Acquire(context.Background(), l, "item:2", 50*time.Millisecond)
	require.NoError(t, err)
	release2()
}

func TestAcquireTimesOutWithErrBusy(t *testing.T) {
	l := NewMemory()

	release, err := l.Lock(context.Background(), "item:1")
	require.NoError(t, err)

	_, err = Acquire(context.Background(), l, "item:1", 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBusy))

	release()
	release() // second release is a no-op

	release, err = Acquire(context.Background(), l, "item:1", 20*time.Millisecond)
	require.NoError(t, err)
	release()
	assert.Equal(t, 0, l.Len())
}

func TestAcquireCanceledParent(t *testing.T) {
	l := NewMemory()
	release, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = Acquire(ctx, l, "k", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrBusy)
}

func TestInstrumentObservesWait(t *testing.T) {
	var observed atomic.Int32
	l := Instrument(NewMemory(), func(time.Duration) { observed.Add(1) })

	release, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	release()

	assert.Equal(t, int32(1), observed.Load())
}
