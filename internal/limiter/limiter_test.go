package limiter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsNonPositiveCapacity(t *testing.T) {
	_, err := New(map[string]int64{"a.example": 0})
	assert.Error(t, err)

	_, err = New(map[string]int64{"a.example": -1})
	assert.Error(t, err)
}

func TestAcquireUnknownHost(t *testing.T) {
	l, err := New(map[string]int64{"a.example": 1})
	require.NoError(t, err)

	_, err = l.Acquire(context.Background(), "other.example")
	assert.Error(t, err, "unconfigured hosts must not pass unlimited")
}

func TestAcquireRelease(t *testing.T) {
	l, err := New(map[string]int64{"a.example": 1})
	require.NoError(t, err)

	release, err := l.Acquire(context.Background(), "a.example")
	require.NoError(t, err)
	release()

	release, err = l.Acquire(context.Background(), "a.example")
	require.NoError(t, err)
	release()
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	l, err := New(map[string]int64{"a.example": 1})
	require.NoError(t, err)

	release, err := l.Acquire(context.Background(), "a.example")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "a.example")
	assert.Error(t, err, "second acquire must block while the permit is held")

	release()
}

func TestConcurrentHoldersNeverExceedCapacity(t *testing.T) {
	const capacity = 3
	l, err := New(map[string]int64{"a.example": capacity})
	require.NoError(t, err)

	var current, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "a.example")
			if err != nil {
				return
			}
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			current.Add(-1)
			release()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(capacity))
	assert.Greater(t, peak.Load(), int64(0))
}

func TestHostsAreIndependent(t *testing.T) {
	l, err := New(map[string]int64{"a.example": 1, "b.example": 1})
	require.NoError(t, err)

	relA, err := l.Acquire(context.Background(), "a.example")
	require.NoError(t, err)
	defer relA()

	relB, err := l.Acquire(context.Background(), "b.example")
	require.NoError(t, err)
	relB()
}
