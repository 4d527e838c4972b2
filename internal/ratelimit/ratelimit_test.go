package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PengC8899/didi-bot/internal/clock"
	"github.com/PengC8899/didi-bot/internal/order"
)

func newFake() *clock.FakeClock {
	return clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

func TestWindow_DefaultOnePerFiveSeconds(t *testing.T) {
	c := newFake()
	l := NewWindow(0, 0, WithClock(c))

	require.NoError(t, l.Allow(1, ClassApply))

	err := l.Allow(1, ClassApply)
	assert.ErrorIs(t, err, order.ErrRateLimited)

	c.Advance(4999 * time.Millisecond)
	assert.ErrorIs(t, l.Allow(1, ClassApply), order.ErrRateLimited)

	c.Advance(time.Millisecond)
	assert.NoError(t, l.Allow(1, ClassApply))
}

func TestWindow_SixthActionRejected(t *testing.T) {
	c := newFake()
	l := NewWindow(5*time.Second, 5, WithClock(c))

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Allow(7, ClassDone), "action %d", i+1)
		c.Advance(500 * time.Millisecond)
	}

	err := l.Allow(7, ClassDone)
	assert.ErrorIs(t, err, order.ErrRateLimited)
	assert.Contains(t, err.Error(), "done")

	// Window elapses relative to the first action.
	c.Advance(2500 * time.Millisecond)
	assert.NoError(t, l.Allow(7, ClassDone))
}

func TestWindow_KeysAreIndependent(t *testing.T) {
	c := newFake()
	l := NewWindow(5*time.Second, 1, WithClock(c))

	require.NoError(t, l.Allow(1, ClassApply))
	assert.NoError(t, l.Allow(1, ClassCancel), "different class")
	assert.NoError(t, l.Allow(2, ClassApply), "different actor")
	assert.ErrorIs(t, l.Allow(1, ClassApply), order.ErrRateLimited)
}

func TestWindow_ConcurrentAllowIsAtomic(t *testing.T) {
	l := NewWindow(time.Minute, 3, WithClock(newFake()))

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow(9, ClassApprove) == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), ok.Load())
}

func TestWindow_ForgetsIdleActors(t *testing.T) {
	c := newFake()
	l := NewWindow(5*time.Second, 1, WithClock(c))

	for actor := int64(1); actor <= 100; actor++ {
		require.NoError(t, l.Allow(actor, ClassApply))
	}
	assert.Equal(t, 100, l.Len())

	c.Advance(5 * time.Second)
	require.NoError(t, l.Allow(500, ClassDone))
	assert.Equal(t, 1, l.Len(), "expired keys are swept")

	c.Advance(5 * time.Second)
	require.NoError(t, l.Allow(500, ClassDone))
	assert.Equal(t, 1, l.Len())
}

func TestWindow_RejectionKeepsQuota(t *testing.T) {
	c := newFake()
	l := NewWindow(5*time.Second, 1, WithClock(c))

	require.NoError(t, l.Allow(1, ClassApply))
	c.Advance(4 * time.Second)
	require.ErrorIs(t, l.Allow(1, ClassApply), order.ErrRateLimited)

	// The rejected attempt is not recorded: the window still runs from
	// the first action.
	c.Advance(time.Second)
	assert.NoError(t, l.Allow(1, ClassApply))
}

func TestWindow_Reset(t *testing.T) {
	l := NewWindow(time.Minute, 1, WithClock(newFake()))
	require.NoError(t, l.Allow(1, ClassReject))
	l.Reset()
	assert.NoError(t, l.Allow(1, ClassReject))
}

func TestUnlimited(t *testing.T) {
	var l Limiter = Unlimited{}
	for i := 0; i < 10; i++ {
		assert.NoError(t, l.Allow(1, ClassCommand))
	}
}
