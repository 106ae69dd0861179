package hub

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain collects everything currently queued on s without blocking.
func drain(s *Subscription) []string {
	var out []string
	for {
		select {
		case msg, ok := <-s.C():
			if !ok {
				return out
			}
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestPublish_ReachesEverySubscriber(t *testing.T) {
	h := New(8)
	a := h.Subscribe()
	b := h.Subscribe()

	n := h.Publish([]byte("one"))
	assert.Equal(t, 2, n)

	assert.Equal(t, []string{"one"}, drain(a))
	assert.Equal(t, []string{"one"}, drain(b))
}

func TestPublish_NoReplayToLateSubscribers(t *testing.T) {
	h := New(8)

	assert.Equal(t, 0, h.Publish([]byte("lost")))

	s := h.Subscribe()
	h.Publish([]byte("seen"))

	assert.Equal(t, []string{"seen"}, drain(s))
}

func TestPublish_FIFOPerSubscriber(t *testing.T) {
	h := New(100)
	s := h.Subscribe()

	var want []string
	for i := 0; i < 50; i++ {
		msg := fmt.Sprintf("m%d", i)
		want = append(want, msg)
		h.Publish([]byte(msg))
	}

	assert.Equal(t, want, drain(s))
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	h := New(4)
	s := h.Subscribe()
	require.Equal(t, 1, h.Count())

	h.Unsubscribe(s)
	h.Unsubscribe(s)
	h.Unsubscribe(nil)

	assert.Equal(t, 0, h.Count())
	_, ok := <-s.C()
	assert.False(t, ok, "queue should be closed")
	assert.False(t, s.Lagged())

	assert.Equal(t, 0, h.Publish([]byte("after")))
}

func TestPublish_DropsSlowSubscriber(t *testing.T) {
	h := New(2)
	slow := h.Subscribe()
	fast := h.Subscribe()

	for i := 0; i < 3; i++ {
		h.Publish([]byte(fmt.Sprintf("m%d", i)))
		drain(fast)
	}

	assert.True(t, slow.Lagged(), "slow subscriber should be marked lagged")
	assert.Equal(t, 1, h.Count(), "only the fast subscriber should remain")
	assert.Equal(t, uint64(1), h.Dropped())

	// The two buffered messages are still readable, then the queue closes.
	assert.Equal(t, []string{"m0", "m1"}, drain(slow))
	_, ok := <-slow.C()
	assert.False(t, ok)

	assert.False(t, fast.Lagged())
}

func TestClose_EndsSubscriptions(t *testing.T) {
	h := New(4)
	a := h.Subscribe()
	b := h.Subscribe()

	h.Close()
	h.Close()

	for _, s := range []*Subscription{a, b} {
		_, ok := <-s.C()
		assert.False(t, ok)
		assert.False(t, s.Lagged())
	}

	late := h.Subscribe()
	_, ok := <-late.C()
	assert.False(t, ok, "subscriptions after Close start closed")
	assert.Equal(t, 0, h.Count())
}

func TestPublish_ConcurrentWithUnsubscribe(t *testing.T) {
	h := New(1)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		s := h.Subscribe()
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.Publish([]byte("x"))
			}
		}()
		go func(s *Subscription) {
			defer wg.Done()
			h.Unsubscribe(s)
		}(s)
	}
	wg.Wait()

	assert.Equal(t, 0, h.Count())
}
