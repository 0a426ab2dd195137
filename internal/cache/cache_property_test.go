//go:build property

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestReferenceCountingProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(9001)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("never evicted while references remain", prop.ForAll(
		func(n int, released int) bool {
			if released > n {
				released = n
			}
			clock := newFakeClock()
			c := newTestCache(nil, clock)

			handles := make([]*Handle, n)
			for i := range handles {
				handles[i] = c.Checkout(3, 3)
			}
			for i := 0; i < released; i++ {
				if handles[i].Release() != nil {
					return false
				}
				c.Sweep(context.Background(), clock.Advance(time.Hour))
			}

			_, cached := c.Peek(3, 3)
			if released < n {
				return cached && c.RefCount(3, 3) == n-released
			}
			// All released: the sweep after the last release evicts it.
			return !cached
		},
		gen.IntRange(1, 64),
		gen.IntRange(0, 64),
	))

	properties.Property("checkouts minus releases equals the reference count", prop.ForAll(
		func(ops []bool) bool {
			c := newTestCache(nil, newFakeClock())
			var live []*Handle
			keep := c.Checkout(0, 0)
			for _, checkout := range ops {
				if checkout || len(live) == 0 {
					live = append(live, c.Checkout(0, 0))
					continue
				}
				h := live[len(live)-1]
				live = live[:len(live)-1]
				if h.Release() != nil || h.Release() != ErrHandleReleased {
					return false
				}
			}
			ok := c.RefCount(0, 0) == len(live)+1
			_ = keep.Release()
			return ok
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
