//go:build property

package errors

import (
	"errors"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestErrorCollectorProperties validates failure retention under concurrency
func TestErrorCollectorProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(2468)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("concurrent adds are all counted and retention is bounded", prop.ForAll(
		func(goroutineCount int, perGoroutine int, capacity int) bool {
			collector := NewErrorCollector(capacity)

			var wg sync.WaitGroup
			for g := 0; g < goroutineCount; g++ {
				wg.Add(1)
				go func(id int) {
					defer wg.Done()
					for e := 0; e < perGoroutine; e++ {
						collector.Add("load", int32(id), int32(e), errors.New("failed"))
					}
				}(g)
			}
			wg.Wait()

			total := goroutineCount * perGoroutine
			retained := total
			if retained > capacity {
				retained = capacity
			}
			return collector.Total() == uint64(total) && len(collector.Recent()) == retained
		},
		gen.IntRange(1, 20),
		gen.IntRange(1, 50),
		gen.IntRange(1, 128),
	))

	properties.Property("wrapping preserves region and retryability", prop.ForAll(
		func(x, y int32, decode bool) bool {
			var err *TesseraError
			if decode {
				err = WrapDecode(errors.New("bad"), "decode", x, y)
			} else {
				err = WrapIO(errors.New("bad"), ErrCodeReadFailed, "read", x, y)
			}
			outer := Wrap(err, ErrorTypeInternal, ErrCodeInternalError, "outer")
			return outer.Region.X == x && outer.Region.Y == y && IsRetryable(outer) && IsDecode(err) == decode
		},
		gen.Int32(),
		gen.Int32(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
