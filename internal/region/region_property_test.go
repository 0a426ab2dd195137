//go:build property

package region

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestPermitProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(4242)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("at most one permit holder until it finishes", prop.ForAll(
		func(goroutines int, rounds int) bool {
			r := New(0, 0)
			var holders atomic.Int32
			var violated atomic.Bool
			var wg sync.WaitGroup

			for g := 0; g < goroutines; g++ {
				wg.Add(1)
				go func(g int) {
					defer wg.Done()
					for i := 0; i < rounds; i++ {
						load := (g+i)%2 == 0
						var ok bool
						if load {
							ok = r.LoadPermit()
						} else {
							ok = r.SavePermit()
						}
						if !ok {
							continue
						}
						if holders.Add(1) != 1 {
							violated.Store(true)
						}
						holders.Add(-1)
						if load {
							r.FinishLoading()
						} else {
							r.FinishSaving()
						}
					}
				}(g)
			}
			wg.Wait()

			return !violated.Load() && !r.PermitOutstanding()
		},
		gen.IntRange(2, 16),
		gen.IntRange(1, 200),
	))

	properties.Property("encode then decode reproduces every tile", prop.ForAll(
		func(seed int64) bool {
			rng := rand.New(rand.NewSource(seed))
			src := New(0, 0)
			src.MarkGenerated()
			for i := 0; i < 256; i++ {
				x, y := rng.Intn(Span), rng.Intn(Span)
				src.SetTileAt(x, y, rng.Int31())
				src.SetWallAt(x, y, rng.Int31())
				src.SetLightAt(x, y, byte(rng.Intn(16)))
			}

			root, _ := Encode(src)
			snap, err := Decode(root, CurrentVersion)
			if err != nil {
				return false
			}
			dst := New(0, 0)
			dst.Install(snap)

			for y := 0; y < Span; y++ {
				for x := 0; x < Span; x++ {
					if src.TileAt(x, y) != dst.TileAt(x, y) ||
						src.WallAt(x, y) != dst.WallAt(x, y) ||
						src.LightAt(x, y) != dst.LightAt(x, y) {
						return false
					}
				}
			}
			return true
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}
