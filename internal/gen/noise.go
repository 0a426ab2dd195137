package gen

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Noise is seeded 2D gradient noise. Values are roughly in [-1, 1].
type Noise struct {
	seed uint64
}

// NewNoise returns noise for seed.
func NewNoise(seed int64) Noise {
	return Noise{seed: uint64(seed)}
}

// hash mixes the seed with lattice coordinates (splitmix64 finalizer).
func (n Noise) hash(ix, iy int64) uint64 {
	h := n.seed ^ uint64(ix)*0x9E3779B97F4A7C15 ^ uint64(iy)*0xC2B2AE3D27D4EB4F
	h ^= h >> 30
	h *= 0xBF58476D1CE4E5B9
	h ^= h >> 27
	h *= 0x94D049BB133111EB
	h ^= h >> 31
	return h
}

func (n Noise) gradient(ix, iy int64) mgl64.Vec2 {
	angle := float64(n.hash(ix, iy)>>11) / (1 << 53) * 2 * math.Pi
	return mgl64.Vec2{math.Cos(angle), math.Sin(angle)}
}

func lerp(t, a, b float64) float64 {
	return a + t*(b-a)
}

func fade(t float64) float64 {
	return t * t * t * (t*(t*6-15) + 10)
}

// At samples the noise at (x, y).
func (n Noise) At(x, y float64) float64 {
	x0, y0 := math.Floor(x), math.Floor(y)
	ix, iy := int64(x0), int64(y0)
	p := mgl64.Vec2{x - x0, y - y0}

	corner := func(dx, dy int64) float64 {
		offset := p.Sub(mgl64.Vec2{float64(dx), float64(dy)})
		return n.gradient(ix+dx, iy+dy).Dot(offset)
	}

	u, v := fade(p.X()), fade(p.Y())
	top := lerp(u, corner(0, 0), corner(1, 0))
	bottom := lerp(u, corner(0, 1), corner(1, 1))
	return mgl64.Clamp(lerp(v, top, bottom)*math.Sqrt2, -1, 1)
}

// Octaves sums octaves layers of noise, each at twice the frequency and
// persistence times the amplitude of the previous one.
func (n Noise) Octaves(x, y float64, octaves int, persistence float64) float64 {
	total, amplitude, max := 0.0, 1.0, 0.0
	freq := 1.0
	for i := 0; i < octaves; i++ {
		total += n.At(x*freq, y*freq) * amplitude
		max += amplitude
		amplitude *= persistence
		freq *= 2
	}
	return total / max
}
