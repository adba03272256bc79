package scorer

import (
	"math/rand"
	"sync"
	"time"
)

// Source yields uniformly distributed values in [0, 1).
type Source interface {
	Float64() float64
}

// LockedSource is a seedable Source that is safe for concurrent use.
type LockedSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewLockedSource seeds a generator with seed. A zero seed draws one from
// the clock.
func NewLockedSource(seed int64) *LockedSource {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &LockedSource{rng: rand.New(rand.NewSource(seed))}
}

func (s *LockedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// FixedSource always returns the same value. FixedSource(0.5) turns the
// noise term off.
type FixedSource float64

func (f FixedSource) Float64() float64 { return float64(f) }

func uniform(src Source, lo, hi float64) float64 {
	return lo + (hi-lo)*src.Float64()
}
