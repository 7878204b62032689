package generator

import (
	"math/rand"
	"sync"
)

// lockedRandom guards a math/rand source so the generators can be shared between goroutines.
type lockedRandom struct {
	lock sync.Mutex
	src  *rand.Rand
}

// NewLockedRandom returns a Random seeded with `seed` that is safe for concurrent use.
func NewLockedRandom(seed int64) Random {
	return &lockedRandom{src: rand.New(rand.NewSource(seed))}
}

func (r *lockedRandom) Float64() float64 {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.src.Float64()
}

func (r *lockedRandom) Int63n(n int64) int64 {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.src.Int63n(n)
}

func (r *lockedRandom) Uint64() uint64 {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.src.Uint64()
}
