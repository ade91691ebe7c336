package supervisor

import (
	"math/rand"
	"sync"
	"time"
)

// JitterSource provides uniformly distributed jitter from a seeded
// generator. A fixed seed makes restart timing reproducible in tests.
type JitterSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewJitterSource creates a new jitter source with the given seed.
func NewJitterSource(seed int64) *JitterSource {
	return &JitterSource{
		rng: rand.New(rand.NewSource(seed)),
	}
}

// NewJitterSourceFromTime creates a jitter source seeded from the current time.
func NewJitterSourceFromTime() *JitterSource {
	return NewJitterSource(time.Now().UnixNano())
}

// Jitter returns a duration in [0, ceiling). A non-positive ceiling yields 0.
func (j *JitterSource) Jitter(ceiling time.Duration) time.Duration {
	if ceiling <= 0 {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return time.Duration(j.rng.Int63n(int64(ceiling)))
}
