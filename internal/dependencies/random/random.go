package random

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	mrand "math/rand/v2"
	"sync"
)

// Random provides random number generation that can be mocked for testing
type Random interface {
	// Intn returns a uniformly distributed int in [0, n)
	Intn(n int) int
}

// CryptoRandom implements Random using crypto/rand
type CryptoRandom struct {
	reader io.Reader
}

// New creates a new CryptoRandom
func New() *CryptoRandom {
	return &CryptoRandom{reader: rand.Reader}
}

// Intn returns a cryptographically random int in [0, n). It panics when the
// entropy source fails, since no fair draw is possible.
func (r *CryptoRandom) Intn(n int) int {
	if n <= 0 {
		return 0
	}

	reader := r.reader
	if reader == nil {
		reader = rand.Reader
	}

	result, err := rand.Int(reader, big.NewInt(int64(n)))
	if err != nil {
		panic(fmt.Sprintf("random: entropy source failed: %v", err))
	}
	return int(result.Int64())
}

// Seeded is a reproducible Random backed by a PCG source. It is safe for
// concurrent use.
type Seeded struct {
	mu  sync.Mutex
	rng *mrand.Rand
}

// NewSeeded creates a Seeded generator from two seed words
func NewSeeded(seed1, seed2 uint64) *Seeded {
	return &Seeded{rng: mrand.New(mrand.NewPCG(seed1, seed2))}
}

// Intn returns a pseudo-random int in [0, n)
func (r *Seeded) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.IntN(n)
}
