package rand

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

const bytesInUint64 = 8

// Source yields floats uniformly distributed in [0.0, 1.0).
type Source interface {
	Float64() float64
}

var defaultSource = newLocked()

// Default returns the process-wide source shared by every session.
func Default() Source {
	return defaultSource
}

// New returns a source seeded from crypto/rand.
func New() Source {
	return newLocked()
}

func newLocked() *locked {
	seed := make([]byte, bytesInUint64*2)

	if _, err := cryptorand.Read(seed); err != nil {
		panic("unreachable")
	}

	return &locked{
		//nolint:gosec // jitter does not need a CSPRNG
		rng: rand.New(rand.NewPCG(
			binary.LittleEndian.Uint64(seed[:8]),
			binary.LittleEndian.Uint64(seed[8:]),
		)),
	}
}

type locked struct {
	mut sync.Mutex
	rng *rand.Rand
}

func (l *locked) Float64() float64 {
	l.mut.Lock()
	defer l.mut.Unlock()
	return l.rng.Float64()
}

// Between draws a float uniformly from [lo, hi).
// When hi <= lo it returns lo.
func Between(src Source, lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + src.Float64()*(hi-lo)
}

// Fixed is a Source that always returns the same value. Tests use it to pin jitter.
type Fixed float64

func (f Fixed) Float64() float64 {
	return float64(f)
}
