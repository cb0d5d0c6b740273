package format

import (
	"math/rand/v2"
	"sync"
)

// Picker chooses an index in [0, n). It is how the decorative header is
// selected; tests plug in a fixed or seeded picker for stable output.
type Picker func(n int) int

// FixedPicker always returns i (clamped to the valid range).
func FixedPicker(i int) Picker {
	return func(n int) int {
		if n <= 0 {
			return 0
		}
		return min(max(i, 0), n-1)
	}
}

// RoundRobinPicker cycles through the labels in order.
func RoundRobinPicker() Picker {
	var (
		mu   sync.Mutex
		next int
	)
	return func(n int) int {
		if n <= 0 {
			return 0
		}
		mu.Lock()
		defer mu.Unlock()
		i := next % n
		next++
		return i
	}
}

// SeededPicker is a uniform random picker with a reproducible sequence.
func SeededPicker(seed uint64) Picker {
	var mu sync.Mutex
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return func(n int) int {
		if n <= 0 {
			return 0
		}
		mu.Lock()
		defer mu.Unlock()
		return rng.IntN(n)
	}
}

// RandomPicker picks uniformly without a fixed seed.
func RandomPicker() Picker {
	return func(n int) int {
		if n <= 0 {
			return 0
		}
		return rand.IntN(n)
	}
}
