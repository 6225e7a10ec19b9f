package metrics

import (
	"fmt"
	"math"
)

// Welford is an implementation of Welford's online algorithm for calculating variance.
type Welford struct {
	mean  float64
	m2    float64
	count uint64
}

// Update adds the value to the current estimate.
func (w *Welford) Update(val float64) {
	w.count++
	delta := val - w.mean
	w.mean += delta / float64(w.count)
	delta2 := val - w.mean
	w.m2 += delta * delta2
}

// Merge adds the values of another estimate to this one, using Chan et al.'s parallel variant.
func (w *Welford) Merge(other Welford) {
	if other.count == 0 {
		return
	}
	if w.count == 0 {
		*w = other
		return
	}
	count := w.count + other.count
	delta := other.mean - w.mean
	w.mean += delta * float64(other.count) / float64(count)
	w.m2 += other.m2 + delta*delta*float64(w.count)*float64(other.count)/float64(count)
	w.count = count
}

// Get returns the current mean and sample variance estimate.
func (w *Welford) Get() (mean, variance float64, count uint64) {
	if w.count < 2 {
		return w.mean, math.NaN(), w.count
	}
	return w.mean, w.m2 / (float64(w.count - 1)), w.count
}

// Count returns the total number of values that have been added to the variance estimate.
func (w *Welford) Count() uint64 {
	return w.count
}

// Reset resets all values to 0.
func (w *Welford) Reset() {
	w.mean = 0
	w.m2 = 0
	w.count = 0
}

func (w *Welford) String() string {
	mean, variance, count := w.Get()
	return fmt.Sprintf("mean: %.2f, stddev: %.2f, count: %d", mean, math.Sqrt(variance), count)
}
