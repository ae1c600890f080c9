package stats

// EWMA is an exponentially weighted moving average in alpha form.
// O(1) per update, no window storage.
type EWMA struct {
	alpha  float64
	value  float64
	seeded bool
}

// NewEWMA creates an EWMA with the given smoothing factor.
func NewEWMA(alpha float64) *EWMA {
	return &EWMA{alpha: alpha}
}

// Update folds in a sample and returns the new value. The first
// sample seeds the average directly instead of decaying from zero.
func (e *EWMA) Update(x float64) float64 {
	if !e.seeded {
		e.value = x
		e.seeded = true
		return e.value
	}
	e.value = e.alpha*x + (1-e.alpha)*e.value
	return e.value
}

// Value returns the current average (0 before the first sample).
func (e *EWMA) Value() float64 { return e.value }

// Seeded reports whether at least one sample has been folded in.
func (e *EWMA) Seeded() bool { return e.seeded }

// Seed restores a persisted value, used on warm restart.
func (e *EWMA) Seed(v float64) {
	e.value = v
	e.seeded = true
}

// Reset clears the average for reuse.
func (e *EWMA) Reset() {
	e.value = 0
	e.seeded = false
}
