package window

import (
	"math"

	"quantsignal/internal/model"
)

// atrPeriod is the Wilder smoothing period for the bar-level ATR.
const atrPeriod = 14

// ATR tracks the average true range over sealed 1m bars.
// First value is the simple mean of the seed period, then Wilder-style
// smoothing: atr = (prev*(period-1) + tr) / period.
type ATR struct {
	period    int
	count     int
	sum       float64
	current   float64
	prevClose float64
}

// NewATR creates an ATR tracker with the default period.
func NewATR() *ATR {
	return &ATR{period: atrPeriod, prevClose: math.NaN()}
}

// Update folds one sealed bar's true range into the average.
func (a *ATR) Update(bar model.Bar) {
	tr := bar.High - bar.Low
	if !math.IsNaN(a.prevClose) {
		tr = math.Max(tr, math.Max(
			math.Abs(bar.High-a.prevClose),
			math.Abs(bar.Low-a.prevClose),
		))
	}
	a.prevClose = bar.Close

	a.count++
	if a.count <= a.period {
		a.sum += tr
		a.current = a.sum / float64(a.count)
		return
	}
	a.current = (a.current*float64(a.period-1) + tr) / float64(a.period)
}

// Value returns the current average, NaN before the first bar.
func (a *ATR) Value() float64 {
	if a.count == 0 {
		return math.NaN()
	}
	return a.current
}

// Ready reports whether a full seed period has elapsed.
func (a *ATR) Ready() bool { return a.count >= a.period }

// Reset clears the tracker for reuse.
func (a *ATR) Reset() {
	a.count = 0
	a.sum = 0
	a.current = 0
	a.prevClose = math.NaN()
}
