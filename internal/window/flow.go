package window

// flowWindowMs is the span of the rolling notional window.
const flowWindowMs = 3000

type flowItem struct {
	ts   int64
	buy  float64
	sell float64
}

// Flow3s is the rolling 3s buy/sell notional window with running sums.
// Eviction is driven by the maximum trade timestamp seen, not the wall
// clock, so replayed history windows correctly.
type Flow3s struct {
	buf   []flowItem
	maxTs int64
	buy   float64
	sell  float64
}

// Add appends one trade's notional split and evicts expired items.
// Trades more than 3s behind the newest seen timestamp are rejected
// outright; returns false in that case.
func (f *Flow3s) Add(ts int64, buy, sell float64) bool {
	if f.maxTs > 0 && ts < f.maxTs-flowWindowMs {
		return false
	}
	if ts > f.maxTs {
		f.maxTs = ts
	}
	f.buf = append(f.buf, flowItem{ts: ts, buy: buy, sell: sell})
	f.buy += buy
	f.sell += sell
	for len(f.buf) > 0 && f.buf[0].ts < f.maxTs-flowWindowMs {
		f.buy -= f.buf[0].buy
		f.sell -= f.buf[0].sell
		f.buf = f.buf[1:]
	}
	return true
}

// Buy returns the buy-notional sum over the window.
func (f *Flow3s) Buy() float64 { return f.buy }

// Sell returns the sell-notional sum over the window.
func (f *Flow3s) Sell() float64 { return f.sell }

// Sum returns total notional over the window.
func (f *Flow3s) Sum() float64 { return f.buy + f.sell }

// Len returns the number of buffered items.
func (f *Flow3s) Len() int { return len(f.buf) }

// MaxTs returns the newest trade timestamp seen.
func (f *Flow3s) MaxTs() int64 { return f.maxTs }

// Reset clears the window.
func (f *Flow3s) Reset() {
	f.buf = nil
	f.maxTs = 0
	f.buy = 0
	f.sell = 0
}
