// Package ringbuf provides a fixed-capacity overwrite ring for recent
// trade prices. Each ring is owned by a single worker goroutine, so no
// synchronization is needed.
package ringbuf

// Prices keeps the last Cap() prices in arrival order, overwriting the
// oldest once full.
type Prices struct {
	buf  []float64
	next int
	full bool
}

// NewPrices creates a ring holding up to capacity prices (minimum 2).
func NewPrices(capacity int) *Prices {
	if capacity < 2 {
		capacity = 2
	}
	return &Prices{buf: make([]float64, capacity)}
}

// Push appends a price, evicting the oldest when full.
func (p *Prices) Push(v float64) {
	p.buf[p.next] = v
	p.next++
	if p.next == len(p.buf) {
		p.next = 0
		p.full = true
	}
}

// Len returns the number of stored prices.
func (p *Prices) Len() int {
	if p.full {
		return len(p.buf)
	}
	return p.next
}

// Cap returns the ring capacity.
func (p *Prices) Cap() int { return len(p.buf) }

// Last returns the most recent price, false when empty.
func (p *Prices) Last() (float64, bool) {
	if p.Len() == 0 {
		return 0, false
	}
	i := p.next - 1
	if i < 0 {
		i = len(p.buf) - 1
	}
	return p.buf[i], true
}

// Snapshot returns the stored prices oldest-first in a fresh slice.
func (p *Prices) Snapshot() []float64 {
	n := p.Len()
	out := make([]float64, 0, n)
	if p.full {
		out = append(out, p.buf[p.next:]...)
	}
	out = append(out, p.buf[:p.next]...)
	return out
}

// Restore refills the ring from a persisted snapshot (oldest-first),
// keeping only the newest Cap() entries.
func (p *Prices) Restore(vals []float64) {
	p.Reset()
	if len(vals) > len(p.buf) {
		vals = vals[len(vals)-len(p.buf):]
	}
	for _, v := range vals {
		p.Push(v)
	}
}

// Reset empties the ring for reuse.
func (p *Prices) Reset() {
	p.next = 0
	p.full = false
}
