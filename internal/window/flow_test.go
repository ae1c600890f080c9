package window

import "testing"

func TestFlow3s_RunningSums(t *testing.T) {
	var f Flow3s
	f.Add(1000, 500, 0)
	f.Add(1500, 0, 300)
	f.Add(2000, 200, 0)

	if f.Buy() != 700 || f.Sell() != 300 {
		t.Errorf("sums = %v/%v, want 700/300", f.Buy(), f.Sell())
	}
	if f.Sum() != 1000 {
		t.Errorf("sum = %v, want 1000", f.Sum())
	}
	if f.Len() != 3 {
		t.Errorf("len = %d, want 3", f.Len())
	}
}

func TestFlow3s_EvictsBeyondWindow(t *testing.T) {
	var f Flow3s
	f.Add(1000, 500, 0)
	f.Add(3000, 300, 0)
	// maxTs jumps to 5500: the 1000 entry falls outside [2500, 5500].
	f.Add(5500, 100, 0)

	if f.Buy() != 400 {
		t.Errorf("buy sum = %v, want 400 after eviction", f.Buy())
	}
	if f.Len() != 2 {
		t.Errorf("len = %d, want 2", f.Len())
	}

	// Windowing invariant: span never exceeds 3000.
	span := f.buf[len(f.buf)-1].ts - f.buf[0].ts
	if span > flowWindowMs {
		t.Errorf("window span %d exceeds %d", span, flowWindowMs)
	}
}

func TestFlow3s_SumMatchesBuffer(t *testing.T) {
	var f Flow3s
	ts := []int64{100, 900, 1700, 2600, 3400, 4100, 5200}
	for i, v := range ts {
		f.Add(v, float64(i+1)*10, float64(i+1)*5)
	}
	var buy, sell float64
	for _, it := range f.buf {
		buy += it.buy
		sell += it.sell
	}
	if buy != f.Buy() || sell != f.Sell() {
		t.Errorf("running sums %v/%v drifted from buffer %v/%v",
			f.Buy(), f.Sell(), buy, sell)
	}
}

func TestFlow3s_RejectsLateTrade(t *testing.T) {
	var f Flow3s
	f.Add(10000, 100, 0)
	if f.Add(6999, 100, 0) {
		t.Error("trade older than maxTs-3000 must be rejected")
	}
	if !f.Add(7000, 100, 0) {
		t.Error("trade exactly at maxTs-3000 must be accepted")
	}
	if f.MaxTs() != 10000 {
		t.Errorf("maxTs = %d, want 10000", f.MaxTs())
	}
}

func TestFlow3s_OutOfOrderWithinWindow(t *testing.T) {
	var f Flow3s
	f.Add(5000, 100, 0)
	if !f.Add(4000, 50, 0) {
		t.Fatal("in-window out-of-order trade must be accepted")
	}
	if f.Buy() != 150 {
		t.Errorf("buy sum = %v, want 150", f.Buy())
	}

	f.Reset()
	if f.Len() != 0 || f.Buy() != 0 || f.MaxTs() != 0 {
		t.Error("reset must clear the window")
	}
}
