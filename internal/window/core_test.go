package window

import (
	"math"
	"testing"

	"quantsignal/internal/detect"
	"quantsignal/internal/model"
	"quantsignal/internal/symbols"
)

const testSym = "BTC-USDT-SWAP"

func makeTrade(ts int64, px, qty float64, side string) model.Trade {
	return model.Trade{Sym: testSym, Ts: ts, Px: px, Qty: qty, Side: side}
}

func makeCore() (*Core, *[]model.Bar) {
	core := NewCore(symbols.NewRegistry(), detect.DefaultParams())
	bars := &[]model.Bar{}
	core.OnBar = func(b model.Bar) { *bars = append(*bars, b) }
	return core, bars
}

func feed(core *Core, trades ...model.Trade) {
	gate := model.DefaultGate()
	for _, tr := range trades {
		core.HandleTrade(tr, gate)
	}
}

func TestCore_SealsBarWithVWAP(t *testing.T) {
	core, bars := makeCore()
	feed(core,
		makeTrade(59500, 100, 1, model.SideBuy),
		makeTrade(59800, 105, 2, model.SideSell),
		makeTrade(60500, 107, 1, model.SideBuy), // crosses the minute, seals
	)

	if len(*bars) != 1 {
		t.Fatalf("expected exactly 1 sealed bar, got %d", len(*bars))
	}
	b := (*bars)[0]
	if b.TF != TF1m || b.Ts != 60000 {
		t.Errorf("bar ts/tf = %d/%s, want 60000/1m", b.Ts, b.TF)
	}
	if b.Open != 100 || b.High != 105 || b.Low != 100 || b.Close != 105 {
		t.Errorf("ohlc = %v/%v/%v/%v, want 100/105/100/105", b.Open, b.High, b.Low, b.Close)
	}
	if b.Vol != 3 || b.VBuy != 1 || b.VSell != 2 {
		t.Errorf("vol/vbuy/vsell = %v/%v/%v, want 3/1/2", b.Vol, b.VBuy, b.VSell)
	}
	// vwap = (100*1 + 105*2) / 3
	if math.Abs(b.VWAP-310.0/3.0) > 1e-9 {
		t.Errorf("vwap = %v, want %v", b.VWAP, 310.0/3.0)
	}
	if b.TickN != 2 {
		t.Errorf("tickN = %d, want 2", b.TickN)
	}
	if b.Gap {
		t.Error("adjacent bars must not be flagged gap")
	}

	// The new in-progress window holds only the third trade.
	st := core.state[testSym]
	m1 := st.m1
	if m1.CloseTs != 120000 {
		t.Fatalf("new window closeTs = %d, want 120000", m1.CloseTs)
	}
	if m1.Open != 107 || m1.High != 107 || m1.Low != 107 || m1.Last != 107 {
		t.Errorf("new window seeded wrong: %+v", m1)
	}
	if m1.TickN != 1 {
		t.Errorf("new window tickN = %d, want 1", m1.TickN)
	}
}

func TestCore_BarClosedness(t *testing.T) {
	core, bars := makeCore()
	feed(core,
		makeTrade(1000, 100, 1, model.SideBuy),
		makeTrade(2000, 95, 1, model.SideSell),
		makeTrade(3000, 110, 1, model.SideBuy),
		makeTrade(4000, 102, 1, model.SideSell),
		makeTrade(61000, 102, 1, model.SideBuy),
	)
	if len(*bars) != 1 {
		t.Fatalf("expected 1 bar, got %d", len(*bars))
	}
	b := (*bars)[0]
	if b.High < b.Open || b.High < b.Close || b.Low > b.Open || b.Low > b.Close {
		t.Errorf("closedness violated: o=%v h=%v l=%v c=%v", b.Open, b.High, b.Low, b.Close)
	}
}

func TestCore_GapFlagOnSkippedMinute(t *testing.T) {
	core, bars := makeCore()
	feed(core,
		makeTrade(30000, 100, 1, model.SideBuy),
		// Next trade lands two minutes later: bucket 120000-180000.
		makeTrade(150000, 101, 1, model.SideBuy),
	)
	if len(*bars) != 1 {
		t.Fatalf("expected 1 bar, got %d", len(*bars))
	}
	if !(*bars)[0].Gap {
		t.Error("skipping a minute must set gap=1")
	}
}

func TestCore_VWAPFallsBackToLast(t *testing.T) {
	w := NewWin(testSym, TF1m, 60000, 60000, 100)
	// No quantity ever applied: den stays 0.
	bar := w.Seal(120000)
	if bar.VWAP != bar.Close {
		t.Errorf("vwap = %v, want close %v when den=0", bar.VWAP, bar.Close)
	}
}

func TestCore_RollupConservation(t *testing.T) {
	core, bars := makeCore()

	// One trade per minute for minutes 0..5, then minute 6 to force the
	// 5m seal. Prices walk so high/low/open/close are distinguishable.
	px := []float64{100, 104, 96, 102, 98, 101, 99}
	for i, p := range px {
		feed(core, makeTrade(int64(i)*60000+500, p, 2, model.SideBuy))
	}

	var m1s []model.Bar
	var tf5 *model.Bar
	for i := range *bars {
		b := (*bars)[i]
		switch b.TF {
		case TF1m:
			m1s = append(m1s, b)
		case TF5m:
			if tf5 != nil {
				t.Fatalf("expected a single 5m bar, got another at ts=%d", b.Ts)
			}
			tf5 = &b
		}
	}
	if tf5 == nil {
		t.Fatal("expected a sealed 5m bar")
	}
	if tf5.Ts != 300000 {
		t.Errorf("5m ts = %d, want 300000", tf5.Ts)
	}

	// The 5m bar must conserve its five 1m contributors exactly.
	var vol, hi, lo float64
	lo = math.Inf(1)
	for _, b := range m1s[:5] {
		vol += b.Vol
		hi = math.Max(hi, b.High)
		lo = math.Min(lo, b.Low)
	}
	if tf5.Vol != vol {
		t.Errorf("5m vol = %v, want sum of 1m vols %v", tf5.Vol, vol)
	}
	if tf5.High != hi || tf5.Low != lo {
		t.Errorf("5m hi/lo = %v/%v, want %v/%v", tf5.High, tf5.Low, hi, lo)
	}
	if tf5.Open != m1s[0].Open {
		t.Errorf("5m open = %v, want first 1m open %v", tf5.Open, m1s[0].Open)
	}
	if tf5.Close != m1s[4].Close {
		t.Errorf("5m close = %v, want last 1m close %v", tf5.Close, m1s[4].Close)
	}
}

func TestCore_MonotonicBarTime(t *testing.T) {
	core, bars := makeCore()
	for i := int64(0); i < 8; i++ {
		feed(core, makeTrade(i*60000+100, 100, 1, model.SideBuy))
	}
	var prev int64
	for _, b := range *bars {
		if b.TF != TF1m {
			continue
		}
		if b.Ts <= prev {
			t.Fatalf("1m bar ts %d not after %d", b.Ts, prev)
		}
		prev = b.Ts
	}
}

func TestCore_RestoreResumesMidBar(t *testing.T) {
	core, bars := makeCore()
	state := model.Fields{
		"closeTs": "60000",
		"open":    "100",
		"high":    "106",
		"low":     "99",
		"last":    "104",
		"vol":     "5",
		"vbuy":    "3",
		"vsell":   "2",
		"vwapNum": "515",
		"vwapDen": "5",
		"tickN":   "4",
	}
	if !core.Restore(testSym, TF1m, state) {
		t.Fatal("restore with a full state hash should succeed")
	}

	// A trade in the same bucket extends the restored window.
	feed(core, makeTrade(59000, 108, 1, model.SideBuy))
	m1 := core.state[testSym].m1
	if m1.High != 108 || m1.TickN != 5 {
		t.Errorf("restored window not extended: high=%v tickN=%d", m1.High, m1.TickN)
	}

	// Crossing the minute seals with the restored open.
	feed(core, makeTrade(61000, 108, 1, model.SideBuy))
	if len(*bars) != 1 {
		t.Fatalf("expected 1 sealed bar, got %d", len(*bars))
	}
	if (*bars)[0].Open != 100 {
		t.Errorf("sealed open = %v, want restored 100", (*bars)[0].Open)
	}
}

func TestCore_RestoreRejectsEmptyHash(t *testing.T) {
	core, _ := makeCore()
	if core.Restore(testSym, TF1m, model.Fields{}) {
		t.Error("restore from an empty hash must fail")
	}
	if core.Restore(testSym, TF1m, model.Fields{"closeTs": "60000"}) {
		t.Error("restore without a last price must fail")
	}
}

func TestCore_LateTradeDropsFromFlow(t *testing.T) {
	core, _ := makeCore()
	var lateDrops int
	core.OnLateDrop = func(string) { lateDrops++ }

	feed(core,
		makeTrade(10000, 100, 1, model.SideBuy),
		makeTrade(5000, 100, 1, model.SideBuy), // 5s behind maxTs
	)
	if lateDrops != 1 {
		t.Errorf("late drops = %d, want 1", lateDrops)
	}
}
