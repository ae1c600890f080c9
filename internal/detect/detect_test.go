package detect

import (
	"math"
	"testing"

	"quantsignal/internal/model"
)

const testSym = "BTC-USDT-SWAP"

// baseCtx returns a quiet context no detector fires on.
func baseCtx() *Context {
	return &Context{
		Now:             1_700_000_000_000,
		Sym:             testSym,
		Win:             WinView{High: 100, Low: 100, Atr: math.NaN()},
		LastPrices:      []float64{100, 100, 100},
		MinNotional3s:   2000,
		BreakoutBandPct: 0.02,
		DynAbsDelta:     1000,
		DynDeltaK:       1.2,
		LiqK:            0.8,
	}
}

func TestFlow_BuyDominance(t *testing.T) {
	ctx := baseCtx()
	ctx.Buy3s = 9000
	ctx.Sell3s = 500

	c := Flow(ctx)
	if c == nil {
		t.Fatal("expected a flow candidate")
	}
	if c.Dir != model.SideBuy || c.Src != SrcFlow {
		t.Errorf("dir/src = %s/%s, want buy/flow", c.Dir, c.Src)
	}
	// buyShare = 9000/9500; share = (share-0.75)/0.25; signif clips to 1.
	if c.Strength != 0.874 {
		t.Errorf("strength = %v, want 0.874", c.Strength)
	}
	if c.BuyShare < 0.94 || c.BuyShare > 0.95 {
		t.Errorf("buyShare = %v, want ~0.947", c.BuyShare)
	}
}

func TestFlow_BelowLiquidityThreshold(t *testing.T) {
	ctx := baseCtx()
	ctx.Buy3s = 1500
	ctx.Sell3s = 100
	if c := Flow(ctx); c != nil {
		t.Errorf("sum below liqTh must not fire, got %+v", c)
	}
}

func TestFlow_BalancedFlowIsSilent(t *testing.T) {
	ctx := baseCtx()
	ctx.Buy3s = 5000
	ctx.Sell3s = 5000
	if c := Flow(ctx); c != nil {
		t.Errorf("50/50 split must not fire, got %+v", c)
	}
}

func TestFlow_SellSideMirrors(t *testing.T) {
	ctx := baseCtx()
	ctx.Buy3s = 500
	ctx.Sell3s = 9000
	c := Flow(ctx)
	if c == nil || c.Dir != model.SideSell {
		t.Fatalf("expected sell flow candidate, got %+v", c)
	}
}

func TestDelta_FiresAboveDynamicThreshold(t *testing.T) {
	ctx := baseCtx()
	ctx.Buy3s = 6000
	ctx.Sell3s = 1000

	c := Delta(ctx)
	if c == nil {
		t.Fatal("expected a delta candidate")
	}
	if c.Dir != model.SideBuy || c.Src != SrcDelta {
		t.Errorf("dir/src = %s/%s, want buy/delta", c.Dir, c.Src)
	}
	// dynTh = max(2000, 1200) = 2000; strength = 5000/8000.
	if c.Strength != 0.625 {
		t.Errorf("strength = %v, want 0.625", c.Strength)
	}
	if math.Abs(c.ZLike-2.5) > 1e-9 {
		t.Errorf("zLike = %v, want 2.5", c.ZLike)
	}
}

func TestDelta_WithinThresholdIsSilent(t *testing.T) {
	ctx := baseCtx()
	ctx.Buy3s = 3000
	ctx.Sell3s = 1500
	if c := Delta(ctx); c != nil {
		t.Errorf("|delta| within dynTh must not fire, got %+v", c)
	}
}

func TestDelta_SumFilter(t *testing.T) {
	ctx := baseCtx()
	ctx.MinNotional3s = 20000
	ctx.Buy3s = 9000
	ctx.Sell3s = 0
	// sum 9000 < 0.5*20000: filtered before the threshold test.
	if c := Delta(ctx); c != nil {
		t.Errorf("thin window must not fire, got %+v", c)
	}
}

func TestBreakout_Upward(t *testing.T) {
	ctx := baseCtx()
	ctx.Win = WinView{High: 102, Low: 100, Atr: math.NaN()}
	ctx.LastPrices = []float64{100, 101, 102.2}

	c := Breakout(ctx)
	if c == nil {
		t.Fatal("expected a breakout candidate")
	}
	if c.Dir != model.SideBuy || c.Src != SrcBreakout {
		t.Errorf("dir/src = %s/%s, want buy/breakout", c.Dir, c.Src)
	}
	// band=2, eps=0.04, dist=(102.2-102.04)/2=0.08,
	// strength = 0.55 + min(0.35, 0.16) + 0.1 slope bonus.
	if c.Strength != 0.81 {
		t.Errorf("strength = %v, want 0.81", c.Strength)
	}
}

func TestBreakout_Downward(t *testing.T) {
	ctx := baseCtx()
	ctx.Win = WinView{High: 102, Low: 99, Atr: math.NaN()}
	ctx.LastPrices = []float64{100, 99.5, 98}

	c := Breakout(ctx)
	if c == nil || c.Dir != model.SideSell {
		t.Fatalf("expected sell breakout, got %+v", c)
	}
}

func TestBreakout_NeedsPriceHistory(t *testing.T) {
	ctx := baseCtx()
	ctx.Win = WinView{High: 102, Low: 100}
	ctx.LastPrices = []float64{103, 103}
	if c := Breakout(ctx); c != nil {
		t.Errorf("fewer than 3 prices must not fire, got %+v", c)
	}
}

func TestBreakout_NeedsConfirmation(t *testing.T) {
	ctx := baseCtx()
	ctx.Win = WinView{High: 102, Low: 100}
	// Price clears the band but drifts downward and volume is absent.
	ctx.LastPrices = []float64{104, 103, 102.5}
	ctx.Buy3s = 0
	ctx.Sell3s = 0
	if c := Breakout(ctx); c != nil {
		t.Errorf("break without slope or volume confirmation must not fire, got %+v", c)
	}
}

func TestBreakout_VolumeConfirmsFlatSlope(t *testing.T) {
	ctx := baseCtx()
	ctx.Win = WinView{High: 102, Low: 100}
	ctx.LastPrices = []float64{102.5, 102.2, 102.5}
	ctx.Buy3s = 400
	ctx.Sell3s = 200 // sum 600 >= 0.5*dynAbsDelta
	c := Breakout(ctx)
	if c == nil {
		t.Fatal("volume confirmation should allow the break")
	}
}
