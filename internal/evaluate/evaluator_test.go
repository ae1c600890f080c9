package evaluate

import (
	"math"
	"testing"

	"quantsignal/internal/model"
	"quantsignal/internal/stats"
)

const testSym = "BTC-USDT-SWAP"

func makeEvaluator() *Evaluator {
	return &Evaluator{par: Params{
		Horizons:      []Horizon{{Name: "5m", Ms: 300000}},
		SuccessBp:     5,
		NeutralBandBp: 3,
		FeeBp:         0,
		MaxRetry:      3,
		SearchMs:      90000,
		Pref:          DefaultPref,
	}}
}

func makeJob(dir string, ts0 int64, p0 float64) *job {
	hz := Horizon{Name: "5m", Ms: 300000}
	return &job{
		key:     "1700000000000-0|5m",
		finalID: "1700000000000-0",
		sym:     testSym,
		dir:     dir,
		strat:   model.StrategyIntraV1,
		ts0:     ts0,
		dueAt:   stats.CeilToNextMinute(ts0 + hz.Ms),
		p0:      p0,
		horizon: hz,
	}
}

func TestScore_BuySuccess(t *testing.T) {
	ev := makeEvaluator()
	j := makeJob(model.SideBuy, 1_700_000_000_000, 100)
	pt := PricePoint{Px: 100.8, Ts: j.dueAt + 1000, Source: SrcMid}

	out := ev.score(j, pt, true)
	if math.Abs(out.RetRawBp-80) > 1e-9 {
		t.Errorf("rawBp = %v, want 80", out.RetRawBp)
	}
	if out.RetNetBp != out.RetRawBp {
		t.Errorf("netBp = %v, want rawBp with zero fee", out.RetNetBp)
	}
	if out.Outcome() != "success" {
		t.Errorf("outcome = %s, want success", out.Outcome())
	}
	if out.PriceLagMs != 1000 {
		t.Errorf("priceLagMs = %d, want 1000", out.PriceLagMs)
	}
	if out.UsedPx != 100.8 || out.UsedPxSource != SrcMid {
		t.Errorf("usedPx/source = %v/%s", out.UsedPx, out.UsedPxSource)
	}
}

func TestScore_SellDirectionInverts(t *testing.T) {
	ev := makeEvaluator()
	j := makeJob(model.SideSell, 1_700_000_000_000, 100)

	// Price fell 1%: a sell gains roughly 101bp (p0/p1 convention).
	out := ev.score(j, PricePoint{Px: 99, Ts: j.dueAt, Source: SrcLast}, true)
	if out.RetRawBp < 100 || out.RetRawBp > 102 {
		t.Errorf("sell rawBp = %v, want ~101", out.RetRawBp)
	}
	if out.Outcome() != "success" {
		t.Errorf("outcome = %s, want success", out.Outcome())
	}

	// Price rose: the sell loses.
	out = ev.score(j, PricePoint{Px: 101, Ts: j.dueAt, Source: SrcLast}, true)
	if out.RetRawBp >= 0 {
		t.Errorf("sell against a rise must be negative, got %v", out.RetRawBp)
	}
	if out.Outcome() != "fail" {
		t.Errorf("outcome = %s, want fail", out.Outcome())
	}
}

func TestScore_NeutralBand(t *testing.T) {
	ev := makeEvaluator()
	j := makeJob(model.SideBuy, 1_700_000_000_000, 100)

	// +2bp net sits inside the ±3bp band.
	out := ev.score(j, PricePoint{Px: 100.02, Ts: j.dueAt, Source: SrcMid}, true)
	if out.Outcome() != "neutral" {
		t.Errorf("outcome = %s, want neutral at +2bp", out.Outcome())
	}
	if out.Success {
		t.Error("neutral rows must not be marked success")
	}

	// -2bp is neutral too, not fail.
	out = ev.score(j, PricePoint{Px: 99.98, Ts: j.dueAt, Source: SrcMid}, true)
	if out.Outcome() != "neutral" {
		t.Errorf("outcome = %s, want neutral at -2bp", out.Outcome())
	}
}

func TestScore_FeeShiftsNet(t *testing.T) {
	ev := makeEvaluator()
	ev.par.FeeBp = 4
	j := makeJob(model.SideBuy, 1_700_000_000_000, 100)

	// +6bp raw minus 4bp fee nets +2bp: inside the band.
	out := ev.score(j, PricePoint{Px: 100.06, Ts: j.dueAt, Source: SrcMid}, true)
	if math.Abs(out.RetNetBp-2) > 1e-6 {
		t.Errorf("netBp = %v, want 2", out.RetNetBp)
	}
	if out.Outcome() != "neutral" {
		t.Errorf("outcome = %s, want neutral after fees", out.Outcome())
	}
}

func TestScore_MissPx(t *testing.T) {
	ev := makeEvaluator()
	j := makeJob(model.SideBuy, 1_700_000_000_000, 100)
	j.retry = ev.par.MaxRetry

	out := ev.score(j, PricePoint{}, false)
	if out.Outcome() != "miss_px" {
		t.Errorf("outcome = %s, want miss_px", out.Outcome())
	}
	if out.UsedPx != 0 || out.RetRawBp != 0 {
		t.Errorf("miss rows must carry no price: usedPx=%v rawBp=%v", out.UsedPx, out.RetRawBp)
	}
	if out.Retry != ev.par.MaxRetry {
		t.Errorf("retry = %d, want %d", out.Retry, ev.par.MaxRetry)
	}

	f := out.ToFields()
	if _, present := f["usedPx"]; present {
		t.Error("miss_px rows must omit usedPx on the wire")
	}
	if f["miss_px"] != "1" {
		t.Errorf("miss_px flag = %v, want 1", f["miss_px"])
	}
}

func TestScore_LagClampsAtZero(t *testing.T) {
	ev := makeEvaluator()
	j := makeJob(model.SideBuy, 1_700_000_000_000, 100)

	// The resolver may pick a row just before dueAt; lag never goes
	// negative.
	out := ev.score(j, PricePoint{Px: 101, Ts: j.dueAt - 400, Source: SrcLast}, true)
	if out.PriceLagMs != 0 {
		t.Errorf("priceLagMs = %d, want 0", out.PriceLagMs)
	}
}

func TestJob_DueAtIsMinuteAligned(t *testing.T) {
	// ts0 mid-minute: dueAt rounds up to the next minute close.
	j := makeJob(model.SideBuy, 1_700_000_012_345, 100)
	if j.dueAt%60000 != 0 {
		t.Errorf("dueAt %d not minute aligned", j.dueAt)
	}
	if j.dueAt < j.ts0+300000 {
		t.Errorf("dueAt %d before ts0+horizon %d", j.dueAt, j.ts0+300000)
	}
	if j.dueAt-(j.ts0+300000) >= 60000 {
		t.Errorf("dueAt %d overshoots by a full minute", j.dueAt)
	}
}
