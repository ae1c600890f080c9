package evaluate

import (
	"testing"

	"quantsignal/internal/model"
)

func TestMidPx(t *testing.T) {
	f := model.Fields{"bid1.px": "100", "ask1.px": "101"}
	if got := midPx(f); got != 100.5 {
		t.Errorf("mid = %v, want 100.5", got)
	}

	// A one-sided book yields no mid.
	if got := midPx(model.Fields{"bid1.px": "100"}); got != 0 {
		t.Errorf("one-sided mid = %v, want 0", got)
	}
	if got := midPx(model.Fields{"bid1.px": "100", "ask1.px": "0"}); got != 0 {
		t.Errorf("zero ask mid = %v, want 0", got)
	}
}

func TestClosePx_AcceptsBothSpellings(t *testing.T) {
	if got := closePx(model.Fields{"close": "42.5"}); got != 42.5 {
		t.Errorf("close = %v, want 42.5", got)
	}
	if got := closePx(model.Fields{"c": "42.5"}); got != 42.5 {
		t.Errorf("c = %v, want 42.5", got)
	}
	// The long spelling wins when both are present.
	if got := closePx(model.Fields{"close": "43", "c": "42"}); got != 43 {
		t.Errorf("close over c = %v, want 43", got)
	}
	if got := closePx(model.Fields{}); got != 0 {
		t.Errorf("empty = %v, want 0", got)
	}
}

func TestTradePx(t *testing.T) {
	if got := tradePx(model.Fields{"px": "99.9"}); got != 99.9 {
		t.Errorf("px = %v, want 99.9", got)
	}
	if got := tradePx(model.Fields{"px": "not-a-number"}); got != 0 {
		t.Errorf("garbage px = %v, want 0", got)
	}
}

func TestDefaultPref_Order(t *testing.T) {
	want := []string{SrcMid, SrcLast, SrcWin1m, SrcWsKline1m, SrcBfKline1m}
	if len(DefaultPref) != len(want) {
		t.Fatalf("pref length = %d, want %d", len(DefaultPref), len(want))
	}
	for i := range want {
		if DefaultPref[i] != want[i] {
			t.Errorf("pref[%d] = %s, want %s", i, DefaultPref[i], want[i])
		}
	}
}
