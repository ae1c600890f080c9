package stream

import (
	"testing"

	"quantsignal/internal/model"
)

func TestSymFromKey(t *testing.T) {
	cases := []struct {
		key  string
		want string
	}{
		{"ws:{BTC-USDT-SWAP}:trades", "BTC-USDT-SWAP"},
		{"signal:final:{ETH-USDT-SWAP}", "ETH-USDT-SWAP"},
		{"win:{BTC-USDT-SWAP}:1m", "BTC-USDT-SWAP"},
		{"no-hash-tag", ""},
		{"broken:{unclosed", ""},
	}
	for _, c := range cases {
		if got := SymFromKey(c.key); got != c.want {
			t.Errorf("SymFromKey(%q) = %q, want %q", c.key, got, c.want)
		}
	}
}

func TestKindFromKey(t *testing.T) {
	cases := []struct {
		key      string
		wantKind string
		wantTF   string
	}{
		{"ws:{BTC-USDT-SWAP}:trades", "trades", ""},
		{"ws:{BTC-USDT-SWAP}:book", "book", ""},
		{"ws:{BTC-USDT-SWAP}:kline1m", "kline", "1m"},
		{"ws:{BTC-USDT-SWAP}:kline5m", "kline", "5m"},
		{"ws:{BTC-USDT-SWAP}:kline15m", "kline", "15m"},
		{"ws:{BTC-USDT-SWAP}:oi", "oi", ""},
		{"signal:detected:{BTC-USDT-SWAP}", "detected", ""},
		{"eval:done:{BTC-USDT-SWAP}", "done", ""},
	}
	for _, c := range cases {
		kind, tf := KindFromKey(c.key)
		if kind != c.wantKind || tf != c.wantTF {
			t.Errorf("KindFromKey(%q) = %q/%q, want %q/%q",
				c.key, kind, tf, c.wantKind, c.wantTF)
		}
	}
}

func TestEntry_IDTime(t *testing.T) {
	if got := (Entry{ID: "1700000060000-3"}).IDTime(); got != 1700000060000 {
		t.Errorf("IDTime = %d, want 1700000060000", got)
	}
	if got := (Entry{ID: "garbage"}).IDTime(); got != 0 {
		t.Errorf("malformed id IDTime = %d, want 0", got)
	}
	if got := (Entry{ID: "-5"}).IDTime(); got != 0 {
		t.Errorf("empty ms IDTime = %d, want 0", got)
	}
}

func TestNormalizeBatch_TimestampPriority(t *testing.T) {
	batches := []Batch{{
		Key: "ws:{BTC-USDT-SWAP}:trades",
		Entries: []Entry{
			{ID: "1700000060000-0", Fields: model.Fields{"ts": "1700000059000", "px": "100"}},
			{ID: "1700000061000-0", Fields: model.Fields{"px": "101"}},
			{ID: "bad-id", Fields: model.Fields{"px": "102"}},
		},
	}}
	msgs := NormalizeBatch(batches, 1700000099000)
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}

	// Payload ts wins over the entry-id time.
	if msgs[0].Ts != 1700000059000 {
		t.Errorf("msgs[0].Ts = %d, want payload ts", msgs[0].Ts)
	}
	// Missing payload ts falls back to the id.
	if msgs[1].Ts != 1700000061000 {
		t.Errorf("msgs[1].Ts = %d, want id time", msgs[1].Ts)
	}
	// Neither available: caller clock.
	if msgs[2].Ts != 1700000099000 {
		t.Errorf("msgs[2].Ts = %d, want nowMs", msgs[2].Ts)
	}

	for _, m := range msgs {
		if m.Sym != "BTC-USDT-SWAP" || m.Kind != "trades" {
			t.Errorf("sym/kind = %q/%q, want BTC-USDT-SWAP/trades", m.Sym, m.Kind)
		}
	}
}

func TestFlattenValues(t *testing.T) {
	got := FlattenValues(map[string]interface{}{
		"s":   "text",
		"n":   42,
		"f":   1.5,
		"nil": nil,
	})
	if got["s"] != "text" {
		t.Errorf("s = %q, want text", got["s"])
	}
	if got["n"] != "42" || got["f"] != "1.5" {
		t.Errorf("n/f = %q/%q, want 42/1.5", got["n"], got["f"])
	}
	if _, present := got["nil"]; present {
		t.Error("nil values must be omitted")
	}
}
