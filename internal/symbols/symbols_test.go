package symbols

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"btc", "BTC-USDT-SWAP"},
		{"ETH", "ETH-USDT-SWAP"},
		{" sol ", "SOL-USDT-SWAP"},
		{"BTC-USDT-SWAP", "BTC-USDT-SWAP"},
		{"btc-usdt-swap", "BTC-USDT-SWAP"},
		{"BTC-USD-SWAP", "BTC-USD-SWAP"},
		{"", ""},
		{"   ", ""},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestParseList(t *testing.T) {
	got := ParseList("btc, eth,BTC-USDT-SWAP,,sol")
	want := []string{"BTC-USDT-SWAP", "ETH-USDT-SWAP", "SOL-USDT-SWAP"}
	if len(got) != len(want) {
		t.Fatalf("ParseList = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ParseList[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRegistry_Builtin(t *testing.T) {
	r := NewRegistry()
	if got := r.Multiplier("BTC-USDT-SWAP"); got != 0.01 {
		t.Errorf("BTC multiplier = %v, want 0.01", got)
	}
	if got := r.TickSize("ETH-USDT-SWAP"); got != 0.01 {
		t.Errorf("ETH tick = %v, want 0.01", got)
	}
	// Unknown instruments keep raw qty*px usable.
	if got := r.Multiplier("DOGE-USDT-SWAP"); got != 1 {
		t.Errorf("unknown multiplier = %v, want 1", got)
	}
	if r.Known("DOGE-USDT-SWAP") {
		t.Error("DOGE must not be in the builtin table")
	}
}

func TestLoadRegistry_OverlaysFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "instruments.yaml")
	data := `instruments:
  - instId: doge
    ctVal: "1000"
    tickSz: "0.00001"
  - instId: BTC-USDT-SWAP
    ctVal: "0.02"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	if got := r.Multiplier("DOGE-USDT-SWAP"); got != 1000 {
		t.Errorf("DOGE multiplier = %v, want 1000", got)
	}
	// File overrides builtin ctVal but inherits the missing tick size.
	if got := r.Multiplier("BTC-USDT-SWAP"); got != 0.02 {
		t.Errorf("BTC multiplier = %v, want 0.02", got)
	}
	if got := r.TickSize("BTC-USDT-SWAP"); got != 0.1 {
		t.Errorf("BTC tick = %v, want inherited 0.1", got)
	}
}

func TestLoadRegistry_MissingFile(t *testing.T) {
	if _, err := LoadRegistry("/nonexistent/instruments.yaml"); err == nil {
		t.Error("missing file must error")
	}
	r, err := LoadRegistry("")
	if err != nil || !r.Known("BTC-USDT-SWAP") {
		t.Errorf("empty path must return the builtin registry, err=%v", err)
	}
}

func TestKeys_HashTagCoLocation(t *testing.T) {
	k := NewKeys("")
	sym := "BTC-USDT-SWAP"
	cases := map[string]string{
		"trades":   k.Trades(sym),
		"book":     k.Book(sym),
		"oi":       k.OI(sym),
		"funding":  k.Funding(sym),
		"kline1m":  k.Kline(sym, "1m"),
		"bf":       k.BackfillKline(sym),
		"win1m":    k.Win(sym, "1m"),
		"winState": k.WinState(sym, "1m"),
		"detected": k.Detected(sym),
		"final":    k.Final(sym),
		"evalDone": k.EvalDone(sym),
		"gate":     k.Gate(sym),
	}
	for name, key := range cases {
		if want := "{" + sym + "}"; !strings.Contains(key, want) {
			t.Errorf("%s key %q lacks hash tag %q", name, key, want)
		}
	}
}

func TestKeys_Shapes(t *testing.T) {
	k := NewKeys("")
	sym := "BTC-USDT-SWAP"
	cases := []struct {
		got  string
		want string
	}{
		{k.Trades(sym), "ws:{BTC-USDT-SWAP}:trades"},
		{k.Kline(sym, "5m"), "ws:{BTC-USDT-SWAP}:kline5m"},
		{k.BackfillKline(sym), "bf:{BTC-USDT-SWAP}:kline1m"},
		{k.Win(sym, "15m"), "win:15m:{BTC-USDT-SWAP}"},
		{k.WinState(sym, "1m"), "win:state:1m:{BTC-USDT-SWAP}"},
		{k.Detected(sym), "signal:detected:{BTC-USDT-SWAP}"},
		{k.Final(sym), "signal:final:{BTC-USDT-SWAP}"},
		{k.EvalDone(sym), "eval:done:{BTC-USDT-SWAP}"},
		{k.Gate(sym), "dyn:gate:{BTC-USDT-SWAP}"},
		{k.IdemFinal(sym, "buy", "delta", 1700000000000),
			"idem:final:{BTC-USDT-SWAP}:buy:delta:1700000000000"},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("key = %q, want %q", c.got, c.want)
		}
	}
}

func TestKeys_Prefix(t *testing.T) {
	k := NewKeys("dev:")
	if got := k.Trades("BTC-USDT-SWAP"); got != "dev:ws:{BTC-USDT-SWAP}:trades" {
		t.Errorf("prefixed key = %q", got)
	}
}
