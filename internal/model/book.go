package model

import "fmt"

// BookTop is a downsampled top-of-book snapshot from the depth feed.
// Level sizes keep their venue decimal representation; summed depth
// (BidSz10/AskSz10) is produced with exact decimal arithmetic upstream.
type BookTop struct {
	Sym      string
	Ts       int64 // exchange timestamp, ms UTC
	Bid1Px   float64
	Bid1Sz   string // decimal string
	Ask1Px   float64
	Ask1Sz   string // decimal string
	BidSz10  string // decimal sum of resting size across levels
	AskSz10  string
	Spread   float64 // ask1 - bid1
	Snapshot bool    // full snapshot vs incremental update
	SeqID    int64   // venue sequence id (field "u")
	PrevSeq  int64   // previous sequence id (field "pu")
	Checksum string
	Action   string // "snapshot" or "update"
}

// Mid returns (bid1+ask1)/2, 0 when either side is empty.
func (b BookTop) Mid() float64 {
	if b.Bid1Px <= 0 || b.Ask1Px <= 0 {
		return 0
	}
	return (b.Bid1Px + b.Ask1Px) / 2
}

// ToFields renders the snapshot for XADD onto ws:{sym}:book. Level
// fields keep the venue's dotted spelling.
func (b BookTop) ToFields() map[string]interface{} {
	m := map[string]interface{}{
		"ts":       FmtInt(b.Ts),
		"bid1.px":  Fmt(b.Bid1Px),
		"bid1.sz":  b.Bid1Sz,
		"ask1.px":  Fmt(b.Ask1Px),
		"ask1.sz":  b.Ask1Sz,
		"snapshot": FmtBool(b.Snapshot),
		"action":   b.Action,
	}
	if b.BidSz10 != "" {
		m["bidSz10"] = b.BidSz10
	}
	if b.AskSz10 != "" {
		m["askSz10"] = b.AskSz10
	}
	if b.Spread > 0 {
		m["spread"] = Fmt(b.Spread)
	}
	if b.SeqID > 0 {
		m["u"] = FmtInt(b.SeqID)
	}
	if b.PrevSeq > 0 {
		m["pu"] = FmtInt(b.PrevSeq)
	}
	if b.Checksum != "" {
		m["checksum"] = b.Checksum
	}
	return m
}

// ParseBookTop decodes a book row.
func ParseBookTop(sym string, f Fields) (BookTop, error) {
	ts, ok := f.Int("ts")
	if !ok || ts <= 0 {
		return BookTop{}, fmt.Errorf("book %s: bad ts %q", sym, f.Str("ts"))
	}
	b := BookTop{Sym: sym, Ts: ts}
	b.Bid1Px, _ = f.Float("bid1.px")
	b.Ask1Px, _ = f.Float("ask1.px")
	b.Bid1Sz = f.Str("bid1.sz")
	b.Ask1Sz = f.Str("ask1.sz")
	b.BidSz10 = f.Str("bidSz10")
	b.AskSz10 = f.Str("askSz10")
	b.Spread, _ = f.Float("spread")
	b.Snapshot = f.Bool("snapshot")
	b.SeqID, _ = f.Int("u")
	b.PrevSeq, _ = f.Int("pu")
	b.Checksum = f.Str("checksum")
	b.Action = f.Str("action")
	return b, nil
}
