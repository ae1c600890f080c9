package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"quantsignal/internal/model"
)

// envelope is the venue's push frame. Data stays raw until the channel
// is known; event frames (subscribe acks, errors) carry no data.
type envelope struct {
	Event  string          `json:"event"`
	Code   string          `json:"code"`
	Msg    string          `json:"msg"`
	Arg    subArg          `json:"arg"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

type tradeRow struct {
	InstID  string `json:"instId"`
	TradeID string `json:"tradeId"`
	Px      string `json:"px"`
	Sz      string `json:"sz"`
	Side    string `json:"side"`
	Ts      string `json:"ts"`
}

// parseTrades decodes a trades push. Rows with unusable numerics are
// skipped rather than failing the batch.
func parseTrades(sym string, data json.RawMessage, recvTs int64) ([]model.Trade, error) {
	var rows []tradeRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("trades %s: %w", sym, err)
	}
	out := make([]model.Trade, 0, len(rows))
	for _, r := range rows {
		ts, _ := strconv.ParseInt(r.Ts, 10, 64)
		px, _ := strconv.ParseFloat(r.Px, 64)
		qty, _ := strconv.ParseFloat(r.Sz, 64)
		if ts <= 0 || px <= 0 || qty <= 0 {
			continue
		}
		if r.Side != model.SideBuy && r.Side != model.SideSell {
			continue
		}
		out = append(out, model.Trade{
			Sym:     sym,
			Ts:      ts,
			Px:      px,
			Qty:     qty,
			Side:    r.Side,
			TradeID: r.TradeID,
			Taker:   true,
			RecvTs:  recvTs,
		})
	}
	return out, nil
}

// bookRow is one depth frame. Levels are [px, sz, liqOrders, numOrders]
// string quadruples.
type bookRow struct {
	Asks     [][]string `json:"asks"`
	Bids     [][]string `json:"bids"`
	Ts       string     `json:"ts"`
	Checksum int64      `json:"checksum"`
	SeqID    int64      `json:"seqId"`
	PrevSeq  int64      `json:"prevSeqId"`
}

// parseBook decodes a depth push into a top-of-book snapshot. Level
// size sums use exact decimal arithmetic so the published depth is the
// venue's own representation, not a float round-trip.
func parseBook(sym string, data json.RawMessage) (model.BookTop, error) {
	var rows []bookRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return model.BookTop{}, fmt.Errorf("book %s: %w", sym, err)
	}
	if len(rows) == 0 {
		return model.BookTop{}, fmt.Errorf("book %s: empty frame", sym)
	}
	r := rows[0]
	ts, _ := strconv.ParseInt(r.Ts, 10, 64)
	if ts <= 0 {
		return model.BookTop{}, fmt.Errorf("book %s: bad ts %q", sym, r.Ts)
	}

	b := model.BookTop{Sym: sym, Ts: ts, SeqID: r.SeqID, PrevSeq: r.PrevSeq}
	if r.Checksum != 0 {
		b.Checksum = strconv.FormatInt(r.Checksum, 10)
	}
	if len(r.Bids) > 0 && len(r.Bids[0]) >= 2 {
		b.Bid1Px, _ = strconv.ParseFloat(r.Bids[0][0], 64)
		b.Bid1Sz = r.Bids[0][1]
	}
	if len(r.Asks) > 0 && len(r.Asks[0]) >= 2 {
		b.Ask1Px, _ = strconv.ParseFloat(r.Asks[0][0], 64)
		b.Ask1Sz = r.Asks[0][1]
	}
	if b.Bid1Px > 0 && b.Ask1Px > 0 {
		b.Spread = b.Ask1Px - b.Bid1Px
	}
	b.BidSz10 = sumLevelSizes(r.Bids)
	b.AskSz10 = sumLevelSizes(r.Asks)
	return b, nil
}

// sumLevelSizes adds resting size across all delivered levels,
// preserving the venue's decimal precision. "" when nothing summed.
func sumLevelSizes(levels [][]string) string {
	sum := decimal.Zero
	n := 0
	for _, lvl := range levels {
		if len(lvl) < 2 {
			continue
		}
		d, err := decimal.NewFromString(lvl[1])
		if err != nil {
			continue
		}
		sum = sum.Add(d)
		n++
	}
	if n == 0 {
		return ""
	}
	return sum.String()
}

// parseKlines decodes a candle push. Rows are positional string
// arrays: ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm.
func parseKlines(sym, tf string, data json.RawMessage) ([]model.Kline, error) {
	var rows [][]string
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("kline %s %s: %w", sym, tf, err)
	}
	out := make([]model.Kline, 0, len(rows))
	for _, r := range rows {
		k, ok := klineFromArray(sym, tf, r)
		if !ok {
			continue
		}
		out = append(out, k)
	}
	return out, nil
}

func klineFromArray(sym, tf string, r []string) (model.Kline, bool) {
	if len(r) < 6 {
		return model.Kline{}, false
	}
	ts, _ := strconv.ParseInt(r[0], 10, 64)
	o, _ := strconv.ParseFloat(r[1], 64)
	h, _ := strconv.ParseFloat(r[2], 64)
	l, _ := strconv.ParseFloat(r[3], 64)
	c, _ := strconv.ParseFloat(r[4], 64)
	if ts <= 0 || c <= 0 {
		return model.Kline{}, false
	}
	k := model.Kline{Sym: sym, TF: tf, Ts: ts, Open: o, High: h, Low: l, Close: c}
	k.Vol, _ = strconv.ParseFloat(r[5], 64)
	if len(r) > 7 {
		k.VolCcyQuote, _ = strconv.ParseFloat(r[7], 64)
	}
	if len(r) > 8 {
		k.Confirm = r[8] == "1"
	}
	return k, true
}

type oiRow struct {
	InstID string `json:"instId"`
	OI     string `json:"oi"`
	OICcy  string `json:"oiCcy"`
	Ts     string `json:"ts"`
}

func parseOI(sym string, data json.RawMessage) ([]model.OISample, error) {
	var rows []oiRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("oi %s: %w", sym, err)
	}
	out := make([]model.OISample, 0, len(rows))
	for _, r := range rows {
		ts, _ := strconv.ParseInt(r.Ts, 10, 64)
		oi, _ := strconv.ParseFloat(r.OI, 64)
		oiCcy, _ := strconv.ParseFloat(r.OICcy, 64)
		if ts <= 0 || (oi <= 0 && oiCcy <= 0) {
			continue
		}
		out = append(out, model.OISample{Sym: sym, Ts: ts, OI: oi, OICcy: oiCcy})
	}
	return out, nil
}

type fundingRow struct {
	InstID          string `json:"instId"`
	FundingRate     string `json:"fundingRate"`
	FundingTime     string `json:"fundingTime"`
	NextFundingTime string `json:"nextFundingTime"`
	Ts              string `json:"ts"`
}

// parseFunding decodes a funding push. The venue's fundingTime is the
// soonest upcoming settlement, which is what the funding-soon gate
// needs, so it wins over nextFundingTime when both are present.
func parseFunding(sym string, data json.RawMessage) ([]model.FundingState, error) {
	var rows []fundingRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("funding %s: %w", sym, err)
	}
	out := make([]model.FundingState, 0, len(rows))
	for _, r := range rows {
		rate, err := strconv.ParseFloat(r.FundingRate, 64)
		if err != nil {
			continue
		}
		next, _ := strconv.ParseInt(r.FundingTime, 10, 64)
		if next <= 0 {
			next, _ = strconv.ParseInt(r.NextFundingTime, 10, 64)
		}
		ts, _ := strconv.ParseInt(r.Ts, 10, 64)
		out = append(out, model.FundingState{Sym: sym, Ts: ts, Rate: rate, NextFundingTime: next})
	}
	return out, nil
}

// channelTF maps a candle channel name to its timeframe token,
// ok=false for channels outside the 1m/5m/15m set the pipeline uses.
func channelTF(channel string) (string, bool) {
	tf := strings.TrimPrefix(channel, "candle")
	switch tf {
	case "1m", "5m", "15m":
		return tf, true
	}
	return "", false
}
