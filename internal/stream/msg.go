package stream

import (
	"fmt"
	"strconv"
	"strings"

	goredis "github.com/go-redis/redis/v8"

	"quantsignal/internal/model"
)

// Entry is one stream entry with flattened string fields.
type Entry struct {
	ID     string
	Fields model.Fields
}

// IDTime extracts the millisecond timestamp from a stream id
// ("1700000060000-3" → 1700000060000). Returns 0 on malformed ids.
func (e Entry) IDTime() int64 {
	dash := strings.IndexByte(e.ID, '-')
	if dash <= 0 {
		return 0
	}
	ms, err := strconv.ParseInt(e.ID[:dash], 10, 64)
	if err != nil {
		return 0
	}
	return ms
}

// Batch is the per-key result of one consumer-group read.
type Batch struct {
	Key     string
	Entries []Entry
}

// Msg is a normalized inbound message: symbol and kind derived from
// the key, timestamp resolved from payload, id, or the caller clock.
type Msg struct {
	Key    string
	ID     string
	Sym    string // from the {…} hash-tag
	Kind   string // trades | book | kline | oi | funding | detected | final | …
	TF     string // set for kind "kline" ("1m", "5m", "15m")
	Ts     int64  // ms UTC
	Fields model.Fields
}

// FlattenValues converts XADD values (map[string]interface{}) into the
// string map every parser consumes. Non-string values are stringified.
func FlattenValues(vals map[string]interface{}) model.Fields {
	out := make(model.Fields, len(vals))
	for k, v := range vals {
		switch s := v.(type) {
		case string:
			out[k] = s
		case nil:
			// omitted
		default:
			out[k] = fmt.Sprint(s)
		}
	}
	return out
}

// SymFromKey extracts the hash-tagged instrument id, "" when the key
// carries no {…} tag.
func SymFromKey(key string) string {
	open := strings.IndexByte(key, '{')
	if open < 0 {
		return ""
	}
	close := strings.IndexByte(key[open+1:], '}')
	if close < 0 {
		return ""
	}
	return key[open+1 : open+1+close]
}

// KindFromKey derives the stream kind from the last non-tag key
// segment. kline streams collapse to kind "kline" with the timeframe
// returned separately.
func KindFromKey(key string) (kind, tf string) {
	segs := strings.Split(key, ":")
	for i := len(segs) - 1; i >= 0; i-- {
		seg := segs[i]
		if seg == "" || strings.HasPrefix(seg, "{") {
			continue
		}
		if rest, ok := strings.CutPrefix(seg, "kline"); ok && rest != "" {
			return "kline", rest
		}
		return seg, ""
	}
	return "", ""
}

// NormalizeBatch flattens group-read batches into Msgs. Timestamp
// priority: payload ts, then the entry-id time, then nowMs.
func NormalizeBatch(batches []Batch, nowMs int64) []Msg {
	var out []Msg
	for _, b := range batches {
		sym := SymFromKey(b.Key)
		kind, tf := KindFromKey(b.Key)
		for _, e := range b.Entries {
			ts, ok := e.Fields.Int("ts")
			if !ok || ts <= 0 {
				ts = e.IDTime()
			}
			if ts <= 0 {
				ts = nowMs
			}
			out = append(out, Msg{
				Key:    b.Key,
				ID:     e.ID,
				Sym:    sym,
				Kind:   kind,
				TF:     tf,
				Ts:     ts,
				Fields: e.Fields,
			})
		}
	}
	return out
}

func toEntries(msgs []goredis.XMessage) []Entry {
	out := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Entry{ID: m.ID, Fields: FlattenValues(m.Values)})
	}
	return out
}
