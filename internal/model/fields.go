package model

import (
	"math"
	"strconv"
)

// Fields is the flat string view of one Redis stream entry's values.
// Redis stringifies everything on XADD; parsers must treat every field
// as untrusted text.
type Fields map[string]string

// Str returns the raw field value ("" when absent).
func (f Fields) Str(k string) string { return f[k] }

// Float parses a field as float64. Returns false on absence, parse
// failure, or a non-finite result.
func (f Fields) Float(k string) (float64, bool) {
	s, ok := f[k]
	if !ok || s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Int parses a field as int64, accepting a float encoding of a whole
// number (upstreams sometimes emit "1700000000000.0").
func (f Fields) Int(k string) (int64, bool) {
	s, ok := f[k]
	if !ok || s == "" {
		return 0, false
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, true
	}
	v, ok2 := f.Float(k)
	if !ok2 {
		return 0, false
	}
	return int64(v), true
}

// Bool parses "1"/"true" as true, everything else as false.
func (f Fields) Bool(k string) bool {
	s := f[k]
	return s == "1" || s == "true"
}

// Fmt renders a float in its shortest decimal form for the wire.
func Fmt(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// FmtFixed renders a float with a fixed number of decimals.
func FmtFixed(v float64, prec int) string { return strconv.FormatFloat(v, 'f', prec, 64) }

// FmtInt renders an int64 in base 10.
func FmtInt(v int64) string { return strconv.FormatInt(v, 10) }

// FmtBool renders a bool as "1"/"0" (the venue convention for flags).
func FmtBool(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
