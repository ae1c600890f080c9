// Package symbols normalizes instrument identifiers and owns the
// per-instrument metadata (contract value, tick size) needed to turn
// contract quantities into quote notional.
package symbols

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Normalize maps a configured token to a full perpetual-swap
// instrument id. Short asset tokens expand to linear USDT swaps:
// "btc" → "BTC-USDT-SWAP". Full ids pass through uppercased.
func Normalize(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if strings.Contains(s, "-") {
		return s
	}
	return s + "-USDT-SWAP"
}

// ParseList splits a comma-separated symbol list, normalizes each
// entry, and drops duplicates while preserving order.
func ParseList(csv string) []string {
	seen := map[string]bool{}
	var out []string
	for _, part := range strings.Split(csv, ",") {
		sym := Normalize(part)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out
}

// Instrument carries venue metadata for one perpetual swap.
type Instrument struct {
	InstID string  `yaml:"instId"`
	CtVal  float64 `yaml:"-"` // base units per contract
	TickSz float64 `yaml:"-"`

	// Venue REST/yaml deliver these as decimal strings.
	CtValRaw  string `yaml:"ctVal"`
	TickSzRaw string `yaml:"tickSz"`
}

type registryFile struct {
	Instruments []Instrument `yaml:"instruments"`
}

// Registry resolves instrument metadata. It is built once at startup
// and read-only afterwards, so no locking is needed.
type Registry struct {
	byID map[string]Instrument
}

// builtin covers the majors so a bare deployment works without a
// symbols file. Values match the venue's linear USDT swap specs.
var builtin = []Instrument{
	{InstID: "BTC-USDT-SWAP", CtVal: 0.01, TickSz: 0.1},
	{InstID: "ETH-USDT-SWAP", CtVal: 0.1, TickSz: 0.01},
	{InstID: "SOL-USDT-SWAP", CtVal: 1, TickSz: 0.01},
}

// NewRegistry returns a registry with the builtin instrument table.
func NewRegistry() *Registry {
	r := &Registry{byID: map[string]Instrument{}}
	for _, in := range builtin {
		r.byID[in.InstID] = in
	}
	return r
}

// LoadRegistry reads an instruments yaml file and overlays it on the
// builtin table. Path "" returns the builtin registry.
func LoadRegistry(path string) (*Registry, error) {
	r := NewRegistry()
	if path == "" {
		return r, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("symbols: read %s: %w", path, err)
	}
	var fileData registryFile
	if err := yaml.Unmarshal(raw, &fileData); err != nil {
		return nil, fmt.Errorf("symbols: parse %s: %w", path, err)
	}
	for _, in := range fileData.Instruments {
		in.InstID = Normalize(in.InstID)
		if in.InstID == "" {
			continue
		}
		if in.CtValRaw != "" {
			if v, err := strconv.ParseFloat(in.CtValRaw, 64); err == nil && v > 0 {
				in.CtVal = v
			}
		}
		if in.TickSzRaw != "" {
			if v, err := strconv.ParseFloat(in.TickSzRaw, 64); err == nil && v > 0 {
				in.TickSz = v
			}
		}
		if prev, ok := r.byID[in.InstID]; ok {
			if in.CtVal == 0 {
				in.CtVal = prev.CtVal
			}
			if in.TickSz == 0 {
				in.TickSz = prev.TickSz
			}
		}
		r.byID[in.InstID] = in
	}
	return r, nil
}

// Multiplier returns base units per contract for notional conversion.
// Unknown instruments fall back to 1 so raw qty·px still yields a
// usable magnitude.
func (r *Registry) Multiplier(sym string) float64 {
	if in, ok := r.byID[sym]; ok && in.CtVal > 0 {
		return in.CtVal
	}
	return 1
}

// TickSize returns the venue price increment, 0 when unknown.
func (r *Registry) TickSize(sym string) float64 {
	if in, ok := r.byID[sym]; ok {
		return in.TickSz
	}
	return 0
}

// Known reports whether the instrument has venue metadata.
func (r *Registry) Known(sym string) bool {
	_, ok := r.byID[sym]
	return ok
}
