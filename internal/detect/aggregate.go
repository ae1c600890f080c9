package detect

import (
	"encoding/json"
	"hash/fnv"
	"math"
	"sort"
	"strconv"

	"quantsignal/internal/model"
	"quantsignal/internal/stats"
)

// Drop reasons reported through Aggregator.OnDrop.
const (
	DropConsensus = "consensus"
	DropSymmetry  = "symmetry"
	DropCooldown  = "cooldown"
	DropMinMove   = "min_move"
	DropDedup     = "dedup"
)

// Params are the static consolidation knobs. The adaptive thresholds
// live in Gates and change with the market environment.
type Params struct {
	MinStrengthFloor        float64
	ConsensusK              float64
	ConsensusKHiVolDiscount float64
	SymmetryStrengthEps     float64
	DynDeltaK               float64
	LiqK                    float64
}

// DefaultParams returns the baseline consolidation settings.
func DefaultParams() Params {
	return Params{
		MinStrengthFloor:        0.6,
		ConsensusK:              0.03,
		ConsensusKHiVolDiscount: 0.5,
		SymmetryStrengthEps:     0.05,
		DynDeltaK:               1.2,
		LiqK:                    0.8,
	}
}

// Gates are the dyn-gate-driven consolidation thresholds.
type Gates struct {
	MinStrength     float64
	CooldownMs      int64
	DedupMs         int64
	MinMoveBp       float64
	MinMoveAtrRatio float64
}

// GatesFrom derives aggregator gates from a gate snapshot.
func GatesFrom(g *model.GateSnapshot) Gates {
	return Gates{
		MinStrength:     g.EffMin0,
		CooldownMs:      g.CooldownMs,
		DedupMs:         g.DedupMs,
		MinMoveBp:       g.MinMoveBp,
		MinMoveAtrRatio: g.MinMoveAtrRatio,
	}
}

type emitState struct {
	ts  int64
	px  float64
	key string
}

// Aggregator consolidates detector candidates into at most one signal
// per tick, holding per (sym, dir) emission state in memory.
type Aggregator struct {
	params Params
	last   map[string]emitState

	// OnDrop is invoked with the gate name whenever consolidation
	// discards a tick that had at least one candidate.
	OnDrop func(reason string)
}

// NewAggregator creates an aggregator with empty emission state.
func NewAggregator(p Params) *Aggregator {
	return &Aggregator{params: p, last: make(map[string]emitState)}
}

func (a *Aggregator) drop(reason string) {
	if a.OnDrop != nil {
		a.OnDrop(reason)
	}
}

// Process runs the detectors and the consolidation pipeline for one
// tick. It returns nil when nothing should be published.
func (a *Aggregator) Process(ctx *Context, gates Gates) *model.Signal {
	cands := make([]*Candidate, 0, 3)
	for _, c := range []*Candidate{Flow(ctx), Delta(ctx), Breakout(ctx)} {
		if c != nil {
			cands = append(cands, c)
		}
	}
	if len(cands) == 0 {
		return nil
	}

	orderCandidates(cands)

	// Consensus: multiple candidates in the same direction lower the
	// strength bar, more aggressively in high-volume regimes.
	kEff := a.params.ConsensusK
	if ctx.DynAbsDelta > 1.5*ctx.MinNotional3s {
		kEff *= a.params.ConsensusKHiVolDiscount
	}
	var nBuy, nSell int
	for _, c := range cands {
		if c.Dir == model.SideBuy {
			nBuy++
		} else {
			nSell++
		}
	}
	effMin := func(n int) float64 {
		return math.Max(a.params.MinStrengthFloor, gates.MinStrength-kEff*float64(n-1))
	}

	survivors := make([]*Candidate, 0, len(cands))
	var keptBuy, keptSell int
	maxBuy, maxSell := math.Inf(-1), math.Inf(-1)
	for _, c := range cands {
		n := nSell
		if c.Dir == model.SideBuy {
			n = nBuy
		}
		if c.Strength < effMin(n) {
			continue
		}
		survivors = append(survivors, c)
		if c.Dir == model.SideBuy {
			keptBuy++
			maxBuy = math.Max(maxBuy, c.Strength)
		} else {
			keptSell++
			maxSell = math.Max(maxSell, c.Strength)
		}
	}
	if len(survivors) == 0 {
		a.drop(DropConsensus)
		return nil
	}

	// Symmetry: a balanced two-sided tick carries no direction.
	if keptBuy > 0 && keptSell > 0 && keptBuy == keptSell &&
		math.Abs(maxBuy-maxSell) < a.params.SymmetryStrengthEps {
		a.drop(DropSymmetry)
		return nil
	}

	best := survivors[0]
	for _, c := range survivors[1:] {
		if c.Strength > best.Strength ||
			(c.Strength == best.Strength && srcRank(c.Src) > srcRank(best.Src)) {
			best = c
		}
	}

	key := ctx.Sym + "|" + best.Dir
	st, hasPrior := a.last[key]
	if hasPrior && ctx.Now-st.ts < gates.CooldownMs {
		a.drop(DropCooldown)
		return nil
	}

	lastPx := ctx.lastPx()
	if hasPrior && !math.IsNaN(lastPx) && !math.IsNaN(st.px) && st.px > 0 {
		moveAbs := math.Abs(lastPx - st.px)
		moveBp := moveAbs / lastPx * 1e4
		atr := ctx.Win.Atr
		if math.IsNaN(atr) || math.IsInf(atr, 0) {
			atr = (ctx.Win.High - ctx.Win.Low) * 2.0 / 3.0
		}
		if moveBp < gates.MinMoveBp || (atr > 0 && moveAbs/atr < gates.MinMoveAtrRatio) {
			a.drop(DropMinMove)
			return nil
		}
	}

	var zMax, shMax float64
	for _, c := range cands {
		zMax = math.Max(zMax, c.ZLike)
		shMax = math.Max(shMax, c.BuyShare)
	}

	approxKey := ApproxKey(ctx.Sym, best.Dir, best.Src, best.Strength, zMax, shMax)
	if hasPrior && approxKey == st.key && ctx.Now-st.ts < gates.DedupMs {
		a.drop(DropDedup)
		return nil
	}

	a.last[key] = emitState{ts: ctx.Now, px: lastPx, key: approxKey}

	ev := make(map[string]string, len(best.Evidence)+6)
	for k, v := range best.Evidence {
		ev[k] = v
	}
	ev["src"] = best.Src
	ev["dir"] = best.Dir
	ev["candidates_hash"] = candidatesHash(cands)
	ev["zLike_max"] = model.Fmt(zMax)
	ev["buyShare3s_max"] = model.Fmt(shMax)

	return &model.Signal{
		Sym:       ctx.Sym,
		Ts:        ctx.Now,
		Dir:       best.Dir,
		Strength:  best.Strength,
		Kind:      model.KindIntra,
		ApproxKey: approxKey,
		Evidence:  ev,
	}
}

// orderCandidates sorts by source rank desc, then buy before sell,
// then strength desc. The order fixes both the choice tie-break input
// and the candidates hash.
func orderCandidates(cands []*Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		ri, rj := srcRank(cands[i].Src), srcRank(cands[j].Src)
		if ri != rj {
			return ri > rj
		}
		if cands[i].Dir != cands[j].Dir {
			return cands[i].Dir == model.SideBuy
		}
		return cands[i].Strength > cands[j].Strength
	})
}

// ApproxKey builds the near-duplicate identity for a signal. Strength
// is bucketed to 1/100, zLike to 0.05 and buyShare to 0.02 so that
// noise-level differences map to the same key.
func ApproxKey(sym, dir, src string, strength, zLike, buyShare float64) string {
	return sym + "|" + dir + "|" + src + "|" +
		strconv.Itoa(int(math.Round(strength*100))) +
		"|z:" + model.FmtFixed(stats.RoundTo(zLike, 0.05), 2) +
		"|sh:" + model.FmtFixed(stats.RoundTo(buyShare, 0.02), 2)
}

type candidateRow struct {
	Ts       int64  `json:"ts"`
	Src      string `json:"src"`
	Dir      string `json:"dir"`
	Strength string `json:"strength"`
}

func candidatesHash(cands []*Candidate) string {
	rows := make([]candidateRow, len(cands))
	for i, c := range cands {
		rows[i] = candidateRow{
			Ts:       c.Ts,
			Src:      c.Src,
			Dir:      c.Dir,
			Strength: model.FmtFixed(c.Strength, 3),
		}
	}
	b, _ := json.Marshal(rows)
	h := fnv.New32a()
	h.Write(b)
	return strconv.FormatUint(uint64(h.Sum32()), 16)
}
