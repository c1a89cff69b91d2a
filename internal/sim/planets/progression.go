// Package planets tracks the current planet stage and detects when the
// threshold for the next stage is reached.
package planets

import (
	"stellarcolony.ai/internal/sim/catalogs"
	"stellarcolony.ai/internal/sim/ledger"
)

// Progression only ever moves k -> k+1. What a transition does to the rest
// of the game (reset or not) is up to the caller, per Def().Effect.
type Progression struct {
	def     catalogs.ProgressionDef
	idx     int
	pending int // ticks until a committed transition applies; -1 when none
}

func New(def catalogs.ProgressionDef) *Progression {
	return &Progression{def: def, pending: -1}
}

func (p *Progression) Def() catalogs.ProgressionDef { return p.def }
func (p *Progression) Current() catalogs.StageDef   { return p.def.Stages[p.idx] }
func (p *Progression) Level() int                   { return p.idx + 1 }
func (p *Progression) Terminal() bool               { return p.idx == len(p.def.Stages)-1 }

func (p *Progression) Difficulty() float64 {
	d := p.Current().DifficultyMultiplier
	if d <= 0 {
		return 1
	}
	return d
}

// Pending reports how many ticks remain before a committed transition applies.
func (p *Progression) Pending() (int, bool) {
	if p.pending < 0 {
		return 0, false
	}
	return p.pending, true
}

// Check runs once per tick. It returns the new stage when a transition is
// applied on this tick. With a transition delay the threshold is only tested
// once; the commit then completes regardless of later balance changes.
func (p *Progression) Check(l *ledger.Ledger) (catalogs.StageDef, bool) {
	if p.pending >= 0 {
		p.pending--
		if p.pending > 0 {
			return catalogs.StageDef{}, false
		}
		return p.advance(), true
	}
	if p.Terminal() {
		return catalogs.StageDef{}, false
	}
	if l.Amount(p.def.ThresholdResource) < p.Current().ProgressThreshold {
		return catalogs.StageDef{}, false
	}
	if p.def.TransitionDelayTicks > 0 {
		p.pending = p.def.TransitionDelayTicks
		return catalogs.StageDef{}, false
	}
	return p.advance(), true
}

func (p *Progression) advance() catalogs.StageDef {
	p.pending = -1
	if !p.Terminal() {
		p.idx++
	}
	return p.Current()
}

// Progress is the share of the current threshold reached, in [0, 1].
func (p *Progression) Progress(l *ledger.Ledger) float64 {
	if p.Terminal() {
		return 1
	}
	th := p.Current().ProgressThreshold
	if th <= 0 {
		return 1
	}
	v := l.Amount(p.def.ThresholdResource) / th
	if v > 1 {
		return 1
	}
	return v
}

// Reset returns to the first stage and drops any pending transition.
func (p *Progression) Reset() {
	p.idx = 0
	p.pending = -1
}
