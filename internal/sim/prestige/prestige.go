// Package prestige decides prestige eligibility and derives click power from
// the accumulated prestige bonus.
package prestige

import (
	"fmt"
	"math"

	"stellarcolony.ai/internal/sim/catalogs"
	"stellarcolony.ai/internal/sim/ledger"
	"stellarcolony.ai/internal/sim/simerr"
)

// Controller keeps the two prestige counters. Both only grow and outlive
// every reset the engine performs.
type Controller struct {
	def   *catalogs.PrestigeDef
	base  map[string]float64
	level int
	bonus int
}

// New returns a controller; def may be nil for variants without prestige.
func New(def *catalogs.PrestigeDef, baseClick map[string]float64) *Controller {
	b := make(map[string]float64, len(baseClick))
	for k, v := range baseClick {
		b[k] = v
	}
	return &Controller{def: def, base: b}
}

func (c *Controller) Enabled() bool { return c.def != nil }
func (c *Controller) Level() int    { return c.level }
func (c *Controller) Bonus() int    { return c.bonus }

func (c *Controller) PendingBonus(l *ledger.Ledger) int {
	if c.def == nil {
		return 0
	}
	return int(math.Floor(l.Amount(c.def.Resource) / c.def.Threshold))
}

func (c *Controller) Eligible(l *ledger.Ledger) bool {
	return c.def != nil && l.Amount(c.def.Resource) >= c.def.Threshold
}

// NextAt is the next whole multiple of the threshold above the current amount.
func (c *Controller) NextAt(l *ledger.Ledger) float64 {
	if c.def == nil {
		return 0
	}
	return float64(c.PendingBonus(l)+1) * c.def.Threshold
}

// Commit bumps the counters if eligible and returns the bonus gained. The
// caller is responsible for resetting the rest of the game.
func (c *Controller) Commit(l *ledger.Ledger) (int, error) {
	if c.def == nil {
		return 0, fmt.Errorf("%w: prestige", simerr.ErrDisabled)
	}
	if !c.Eligible(l) {
		return 0, fmt.Errorf("%w: need %v %s, have %v", simerr.ErrPrecondition,
			c.def.Threshold, c.def.Resource, l.Amount(c.def.Resource))
	}
	gained := c.PendingBonus(l)
	c.level++
	c.bonus += gained
	return gained, nil
}

// ClickPower returns the per-click gain for every resource with a click entry
// or a prestige scale.
func (c *Controller) ClickPower() map[string]float64 {
	out := make(map[string]float64, len(c.base))
	for k, v := range c.base {
		out[k] = v
	}
	if c.def == nil {
		return out
	}
	for res, s := range c.def.ClickPower {
		div := s.Divisor
		if div < 1 {
			div = 1
		}
		out[res] = s.Base + float64(c.bonus/div)
	}
	return out
}
