// Package structures tracks owned counts and upgrade levels for the catalog's
// structures and runs the per-tick production pass over them.
package structures

import (
	"fmt"

	"stellarcolony.ai/internal/sim/catalogs"
	"stellarcolony.ai/internal/sim/formula"
	"stellarcolony.ai/internal/sim/ledger"
	"stellarcolony.ai/internal/sim/simerr"
)

type entry struct {
	def   catalogs.StructureDef
	owned int
	level int
}

// Registry is iterated in catalog order so production passes are deterministic.
type Registry struct {
	entries []*entry
	byKey   map[string]*entry
}

// View is a read-only copy of one structure with its current costs.
type View struct {
	Key         string  `json:"key"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Owned       int     `json:"owned"`
	Level       int     `json:"level"`
	Cost        float64 `json:"cost"`
	CostRes     string  `json:"cost_resource"`
	UpgradeCost float64 `json:"upgrade_cost"`
	Produces    string  `json:"produces,omitempty"`
	Rate        float64 `json:"rate"`
	Consumes    string  `json:"consumes,omitempty"`
	ConsumeRate float64 `json:"consume_rate,omitempty"`
}

func New(defs []catalogs.StructureDef) *Registry {
	r := &Registry{byKey: make(map[string]*entry, len(defs))}
	for _, d := range defs {
		e := &entry{def: d}
		r.entries = append(r.entries, e)
		r.byKey[d.Key] = e
	}
	return r
}

func (r *Registry) lookup(key string) (*entry, error) {
	e := r.byKey[key]
	if e == nil {
		return nil, fmt.Errorf("%w: %q", simerr.ErrUnknownStructure, key)
	}
	return e, nil
}

// Counts returns owned and level for key.
func (r *Registry) Counts(key string) (owned, level int, err error) {
	e, err := r.lookup(key)
	if err != nil {
		return 0, 0, err
	}
	return e.owned, e.level, nil
}

// Purchase debits the current cost and adds one unit. It returns the cost paid.
func (r *Registry) Purchase(key string, l *ledger.Ledger, difficulty float64) (float64, error) {
	e, err := r.lookup(key)
	if err != nil {
		return 0, err
	}
	cost := formula.PurchaseCost(e.def, e.owned, difficulty)
	if err := l.Debit(e.def.CostResource, cost); err != nil {
		return 0, fmt.Errorf("purchase %s: %w", key, err)
	}
	e.owned++
	return cost, nil
}

// Upgrade debits the upgrade cost in currency and raises the level by one.
func (r *Registry) Upgrade(key string, l *ledger.Ledger, currency string, difficulty float64) (float64, error) {
	e, err := r.lookup(key)
	if err != nil {
		return 0, err
	}
	if e.owned == 0 {
		return 0, fmt.Errorf("%w: upgrade %s: none owned", simerr.ErrPrecondition, key)
	}
	cost := formula.UpgradeCost(e.def, e.level, difficulty)
	if err := l.Debit(currency, cost); err != nil {
		return 0, fmt.Errorf("upgrade %s: %w", key, err)
	}
	e.level++
	return cost, nil
}

// Reset zeroes every counter. Definitions are untouched.
func (r *Registry) Reset() {
	for _, e := range r.entries {
		e.owned, e.level = 0, 0
	}
}

func (r *Registry) TotalOwned() int {
	n := 0
	for _, e := range r.entries {
		n += e.owned
	}
	return n
}

func (r *Registry) TotalLevels() int {
	n := 0
	for _, e := range r.entries {
		n += e.level
	}
	return n
}

// CapacityBonus sums the storage granted to resource by all owned structures.
// It is meant to be installed as the ledger's bonus source.
func (r *Registry) CapacityBonus(resource string) float64 {
	var b float64
	for _, e := range r.entries {
		b += formula.CapacityBonus(e.def, resource, e.owned, e.level)
	}
	return b
}

// Produce runs one production pass. A structure that consumes an input only
// runs when the full input for this tick is available; it then debits the input
// and credits its output in the same pass. It returns the credited amounts.
func (r *Registry) Produce(l *ledger.Ledger, stageFactor float64) map[string]float64 {
	gained := map[string]float64{}
	for _, e := range r.entries {
		out := formula.Output(e.def, e.owned, e.level, stageFactor)
		if out <= 0 {
			continue
		}
		if need := formula.ConsumeAmount(e.def, e.owned); need > 0 {
			if l.Debit(e.def.Consumes, need) != nil {
				continue
			}
		}
		applied, err := l.Credit(e.def.Produces, out)
		if err != nil {
			continue
		}
		gained[e.def.Produces] += applied
	}
	return gained
}

// ProductionRate is the nominal per-tick output across all structures, ignoring
// capacity and inputs.
func (r *Registry) ProductionRate(stageFactor float64) float64 {
	var total float64
	for _, e := range r.entries {
		total += formula.Output(e.def, e.owned, e.level, stageFactor)
	}
	return total
}

// Views lists every structure in catalog order with costs at difficulty.
func (r *Registry) Views(difficulty, stageFactor float64) []View {
	out := make([]View, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, View{
			Key:         e.def.Key,
			Name:        e.def.Name,
			Description: e.def.Description,
			Owned:       e.owned,
			Level:       e.level,
			Cost:        formula.PurchaseCost(e.def, e.owned, difficulty),
			CostRes:     e.def.CostResource,
			UpgradeCost: formula.UpgradeCost(e.def, e.level, difficulty),
			Produces:    e.def.Produces,
			Rate:        formula.Output(e.def, e.owned, e.level, stageFactor),
			Consumes:    e.def.Consumes,
			ConsumeRate: formula.ConsumeAmount(e.def, e.owned),
		})
	}
	return out
}

// Each visits key, owned and level in catalog order.
func (r *Registry) Each(fn func(key string, owned, level int)) {
	for _, e := range r.entries {
		fn(e.def.Key, e.owned, e.level)
	}
}
