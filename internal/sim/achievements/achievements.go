// Package achievements unlocks catalog milestones from game facts. Unlocks are
// permanent and survive prestige; rewards are descriptive only.
package achievements

import (
	"stellarcolony.ai/internal/sim/catalogs"
)

// Facts is what requirements are measured against.
type Facts struct {
	Resources          map[string]float64
	ManualClicks       int
	StructuresOwned    int
	StructureUpgrades  int
	ProductionRate     float64
	ContractsFulfilled int
	Stage              int
}

func (f Facts) Value(requirement string) float64 {
	switch requirement {
	case catalogs.ReqManualClick:
		return float64(f.ManualClicks)
	case catalogs.ReqStructuresOwned:
		return float64(f.StructuresOwned)
	case catalogs.ReqStructureUpgrades:
		return float64(f.StructureUpgrades)
	case catalogs.ReqProductionRate:
		return f.ProductionRate
	case catalogs.ReqContractsFulfilled:
		return float64(f.ContractsFulfilled)
	case catalogs.ReqStage:
		return float64(f.Stage)
	default:
		return f.Resources[requirement]
	}
}

type Status struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	Reward       string  `json:"reward"`
	Unlocked     bool    `json:"unlocked"`
	UnlockedTick uint64  `json:"unlocked_tick,omitempty"`
	Current      float64 `json:"current"`
	Threshold    float64 `json:"threshold"`
	Percent      float64 `json:"percent"`
}

type Tracker struct {
	defs     []catalogs.AchievementDef
	unlocked map[string]uint64
}

func New(defs []catalogs.AchievementDef) *Tracker {
	return &Tracker{defs: defs, unlocked: map[string]uint64{}}
}

// Evaluate unlocks every achievement whose requirement is met and returns the
// newly unlocked ones in catalog order.
func (t *Tracker) Evaluate(f Facts, tick uint64) []catalogs.AchievementDef {
	var out []catalogs.AchievementDef
	for _, d := range t.defs {
		if _, ok := t.unlocked[d.ID]; ok {
			continue
		}
		if f.Value(d.Requirement) >= d.Threshold {
			t.unlocked[d.ID] = tick
			out = append(out, d)
		}
	}
	return out
}

func (t *Tracker) Count() int { return len(t.unlocked) }

func (t *Tracker) Progress(f Facts) []Status {
	out := make([]Status, 0, len(t.defs))
	for _, d := range t.defs {
		at, ok := t.unlocked[d.ID]
		cur := f.Value(d.Requirement)
		pct := 100.0
		if !ok {
			pct = cur / d.Threshold * 100
			if pct > 100 {
				pct = 100
			}
		}
		out = append(out, Status{
			ID:           d.ID,
			Name:         d.Name,
			Description:  d.Description,
			Reward:       d.Reward,
			Unlocked:     ok,
			UnlockedTick: at,
			Current:      cur,
			Threshold:    d.Threshold,
			Percent:      pct,
		})
	}
	return out
}
