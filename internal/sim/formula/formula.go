// Package formula holds the pure cost and production curves. Nothing here
// touches state; callers pass the counters in.
package formula

import (
	"math"

	"stellarcolony.ai/internal/sim/catalogs"
)

// UpgradeGrowth is the per-level growth of upgrade costs.
const UpgradeGrowth = 1.5

func norm(difficulty float64) float64 {
	if difficulty <= 0 || math.IsNaN(difficulty) {
		return 1
	}
	return difficulty
}

// PurchaseCost is floor(base_cost * cost_multiplier^owned * difficulty).
func PurchaseCost(def catalogs.StructureDef, owned int, difficulty float64) float64 {
	return math.Floor(def.BaseCost * math.Pow(def.CostMultiplier, float64(owned)) * norm(difficulty))
}

// UpgradeCost is floor(upgrade_cost * 1.5^level * difficulty).
func UpgradeCost(def catalogs.StructureDef, level int, difficulty float64) float64 {
	return math.Floor(def.UpgradeCost * math.Pow(UpgradeGrowth, float64(level)) * norm(difficulty))
}

// PerUnit is the production of one owned structure at level.
func PerUnit(def catalogs.StructureDef, level int) float64 {
	return def.BaseProduction * math.Pow(def.Efficiency, float64(level))
}

// StageFactor turns a stage difficulty into a production factor.
func StageFactor(policy string, difficulty float64) float64 {
	d := norm(difficulty)
	if policy == catalogs.PolicyMultiply {
		return d
	}
	return 1 / d
}

// Output is the per-tick production of all owned units of def.
func Output(def catalogs.StructureDef, owned, level int, stageFactor float64) float64 {
	if owned <= 0 || def.Produces == "" {
		return 0
	}
	return PerUnit(def, level) * float64(owned) * stageFactor
}

// ConsumeAmount is what owned units of def need per tick to run.
func ConsumeAmount(def catalogs.StructureDef, owned int) float64 {
	if owned <= 0 || def.Consumes == "" {
		return 0
	}
	return def.ConsumeRate * float64(owned)
}

// CapacityBonus is the extra storage of resource granted by owned units at level.
func CapacityBonus(def catalogs.StructureDef, resource string, owned, level int) float64 {
	b := def.CapacityBonus[resource]
	if owned <= 0 || b <= 0 {
		return 0
	}
	return b * float64(owned) * math.Pow(def.Efficiency, float64(level))
}
