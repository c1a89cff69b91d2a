package main

import (
	"testing"

	"stellarcolony.ai/internal/sim/catalogs"
	"stellarcolony.ai/internal/sim/contracts"
	"stellarcolony.ai/internal/sim/engine"
)

func freshState(t *testing.T, variant string) (*engine.Engine, engine.Snapshot) {
	t.Helper()
	cat, err := catalogs.Builtin(variant)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	e, err := engine.New(engine.Config{
		Catalog:   cat,
		Seed:      3,
		Contracts: contracts.Limits{MinAvailable: 3, MaxActive: 3, PeriodicEveryTicks: 30, PeriodicCap: 5},
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return e, e.State()
}

func TestNextIntents_BuysCheapestAffordable(t *testing.T) {
	_, s := freshState(t, "colony")
	got := nextIntents(s)
	if len(got) != 1 || got[0].Kind != "PURCHASE" || got[0].Structure != "solarPanel" {
		t.Fatalf("got %+v", got)
	}
}

func TestNextIntents_ClicksWhenBroke(t *testing.T) {
	_, s := freshState(t, "colony")
	for k := range s.Resources {
		s.Resources[k] = 0
	}
	got := nextIntents(s)
	if len(got) != 1 || got[0].Kind != "GENERATE" || got[0].Resource != "metal" {
		t.Fatalf("got %+v", got)
	}
}

func TestNextIntents_PrestigeFirst(t *testing.T) {
	_, s := freshState(t, "colony")
	s.Prestige.Eligible = true
	s.Prestige.PendingBonus = 1
	got := nextIntents(s)
	if len(got) != 1 || got[0].Kind != "PRESTIGE" {
		t.Fatalf("got %+v", got)
	}
	s.Prestige.Bonus = 3
	s.Prestige.PendingBonus = 4
	if got := nextIntents(s); len(got) > 0 && got[0].Kind == "PRESTIGE" {
		t.Fatalf("prestiged for a small gain")
	}
}

func TestNextIntents_IntentsAreAccepted(t *testing.T) {
	e, _ := freshState(t, "farm")
	accepted := 0
	for i := 0; i < 200; i++ {
		for _, in := range nextIntents(e.State()) {
			if _, err := e.Apply(in.Intent()); err == nil {
				accepted++
			}
		}
		e.Tick()
	}
	if accepted < 50 {
		t.Fatalf("accepted=%d", accepted)
	}
	if e.Stats().StructuresBought == 0 {
		t.Fatalf("bot never bought anything")
	}
}
