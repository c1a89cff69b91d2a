package engine

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"stellarcolony.ai/internal/sim/catalogs"
	"stellarcolony.ai/internal/sim/contracts"
	"stellarcolony.ai/internal/sim/simerr"
)

var testLimits = contracts.Limits{MinAvailable: 3, MaxActive: 3, PeriodicEveryTicks: 30, PeriodicCap: 5}

const traderYAML = `
name: trader
production_policy: divide
upgrade_currency: research
resources:
  - { name: money, initial: 0 }
  - { name: crops, initial: 100, capacity: 500 }
  - { name: seeds, initial: 10, capacity: 500 }
  - { name: research, initial: 0 }
  - { name: reputation, initial: 0 }
click_power:
  money: 1
  crops: 1
structures:
  - { key: greenhouse, base_cost: 5, cost_multiplier: 1.15, cost_resource: money, base_production: 2, produces: crops, consumes: seeds, consume_rate: 1, efficiency: 1.2, upgrade_cost: 20 }
  - { key: stall, base_cost: 10, cost_multiplier: 1.2, cost_resource: money, base_production: 1, produces: money, efficiency: 1.1, upgrade_cost: 20 }
contracts:
  difficulty_by_stage: [easy]
  ranges:
    easy: { amount: [100, 100], payment: [300, 300], time_limit: [60, 60] }
  templates:
    - { client: Orbital Bakery, demands: [crops] }
progression:
  effect: reset
  threshold_resource: money
  stages:
    - { level: 1, name: Terra Nova, progress_threshold: 1000, difficulty_multiplier: 1, starting_resources: { money: 0, crops: 100, seeds: 10 } }
    - { level: 2, name: Red Dust, difficulty_multiplier: 2, starting_resources: { money: 50, seeds: 20 } }
`

func newColony(t *testing.T) *Engine {
	t.Helper()
	cat, err := catalogs.Builtin("colony")
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	e, err := New(Config{Catalog: cat, Contracts: testLimits, Seed: 1})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return e
}

func newTrader(t *testing.T, seed int64) *Engine {
	t.Helper()
	cat, err := catalogs.Parse("trader.yaml", []byte(traderYAML))
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	e, err := New(Config{Catalog: cat, Contracts: testLimits, Seed: seed})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return e
}

func structureOwned(s Snapshot, key string) int {
	for _, v := range s.Structures {
		if v.Key == key {
			return v.Owned
		}
	}
	return -1
}

func TestBuySolarPanel(t *testing.T) {
	e := newColony(t)
	if err := e.Purchase("solarPanel"); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	s := e.State()
	if s.Resources["metal"] != 15 {
		t.Fatalf("metal=%v want 15", s.Resources["metal"])
	}
	if structureOwned(s, "solarPanel") != 1 {
		t.Fatalf("solarPanel owned=%d", structureOwned(s, "solarPanel"))
	}
	if s.Stats.StructuresBought != 1 {
		t.Fatalf("stats=%+v", s.Stats)
	}
}

func TestRejectedIntentsLeaveStateUnchanged(t *testing.T) {
	e := newColony(t)
	before := e.State()

	cases := []struct {
		in   Intent
		want error
	}{
		{Intent{Kind: IntentUpgrade, Structure: "solarPanel"}, simerr.ErrPrecondition},
		{Intent{Kind: IntentPurchase, Structure: "warpGate"}, simerr.ErrUnknownStructure},
		{Intent{Kind: IntentPurchase, Structure: "researchLab"}, simerr.ErrInsufficient},
		{Intent{Kind: IntentAcceptContract, ContractID: "C000001"}, simerr.ErrDisabled},
		{Intent{Kind: IntentPrestige}, simerr.ErrPrecondition},
		{Intent{Kind: IntentGenerate, Resource: "gold"}, simerr.ErrUnknownResource},
		{Intent{Kind: "DANCE"}, simerr.ErrUnknownIntentKind},
	}
	for _, c := range cases {
		_, err := e.Apply(c.in)
		if !errors.Is(err, c.want) {
			t.Fatalf("%+v: want %v, got %v", c.in, c.want, err)
		}
	}
	after := e.State()
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("state changed by rejected intents:\nbefore %+v\nafter  %+v", before, after)
	}
	if len(e.DrainEvents()) != 0 {
		t.Fatalf("rejections emitted events")
	}
}

func TestHundredCropsContractFulfilledNextTick(t *testing.T) {
	e := newTrader(t, 42)
	s := e.State()
	if s.Contracts == nil || len(s.Contracts.Available) != 3 {
		t.Fatalf("expected 3 available contracts, got %+v", s.Contracts)
	}
	id := s.Contracts.Available[0].ID
	if err := e.AcceptContract(id); err != nil {
		t.Fatalf("accept: %v", err)
	}

	rep := e.Tick()
	if len(rep.Fulfilled) != 1 || rep.Fulfilled[0].ID != id {
		t.Fatalf("expected %s fulfilled, got %+v", id, rep.Fulfilled)
	}
	s = e.State()
	if s.Resources["crops"] != 0 || s.Resources["money"] != 300 || s.Resources["reputation"] != 10 {
		t.Fatalf("ledger after fulfilment: %v", s.Resources)
	}
	for _, c := range append(s.Contracts.Available, s.Contracts.Active...) {
		if c.ID == id {
			t.Fatalf("fulfilled contract %s still listed", id)
		}
	}
	if len(s.Contracts.Available) != 3 || len(s.Contracts.Active) != 0 {
		t.Fatalf("lists after tick: %+v", s.Contracts)
	}
	if s.Stats.ContractsFulfilled != 1 {
		t.Fatalf("stats=%+v", s.Stats)
	}
}

func TestAcceptLimit(t *testing.T) {
	e := newTrader(t, 3)
	for _, c := range e.State().Contracts.Available {
		if err := e.AcceptContract(c.ID); err != nil {
			t.Fatal(err)
		}
	}
	// Draining crops keeps the three contracts active.
	e.ledger.Reset(map[string]float64{})
	e.Tick()
	s := e.State()
	if len(s.Contracts.Active) != 3 || len(s.Contracts.Available) != 3 {
		t.Fatalf("contracts=%+v", s.Contracts)
	}
	err := e.AcceptContract(s.Contracts.Available[0].ID)
	if !errors.Is(err, simerr.ErrLimit) {
		t.Fatalf("want limit, got %v", err)
	}
}

func TestPrestigeAtThousandPopulation(t *testing.T) {
	e := newColony(t)
	for i := 0; i < 990; i++ {
		if err := e.ManualGenerate("population"); err != nil {
			t.Fatalf("click %d: %v", i, err)
		}
	}
	e.Tick()
	e.Tick()
	if lvl := e.State().Stage.Level; lvl != 3 {
		t.Fatalf("stage before prestige=%d", lvl)
	}

	bonus, err := e.Prestige()
	if err != nil || bonus != 1 {
		t.Fatalf("prestige bonus=%d err=%v", bonus, err)
	}
	s := e.State()
	if s.Prestige.Level != 1 || s.Prestige.Bonus != 1 {
		t.Fatalf("prestige view=%+v", s.Prestige)
	}
	want := map[string]float64{"energy": 50, "metal": 25, "crystals": 5, "population": 10}
	if !reflect.DeepEqual(s.Resources, want) {
		t.Fatalf("resources=%v", s.Resources)
	}
	if s.ClickPower["energy"] != 2 || s.ClickPower["metal"] != 2 || s.ClickPower["crystals"] != 1 || s.ClickPower["population"] != 1 {
		t.Fatalf("click power=%v", s.ClickPower)
	}
	if s.Stage.Level != 1 {
		t.Fatalf("stage after prestige=%d", s.Stage.Level)
	}
	unlocked := map[string]bool{}
	for _, a := range s.Achievements {
		unlocked[a.ID] = a.Unlocked
	}
	if !unlocked["first_click"] || !unlocked["thousand_population"] {
		t.Fatalf("achievements lost across prestige: %+v", unlocked)
	}
	if s.Stats.ManualClicks != 990 || s.Stats.Prestiges != 1 {
		t.Fatalf("stats=%+v", s.Stats)
	}
}

func TestPrestigeBonusAccumulates(t *testing.T) {
	e := newColony(t)
	_, _ = e.ledger.Credit("population", 2490)
	if b, err := e.Prestige(); err != nil || b != 2 {
		t.Fatalf("first prestige b=%d err=%v", b, err)
	}
	if _, err := e.Prestige(); !errors.Is(err, simerr.ErrPrecondition) {
		t.Fatalf("ineligible prestige: %v", err)
	}
	_, _ = e.ledger.Credit("population", 990)
	if b, err := e.Prestige(); err != nil || b != 1 {
		t.Fatalf("second prestige b=%d err=%v", b, err)
	}
	s := e.State()
	if s.Prestige.Level != 2 || s.Prestige.Bonus != 3 {
		t.Fatalf("prestige=%+v", s.Prestige)
	}
	if s.ClickPower["energy"] != 4 || s.ClickPower["crystals"] != 2 || s.ClickPower["population"] != 2 {
		t.Fatalf("click power=%v", s.ClickPower)
	}
	if err := e.ManualGenerate("energy"); err != nil {
		t.Fatal(err)
	}
	if got := e.State().Resources["energy"]; got != 54 {
		t.Fatalf("energy after boosted click=%v", got)
	}
}

func TestStageResetEffect(t *testing.T) {
	e := newTrader(t, 9)
	if err := e.Purchase("stall"); err == nil {
		t.Fatalf("purchase without money should fail")
	}
	_, _ = e.ledger.Credit("money", 20)
	if err := e.Purchase("stall"); err != nil {
		t.Fatal(err)
	}
	oldIDs := map[string]bool{}
	for _, c := range e.State().Contracts.Available {
		oldIDs[c.ID] = true
	}
	_, _ = e.ledger.Credit("money", 5000)
	rep := e.Tick()
	if rep.StageEntered != 2 {
		t.Fatalf("expected stage 2, report=%+v", rep)
	}
	s := e.State()
	want := map[string]float64{"money": 50, "crops": 0, "seeds": 20, "research": 0, "reputation": 0}
	if !reflect.DeepEqual(s.Resources, want) {
		t.Fatalf("resources=%v", s.Resources)
	}
	if structureOwned(s, "stall") != 0 {
		t.Fatalf("structures survived stage reset")
	}
	if len(s.Contracts.Available) != 3 {
		t.Fatalf("contracts not refilled: %+v", s.Contracts)
	}
	for _, c := range s.Contracts.Available {
		if oldIDs[c.ID] {
			t.Fatalf("contract %s survived stage reset", c.ID)
		}
		if c.Amount != 200 || c.Payment != 600 {
			t.Fatalf("stage 2 contract not scaled: %+v", c)
		}
	}
	// Costs scale up and production scales down at difficulty 2.
	for _, v := range s.Structures {
		if v.Key == "stall" && v.Cost != 20 {
			t.Fatalf("stall cost=%v", v.Cost)
		}
	}
	_ = e.Purchase("stall")
	e.Tick()
	if got := e.State().Resources["money"]; math.Abs(got-30.5) > 1e-9 {
		t.Fatalf("money after halved production=%v", got)
	}
}

func TestTickRespectsBounds(t *testing.T) {
	cat, err := catalogs.Builtin("farm")
	if err != nil {
		t.Fatal(err)
	}
	e, err := New(Config{Catalog: cat, Contracts: testLimits, Seed: 5})
	if err != nil {
		t.Fatal(err)
	}
	_, _ = e.ledger.Credit("money", 100000)
	for _, key := range []string{"greenhouse", "greenhouse", "greenhouse", "seedbank", "market", "laboratory"} {
		if err := e.Purchase(key); err != nil {
			t.Fatalf("purchase %s: %v", key, err)
		}
	}
	for i := 0; i < 600; i++ {
		e.Tick()
		s := e.State()
		for name, v := range s.Resources {
			if v < 0 {
				t.Fatalf("tick %d: %s=%v below zero", i, name, v)
			}
			if c, ok := s.Capacities[name]; ok && v > c {
				t.Fatalf("tick %d: %s=%v above cap %v", i, name, v, c)
			}
		}
	}
}

func TestManualGenerateClampsAtCap(t *testing.T) {
	e := newTrader(t, 1)
	_, _ = e.ledger.Credit("crops", 399.5)
	res, err := e.Apply(Intent{Kind: IntentGenerate, Resource: "crops"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Amount != 0.5 || e.ledger.Amount("crops") != 500 {
		t.Fatalf("gained=%v crops=%v", res.Amount, e.ledger.Amount("crops"))
	}
	if err := e.ManualGenerate("seeds"); !errors.Is(err, simerr.ErrPrecondition) {
		t.Fatalf("resource without click power: %v", err)
	}
}

func TestDigestDeterminism(t *testing.T) {
	cat, err := catalogs.Builtin("farm")
	if err != nil {
		t.Fatal(err)
	}
	run := func(seed int64) []string {
		e, err := New(Config{Catalog: cat, Contracts: testLimits, Seed: seed})
		if err != nil {
			t.Fatal(err)
		}
		var out []string
		for i := 0; i < 50; i++ {
			if i%7 == 0 {
				_ = e.ManualGenerate("money")
				_ = e.Purchase("greenhouse")
			}
			out = append(out, e.Tick().Digest)
		}
		return out
	}
	a, b := run(11), run(11)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same seed diverged")
	}
	if c := run(12); reflect.DeepEqual(a, c) {
		t.Fatalf("different seeds produced identical digests")
	}
}

type memJournal struct{ entries []TickLogEntry }

func (m *memJournal) WriteTick(e TickLogEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

func TestJournalRecordsIntentsPerTick(t *testing.T) {
	e := newColony(t)
	j := &memJournal{}
	if err := e.SetJournal(j, "s1"); err != nil {
		t.Fatal(err)
	}
	_ = e.ManualGenerate("metal")
	_ = e.Purchase("warpGate") // rejected, not journaled
	_ = e.Purchase("solarPanel")
	r1 := e.Tick()
	r2 := e.Tick()

	if len(j.entries) != 3 {
		t.Fatalf("entries=%d", len(j.entries))
	}
	head := j.entries[0]
	if head.Tick != 0 || head.Meta == nil || head.Meta.Variant != "colony" || head.Meta.SessionID != "s1" {
		t.Fatalf("header=%+v", head)
	}
	if len(j.entries[1].Intents) != 2 || j.entries[1].Digest != r1.Digest {
		t.Fatalf("tick 1 entry=%+v", j.entries[1])
	}
	if len(j.entries[2].Intents) != 0 || j.entries[2].Digest != r2.Digest {
		t.Fatalf("tick 2 entry=%+v", j.entries[2])
	}

	// Replaying the journal reproduces every digest.
	rp, err := NewReplayer(e.Catalog(), head)
	if err != nil {
		t.Fatalf("replayer: %v", err)
	}
	for _, ent := range j.entries[1:] {
		if err := rp.Step(ent); err != nil {
			t.Fatalf("replay: %v", err)
		}
	}
	if rp.Intents() != 2 || rp.Engine().CurrentTick() != 2 {
		t.Fatalf("replayed intents=%d tick=%d", rp.Intents(), rp.Engine().CurrentTick())
	}

	// A tampered digest is caught.
	rp, _ = NewReplayer(e.Catalog(), head)
	bad := j.entries[1]
	bad.Digest = "00"
	if err := rp.Step(bad); !errors.Is(err, ErrDigestMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
}

func TestEventsDrained(t *testing.T) {
	e := newColony(t)
	_ = e.Purchase("solarPanel")
	evs := e.DrainEvents()
	types := []string{}
	for _, ev := range evs {
		types = append(types, ev.Type)
	}
	if len(types) != 2 || types[0] != EventStructurePurchased || types[1] != EventAchievement {
		t.Fatalf("events=%v", types)
	}
	if len(e.DrainEvents()) != 0 {
		t.Fatalf("events not drained")
	}
}
