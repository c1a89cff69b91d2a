// Package engine is the authoritative game: it owns the ledger, structures,
// contracts, stage progression and prestige of one player and applies intents
// and ticks to them in a fixed order.
package engine

import (
	"fmt"
	"math/rand"

	"stellarcolony.ai/internal/sim/achievements"
	"stellarcolony.ai/internal/sim/catalogs"
	"stellarcolony.ai/internal/sim/contracts"
	"stellarcolony.ai/internal/sim/formula"
	"stellarcolony.ai/internal/sim/ledger"
	"stellarcolony.ai/internal/sim/planets"
	"stellarcolony.ai/internal/sim/prestige"
	"stellarcolony.ai/internal/sim/simerr"
	"stellarcolony.ai/internal/sim/structures"
)

type Config struct {
	Catalog   *catalogs.Catalog
	Contracts contracts.Limits
	Seed      int64
}

// Engine is not goroutine-safe. Session serializes access to it.
type Engine struct {
	cfg Config
	cat *catalogs.Catalog

	tick uint64

	ledger    *ledger.Ledger
	registry  *structures.Registry
	contracts *contracts.Manager // nil when the variant has no contracts
	planets   *planets.Progression
	prestige  *prestige.Controller
	ach       *achievements.Tracker

	clickPower map[string]float64
	stats      Stats

	events  []Event
	intents []Intent // accepted since the last tick
	journal Journal
}

func New(cfg Config) (*Engine, error) {
	cat := cfg.Catalog
	if cat == nil {
		return nil, fmt.Errorf("engine: nil catalog")
	}
	if err := cat.Validate(); err != nil {
		return nil, fmt.Errorf("engine: catalog %s: %w", cat.Name, err)
	}
	e := &Engine{
		cfg:      cfg,
		cat:      cat,
		ledger:   ledger.New(cat.Resources),
		registry: structures.New(cat.Structures),
		planets:  planets.New(cat.Progression),
		prestige: prestige.New(cat.Prestige, cat.ClickPower),
		ach:      achievements.New(cat.Achievements),
	}
	e.ledger.SetBonusSource(e.registry.CapacityBonus)
	e.clickPower = e.prestige.ClickPower()
	if cat.Contracts != nil {
		e.contracts = contracts.New(cat.Contracts, cfg.Contracts, rand.New(rand.NewSource(cfg.Seed)))
		e.contracts.Refill(e.planets.Level(), e.planets.Difficulty())
	}
	return e, nil
}

func (e *Engine) Variant() string            { return e.cat.Name }
func (e *Engine) Catalog() *catalogs.Catalog { return e.cat }
func (e *Engine) CurrentTick() uint64        { return e.tick }
func (e *Engine) Stats() Stats               { return e.stats }
func (e *Engine) Seed() int64                { return e.cfg.Seed }

// SetJournal installs j and writes the tick-0 entry for the current state.
func (e *Engine) SetJournal(j Journal, sessionID string) error {
	e.journal = j
	if j == nil {
		return nil
	}
	lim := e.cfg.Contracts
	return j.WriteTick(TickLogEntry{
		Tick: e.tick,
		Meta: &JournalMeta{
			SessionID:     sessionID,
			Variant:       e.cat.Name,
			CatalogDigest: e.cat.Digest,
			Seed:          e.cfg.Seed,
			MinAvailable:  lim.MinAvailable,
			MaxActive:     lim.MaxActive,
			PeriodicEvery: lim.PeriodicEveryTicks,
			PeriodicCap:   lim.PeriodicCap,
		},
		Digest: e.Digest(),
	})
}

// DrainEvents returns and forgets the events emitted since the last call.
func (e *Engine) DrainEvents() []Event {
	out := e.events
	e.events = nil
	return out
}

func (e *Engine) emit(typ string, details map[string]any) {
	e.events = append(e.events, Event{Tick: e.tick, Type: typ, Details: details})
}

func (e *Engine) stageFactor() float64 {
	return formula.StageFactor(e.cat.ProductionPolicy, e.planets.Difficulty())
}

func (e *Engine) ManualGenerate(resource string) error {
	_, err := e.Apply(Intent{Kind: IntentGenerate, Resource: resource})
	return err
}

func (e *Engine) Purchase(key string) error {
	_, err := e.Apply(Intent{Kind: IntentPurchase, Structure: key})
	return err
}

func (e *Engine) Upgrade(key string) error {
	_, err := e.Apply(Intent{Kind: IntentUpgrade, Structure: key})
	return err
}

func (e *Engine) AcceptContract(id string) error {
	_, err := e.Apply(Intent{Kind: IntentAcceptContract, ContractID: id})
	return err
}

// Prestige resets the game in exchange for click power and returns the bonus gained.
func (e *Engine) Prestige() (int, error) {
	res, err := e.Apply(Intent{Kind: IntentPrestige})
	return res.Bonus, err
}

// Apply validates and applies one intent. A rejected intent changes nothing.
func (e *Engine) Apply(in Intent) (Result, error) {
	var (
		res Result
		err error
	)
	switch in.Kind {
	case IntentGenerate:
		res, err = e.generate(in.Resource)
	case IntentPurchase:
		res, err = e.purchase(in.Structure)
	case IntentUpgrade:
		res, err = e.upgrade(in.Structure)
	case IntentAcceptContract:
		res, err = e.acceptContract(in.ContractID)
	case IntentPrestige:
		res, err = e.doPrestige()
	default:
		err = fmt.Errorf("%w: %q", simerr.ErrUnknownIntentKind, in.Kind)
	}
	if err != nil {
		return Result{}, err
	}
	res.Kind = in.Kind
	e.intents = append(e.intents, in)
	e.evaluateAchievements()
	return res, nil
}

func (e *Engine) generate(resource string) (Result, error) {
	if !e.ledger.Has(resource) {
		return Result{}, fmt.Errorf("%w: %q", simerr.ErrUnknownResource, resource)
	}
	power := e.clickPower[resource]
	if power <= 0 {
		return Result{}, fmt.Errorf("%w: %s cannot be generated by hand", simerr.ErrPrecondition, resource)
	}
	got, err := e.ledger.Credit(resource, power*e.stageFactor())
	if err != nil {
		return Result{}, err
	}
	e.stats.ManualClicks++
	return Result{Amount: got}, nil
}

func (e *Engine) purchase(key string) (Result, error) {
	cost, err := e.registry.Purchase(key, e.ledger, e.planets.Difficulty())
	if err != nil {
		return Result{}, err
	}
	e.stats.StructuresBought++
	owned, _, _ := e.registry.Counts(key)
	e.emit(EventStructurePurchased, map[string]any{"structure": key, "cost": cost, "owned": owned})
	return Result{Amount: cost}, nil
}

func (e *Engine) upgrade(key string) (Result, error) {
	cost, err := e.registry.Upgrade(key, e.ledger, e.cat.UpgradeCurrency, e.planets.Difficulty())
	if err != nil {
		return Result{}, err
	}
	e.stats.Upgrades++
	_, level, _ := e.registry.Counts(key)
	e.emit(EventStructureUpgraded, map[string]any{"structure": key, "cost": cost, "level": level})
	return Result{Amount: cost}, nil
}

func (e *Engine) acceptContract(id string) (Result, error) {
	if e.contracts == nil {
		return Result{}, fmt.Errorf("%w: contracts", simerr.ErrDisabled)
	}
	c, err := e.contracts.Accept(id)
	if err != nil {
		return Result{}, err
	}
	e.stats.ContractsAccepted++
	e.emit(EventContractAccepted, map[string]any{"contract_id": c.ID, "demand": c.Demand, "amount": c.Amount})
	return Result{Contract: &c}, nil
}

func (e *Engine) doPrestige() (Result, error) {
	bonus, err := e.prestige.Commit(e.ledger)
	if err != nil {
		return Result{}, err
	}
	e.registry.Reset()
	e.ledger.Reset(e.cat.Initial())
	e.planets.Reset()
	if e.contracts != nil {
		e.contracts.Clear()
		e.contracts.Refill(e.planets.Level(), e.planets.Difficulty())
	}
	e.clickPower = e.prestige.ClickPower()
	e.stats.Prestiges++
	e.emit(EventPrestige, map[string]any{"level": e.prestige.Level(), "bonus": bonus, "total_bonus": e.prestige.Bonus()})
	return Result{Bonus: bonus}, nil
}

func (e *Engine) facts() achievements.Facts {
	return achievements.Facts{
		Resources:          e.ledger.Snapshot(),
		ManualClicks:       e.stats.ManualClicks,
		StructuresOwned:    e.registry.TotalOwned(),
		StructureUpgrades:  e.stats.Upgrades,
		ProductionRate:     e.registry.ProductionRate(e.stageFactor()),
		ContractsFulfilled: e.stats.ContractsFulfilled,
		Stage:              e.planets.Level(),
	}
}

func (e *Engine) evaluateAchievements() []string {
	var ids []string
	for _, d := range e.ach.Evaluate(e.facts(), e.tick) {
		ids = append(ids, d.ID)
		e.emit(EventAchievement, map[string]any{"id": d.ID, "name": d.Name})
	}
	return ids
}

// State builds a fresh snapshot. Nothing in it aliases engine state.
func (e *Engine) State() Snapshot {
	diff := e.planets.Difficulty()
	factor := e.stageFactor()
	stage := e.planets.Current()
	s := Snapshot{
		Variant:         e.cat.Name,
		Tick:            e.tick,
		UpgradeCurrency: e.cat.UpgradeCurrency,
		Resources:       e.ledger.Snapshot(),
		Capacities:      e.ledger.Capacities(),
		ClickPower:      copyMap(e.clickPower),
		Structures:      e.registry.Views(diff, factor),
		ProductionRate:  e.registry.ProductionRate(factor),
		Stage: StageView{
			Level:             e.planets.Level(),
			Name:              stage.Name,
			Difficulty:        diff,
			ThresholdResource: e.cat.Progression.ThresholdResource,
			Progress:          e.planets.Progress(e.ledger),
			Terminal:          e.planets.Terminal(),
			UnlockBonus:       stage.UnlockBonus,
			Challenges:        append([]string(nil), stage.Challenges...),
			Stages:            len(e.cat.Progression.Stages),
		},
		Prestige: PrestigeView{
			Enabled:      e.prestige.Enabled(),
			Level:        e.prestige.Level(),
			Bonus:        e.prestige.Bonus(),
			Eligible:     e.prestige.Eligible(e.ledger),
			PendingBonus: e.prestige.PendingBonus(e.ledger),
			NextAt:       e.prestige.NextAt(e.ledger),
		},
		Achievements: e.ach.Progress(e.facts()),
		Stats:        e.stats,
		Digest:       e.Digest(),
	}
	if !e.planets.Terminal() {
		s.Stage.Threshold = stage.ProgressThreshold
	}
	if left, ok := e.planets.Pending(); ok {
		s.Stage.PendingTicks = left
	}
	if e.contracts != nil {
		s.Contracts = &ContractsView{
			Available: e.contracts.Available(),
			Active:    e.contracts.Active(),
			MaxActive: e.cfg.Contracts.MaxActive,
		}
	}
	return s
}

func copyMap(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
