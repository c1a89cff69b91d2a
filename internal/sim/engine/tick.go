package engine

import (
	"stellarcolony.ai/internal/sim/catalogs"
)

// Tick advances the game by one simulated second: production, contracts,
// stage progression, then achievements. Sub-steps never fail; anything whose
// preconditions are unmet simply contributes nothing.
func (e *Engine) Tick() TickReport {
	e.tick++
	e.stats.Ticks++
	rep := TickReport{Tick: e.tick}

	rep.Produced = e.registry.Produce(e.ledger, e.stageFactor())

	if e.contracts != nil {
		out := e.contracts.Tick(e.ledger)
		for _, c := range out.Fulfilled {
			e.stats.ContractsFulfilled++
			e.emit(EventContractFulfilled, map[string]any{"contract_id": c.ID, "client": c.Client, "payment": c.Payment, "reputation": c.Reputation})
		}
		for _, c := range out.Expired {
			e.stats.ContractsExpired++
			e.emit(EventContractExpired, map[string]any{"contract_id": c.ID, "client": c.Client})
		}
		rep.Fulfilled, rep.Expired = out.Fulfilled, out.Expired
		level, diff := e.planets.Level(), e.planets.Difficulty()
		if c, ok := e.contracts.Periodic(e.tick, level, diff); ok {
			rep.Generated = append(rep.Generated, c)
		}
		rep.Generated = append(rep.Generated, e.contracts.Refill(level, diff)...)
	}

	if st, ok := e.planets.Check(e.ledger); ok {
		e.enterStage(st)
		rep.StageEntered = st.Level
		if e.contracts != nil {
			rep.Generated = append(rep.Generated, e.contracts.Refill(e.planets.Level(), e.planets.Difficulty())...)
		}
	}

	rep.Achievements = e.evaluateAchievements()
	rep.Digest = e.Digest()

	if e.journal != nil {
		_ = e.journal.WriteTick(TickLogEntry{Tick: e.tick, Intents: e.intents, Digest: rep.Digest})
	}
	e.intents = nil
	return rep
}

func (e *Engine) enterStage(st catalogs.StageDef) {
	if e.cat.Progression.Effect == catalogs.EffectReset {
		// Structures first so the ledger clamps against base capacity.
		e.registry.Reset()
		e.ledger.Reset(st.StartingResources)
		if e.contracts != nil {
			e.contracts.Clear()
		}
	}
	e.stats.StageTransitions++
	e.emit(EventStageAdvanced, map[string]any{"level": st.Level, "name": st.Name, "difficulty": st.DifficultyMultiplier})
}
