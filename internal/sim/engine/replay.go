package engine

import (
	"errors"
	"fmt"

	"stellarcolony.ai/internal/sim/catalogs"
	"stellarcolony.ai/internal/sim/contracts"
)

var ErrDigestMismatch = errors.New("digest mismatch")

// Replayer rebuilds a game from a journal header and re-runs it entry by
// entry, checking every digest on the way.
type Replayer struct {
	eng     *Engine
	intents int
}

// NewReplayer starts from the tick-0 journal entry. cat must be the catalog
// the session was created with.
func NewReplayer(cat *catalogs.Catalog, head TickLogEntry) (*Replayer, error) {
	if head.Meta == nil || head.Tick != 0 {
		return nil, fmt.Errorf("journal header missing")
	}
	m := head.Meta
	if cat.Name != m.Variant {
		return nil, fmt.Errorf("journal is for variant %q, catalog is %q", m.Variant, cat.Name)
	}
	if cat.Digest != m.CatalogDigest {
		return nil, fmt.Errorf("catalog digest %s does not match journal %s", cat.Digest, m.CatalogDigest)
	}
	eng, err := New(Config{
		Catalog: cat,
		Seed:    m.Seed,
		Contracts: contracts.Limits{
			MinAvailable:       m.MinAvailable,
			MaxActive:          m.MaxActive,
			PeriodicEveryTicks: m.PeriodicEvery,
			PeriodicCap:        m.PeriodicCap,
		},
	})
	if err != nil {
		return nil, err
	}
	if got := eng.Digest(); got != head.Digest {
		return nil, fmt.Errorf("tick 0: %w: got %s want %s", ErrDigestMismatch, got, head.Digest)
	}
	return &Replayer{eng: eng}, nil
}

// Step applies one journal entry: its intents, then the tick.
func (r *Replayer) Step(ent TickLogEntry) error {
	if ent.Tick != r.eng.tick+1 {
		return fmt.Errorf("journal gap: expected tick %d, got %d", r.eng.tick+1, ent.Tick)
	}
	for i, in := range ent.Intents {
		if _, err := r.eng.Apply(in); err != nil {
			return fmt.Errorf("tick %d intent %d (%s): %w", ent.Tick, i, in.Kind, err)
		}
		r.intents++
	}
	if got := r.eng.Tick().Digest; got != ent.Digest {
		return fmt.Errorf("tick %d: %w: got %s want %s", ent.Tick, ErrDigestMismatch, got, ent.Digest)
	}
	return nil
}

func (r *Replayer) Engine() *Engine { return r.eng }
func (r *Replayer) Intents() int    { return r.intents }
