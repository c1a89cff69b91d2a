// Package contracts runs the trading-contract lifecycle:
// available -> active -> fulfilled | expired. Terminal contracts are dropped.
package contracts

import (
	"fmt"
	"math"
	"math/rand"

	"stellarcolony.ai/internal/sim/catalogs"
	"stellarcolony.ai/internal/sim/ledger"
	"stellarcolony.ai/internal/sim/simerr"
)

type Contract struct {
	ID            string `json:"id"`
	Client        string `json:"client"`
	Demand        string `json:"demand"`
	Amount        int    `json:"amount"`
	Payment       int    `json:"payment"`
	Reputation    int    `json:"reputation"`
	Difficulty    string `json:"difficulty"`
	TimeLimit     int    `json:"time_limit"`
	TimeRemaining int    `json:"time_remaining"`
}

type Limits struct {
	MinAvailable       int
	MaxActive          int
	PeriodicEveryTicks int
	PeriodicCap        int
}

// Outcome lists the contracts that left the active list during one tick.
type Outcome struct {
	Fulfilled []Contract
	Expired   []Contract
}

type Manager struct {
	cat *catalogs.ContractCatalog
	lim Limits
	rng *rand.Rand

	nextNum   uint64
	available []*Contract
	active    []*Contract
}

func New(cat *catalogs.ContractCatalog, lim Limits, rng *rand.Rand) *Manager {
	if lim.MaxActive <= 0 {
		lim.MaxActive = 3
	}
	return &Manager{cat: cat, lim: lim, rng: rng}
}

func (m *Manager) newID() string {
	m.nextNum++
	return fmt.Sprintf("C%06d", m.nextNum)
}

func (m *Manager) between(r []int) int {
	lo, hi := r[0], r[1]
	if hi <= lo {
		return lo
	}
	return lo + m.rng.Intn(hi-lo+1)
}

// Generate appends one random contract to the available list. Amount and
// payment scale with the stage difficulty.
func (m *Manager) Generate(stageLevel int, difficulty float64) Contract {
	if difficulty <= 0 {
		difficulty = 1
	}
	tpl := m.cat.Templates[m.rng.Intn(len(m.cat.Templates))]
	demand := tpl.Demands[m.rng.Intn(len(tpl.Demands))]
	diff := m.cat.Difficulty(stageLevel)
	rg := m.cat.Ranges[diff]

	amount := int(math.Floor(float64(m.between(rg.Amount)) * difficulty))
	payment := int(math.Floor(float64(m.between(rg.Payment)) * difficulty))
	limit := m.between(rg.TimeLimit)
	c := &Contract{
		ID:            m.newID(),
		Client:        tpl.Client,
		Demand:        demand,
		Amount:        amount,
		Payment:       payment,
		Reputation:    int(math.Floor(float64(amount) * m.cat.ReputationFactor)),
		Difficulty:    diff,
		TimeLimit:     limit,
		TimeRemaining: limit,
	}
	m.available = append(m.available, c)
	return *c
}

// Refill tops the available list up to the configured minimum.
func (m *Manager) Refill(stageLevel int, difficulty float64) []Contract {
	var out []Contract
	for len(m.available) < m.lim.MinAvailable {
		out = append(out, m.Generate(stageLevel, difficulty))
	}
	return out
}

// Periodic generates one contract on every PeriodicEveryTicks-th tick while the
// available list is below PeriodicCap.
func (m *Manager) Periodic(tick uint64, stageLevel int, difficulty float64) (Contract, bool) {
	every := uint64(m.lim.PeriodicEveryTicks)
	if every == 0 || tick == 0 || tick%every != 0 || len(m.available) >= m.lim.PeriodicCap {
		return Contract{}, false
	}
	return m.Generate(stageLevel, difficulty), true
}

// Accept moves an available contract to the active list.
func (m *Manager) Accept(id string) (Contract, error) {
	idx := -1
	for i, c := range m.available {
		if c.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Contract{}, fmt.Errorf("%w: %q", simerr.ErrUnknownContract, id)
	}
	if len(m.active) >= m.lim.MaxActive {
		return Contract{}, fmt.Errorf("%w: %d active contracts", simerr.ErrLimit, len(m.active))
	}
	c := m.available[idx]
	m.available = append(m.available[:idx], m.available[idx+1:]...)
	m.active = append(m.active, c)
	return *c, nil
}

// Tick counts down and settles every active contract in acceptance order.
func (m *Manager) Tick(l *ledger.Ledger) Outcome {
	var out Outcome
	kept := m.active[:0]
	for _, c := range m.active {
		decision, rem := DecideTick(TickInput{
			Order:         m.cat.FulfillmentOrder,
			TimeRemaining: c.TimeRemaining,
			Affordable:    l.CanAfford(c.Demand, float64(c.Amount)),
		})
		c.TimeRemaining = rem
		switch decision {
		case DecisionExpire:
			out.Expired = append(out.Expired, *c)
		case DecisionFulfill:
			if l.Debit(c.Demand, float64(c.Amount)) != nil {
				kept = append(kept, c)
				continue
			}
			_, _ = l.Credit(m.cat.PaymentResource, float64(c.Payment))
			_, _ = l.Credit(m.cat.ReputationResource, float64(c.Reputation))
			out.Fulfilled = append(out.Fulfilled, *c)
		default:
			kept = append(kept, c)
		}
	}
	for i := len(kept); i < len(m.active); i++ {
		m.active[i] = nil
	}
	m.active = kept
	return out
}

// Clear drops every available and active contract. Ids keep counting.
func (m *Manager) Clear() {
	m.available = nil
	m.active = nil
}

func (m *Manager) Available() []Contract { return copyList(m.available) }
func (m *Manager) Active() []Contract    { return copyList(m.active) }

func copyList(in []*Contract) []Contract {
	out := make([]Contract, 0, len(in))
	for _, c := range in {
		out = append(out, *c)
	}
	return out
}

// NextNum exposes the id counter for state digests.
func (m *Manager) NextNum() uint64 { return m.nextNum }
