// Package ledger holds the named, non-negative resource amounts of one game.
package ledger

import (
	"fmt"
	"math"
	"sort"

	"stellarcolony.ai/internal/sim/catalogs"
	"stellarcolony.ai/internal/sim/simerr"
)

// BonusFunc reports extra storage capacity for a resource, for example from owned warehouses.
type BonusFunc func(resource string) float64

// Ledger is not goroutine-safe; it is owned by the engine.
type Ledger struct {
	order   []string
	amounts map[string]float64
	base    map[string]float64 // capacity; absent means uncapped
	bonus   BonusFunc
}

func New(defs []catalogs.ResourceDef) *Ledger {
	l := &Ledger{
		order:   make([]string, 0, len(defs)),
		amounts: make(map[string]float64, len(defs)),
		base:    map[string]float64{},
	}
	for _, d := range defs {
		l.order = append(l.order, d.Name)
		l.amounts[d.Name] = d.Initial
		if d.Capacity > 0 {
			l.base[d.Name] = d.Capacity
		}
	}
	return l
}

func (l *Ledger) SetBonusSource(f BonusFunc) { l.bonus = f }

func (l *Ledger) Has(name string) bool {
	_, ok := l.amounts[name]
	return ok
}

// Names returns resource names in catalog order.
func (l *Ledger) Names() []string {
	return append([]string(nil), l.order...)
}

func (l *Ledger) Get(name string) (float64, error) {
	v, ok := l.amounts[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", simerr.ErrUnknownResource, name)
	}
	return v, nil
}

// Amount is Get without the error; unknown resources read as zero.
func (l *Ledger) Amount(name string) float64 { return l.amounts[name] }

// Capacity returns the effective cap for name, or ok=false when uncapped.
func (l *Ledger) Capacity(name string) (limit float64, ok bool) {
	b, ok := l.base[name]
	if !ok {
		return 0, false
	}
	if l.bonus != nil {
		b += l.bonus(name)
	}
	return b, true
}

func (l *Ledger) clamp(name string, v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if c, ok := l.Capacity(name); ok && v > c {
		return c
	}
	return v
}

// Credit adds amt (clamped to capacity) and returns the amount actually applied.
func (l *Ledger) Credit(name string, amt float64) (float64, error) {
	cur, err := l.Get(name)
	if err != nil {
		return 0, err
	}
	if amt < 0 || math.IsNaN(amt) {
		return 0, fmt.Errorf("%w: credit %v to %s", simerr.ErrPrecondition, amt, name)
	}
	next := l.clamp(name, cur+amt)
	if next < cur {
		// Already above a cap that shrank; never take away on credit.
		next = cur
	}
	l.amounts[name] = next
	return next - cur, nil
}

func (l *Ledger) CanAfford(name string, amt float64) bool {
	cur, ok := l.amounts[name]
	return ok && amt >= 0 && cur >= amt
}

// Debit removes amt or fails without change.
func (l *Ledger) Debit(name string, amt float64) error {
	cur, err := l.Get(name)
	if err != nil {
		return err
	}
	if amt < 0 || math.IsNaN(amt) {
		return fmt.Errorf("%w: debit %v from %s", simerr.ErrPrecondition, amt, name)
	}
	if cur < amt {
		return fmt.Errorf("%w: %s have %v need %v", simerr.ErrInsufficient, name, cur, amt)
	}
	l.amounts[name] = cur - amt
	return nil
}

// Reset sets every resource to values[name] (zero when absent), clamped.
func (l *Ledger) Reset(values map[string]float64) {
	for _, n := range l.order {
		l.amounts[n] = l.clamp(n, values[n])
	}
}

// Snapshot copies the current amounts.
func (l *Ledger) Snapshot() map[string]float64 {
	out := make(map[string]float64, len(l.amounts))
	for k, v := range l.amounts {
		out[k] = v
	}
	return out
}

// Capacities copies the effective caps of capped resources.
func (l *Ledger) Capacities() map[string]float64 {
	out := make(map[string]float64, len(l.base))
	names := make([]string, 0, len(l.base))
	for n := range l.base {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		out[n], _ = l.Capacity(n)
	}
	return out
}
