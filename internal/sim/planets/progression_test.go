package planets

import (
	"testing"

	"stellarcolony.ai/internal/sim/catalogs"
	"stellarcolony.ai/internal/sim/ledger"
)

func testDef(delay int) catalogs.ProgressionDef {
	return catalogs.ProgressionDef{
		Effect:               catalogs.EffectReset,
		ThresholdResource:    "money",
		TransitionDelayTicks: delay,
		Stages: []catalogs.StageDef{
			{Level: 1, Name: "Terra Nova", ProgressThreshold: 1000, DifficultyMultiplier: 1},
			{Level: 2, Name: "Red Dust", ProgressThreshold: 5000, DifficultyMultiplier: 1.5},
			{Level: 3, Name: "Void Garden", DifficultyMultiplier: 2},
		},
	}
}

func moneyLedger(v float64) *ledger.Ledger {
	return ledger.New([]catalogs.ResourceDef{{Name: "money", Initial: v}})
}

func TestAdvancesOneStageAtATime(t *testing.T) {
	p := New(testDef(0))
	l := moneyLedger(999)
	if _, ok := p.Check(l); ok {
		t.Fatalf("advanced below threshold")
	}
	_, _ = l.Credit("money", 1_000_000)
	st, ok := p.Check(l)
	if !ok || st.Level != 2 || p.Level() != 2 {
		t.Fatalf("expected stage 2, got %+v ok=%v", st, ok)
	}
	if p.Difficulty() != 1.5 {
		t.Fatalf("difficulty=%v", p.Difficulty())
	}
	st, ok = p.Check(l)
	if !ok || st.Level != 3 || !p.Terminal() {
		t.Fatalf("expected terminal stage 3, got %+v", st)
	}
	if _, ok := p.Check(l); ok || p.Level() != 3 {
		t.Fatalf("moved past terminal stage")
	}
	if p.Progress(l) != 1 {
		t.Fatalf("terminal progress=%v", p.Progress(l))
	}
}

func TestDelayedTransitionCommits(t *testing.T) {
	p := New(testDef(3))
	l := moneyLedger(1000)
	if _, ok := p.Check(l); ok {
		t.Fatalf("applied without delay")
	}
	if left, ok := p.Pending(); !ok || left != 3 {
		t.Fatalf("pending=%d ok=%v", left, ok)
	}
	// Spending the money does not cancel a committed transition.
	_ = l.Debit("money", 1000)
	for i := 0; i < 2; i++ {
		if _, ok := p.Check(l); ok {
			t.Fatalf("applied early on check %d", i)
		}
	}
	st, ok := p.Check(l)
	if !ok || st.Level != 2 {
		t.Fatalf("expected stage 2 after delay, got %+v ok=%v", st, ok)
	}
	if _, ok := p.Pending(); ok {
		t.Fatalf("pending after apply")
	}
}

func TestResetReturnsToFirstStage(t *testing.T) {
	p := New(testDef(2))
	l := moneyLedger(10_000)
	p.Check(l)
	p.Check(l)
	p.Check(l)
	p.Check(l)
	if p.Level() != 2 {
		t.Fatalf("level=%d", p.Level())
	}
	p.Reset()
	if p.Level() != 1 {
		t.Fatalf("after reset level=%d", p.Level())
	}
	if _, ok := p.Pending(); ok {
		t.Fatalf("pending survived reset")
	}
	if got := p.Progress(moneyLedger(250)); got != 0.25 {
		t.Fatalf("progress=%v", got)
	}
}
