package contracts

import "stellarcolony.ai/internal/sim/catalogs"

type Decision string

const (
	DecisionKeep    Decision = "KEEP"
	DecisionExpire  Decision = "EXPIRE"
	DecisionFulfill Decision = "FULFILL"
)

type TickInput struct {
	Order         string
	TimeRemaining int
	Affordable    bool
}

// DecideTick settles one active contract for one tick and returns the new
// remaining time. Under countdown_first the clock runs before delivery, so a
// contract reaching zero this tick expires even if it could be paid.
func DecideTick(in TickInput) (Decision, int) {
	rem := in.TimeRemaining
	if in.Order == catalogs.OrderFulfillFirst {
		if in.Affordable {
			return DecisionFulfill, rem
		}
		rem = countdown(rem)
		if rem == 0 {
			return DecisionExpire, 0
		}
		return DecisionKeep, rem
	}
	rem = countdown(rem)
	if rem == 0 {
		return DecisionExpire, 0
	}
	if in.Affordable {
		return DecisionFulfill, rem
	}
	return DecisionKeep, rem
}

func countdown(rem int) int {
	if rem <= 1 {
		return 0
	}
	return rem - 1
}
