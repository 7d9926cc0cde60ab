package engine

import "math"

// Budget is the balance one candidate may size against. eligible is the
// number of instruments that passed the eligibility filter this cycle,
// whether or not their signal cleared the strength floor.
func Budget(mode Allocation, balance, score float64, eligible int) float64 {
	if balance <= 0 || eligible <= 0 {
		return 0
	}
	share := balance / float64(eligible)
	if mode == AllocationStrengthWeighted {
		return share * math.Max(0, math.Min(score, 100)) / 100
	}
	return share
}
