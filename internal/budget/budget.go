// Package budget tracks turn and cost consumption for one run against the
// ceilings configured in the policy.
package budget

import (
	"fmt"
	"sync"
)

// CostWarnRatio is the fraction of the cost ceiling at which a warning is
// raised before the hard stop.
const CostWarnRatio = 0.9

// Tracker accumulates turns and cost. Ceilings of 0 mean unlimited. The
// execution loop is the only writer, but inspection surfaces read the
// counters from other goroutines mid-run.
type Tracker struct {
	maxTurns   int
	maxCostUSD float64

	mu        sync.Mutex
	turnsUsed int
	costUsed  float64
	warned    bool
}

// Check is the verdict after recording a turn.
type Check struct {
	WarnCost  bool   // crossed the warning threshold this turn
	OverTurns bool   // turn ceiling met or exceeded
	OverCost  bool   // cost ceiling met or exceeded
	Warning   string // human-readable warning text when WarnCost
}

// NewTracker creates a tracker with the given ceilings (0 = unlimited).
func NewTracker(maxTurns int, maxCostUSD float64) *Tracker {
	return &Tracker{maxTurns: maxTurns, maxCostUSD: maxCostUSD}
}

// RecordTurn counts one completed turn and updates cumulative cost.
// cumulativeCostUSD is the provider's running total; the recorded cost never
// decreases even if the provider reports a smaller figure.
func (t *Tracker) RecordTurn(cumulativeCostUSD float64) Check {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.turnsUsed++
	if cumulativeCostUSD > t.costUsed {
		t.costUsed = cumulativeCostUSD
	}

	var c Check
	if t.maxCostUSD > 0 {
		if !t.warned && t.costUsed >= t.maxCostUSD*CostWarnRatio && t.costUsed < t.maxCostUSD {
			t.warned = true
			c.WarnCost = true
			c.Warning = fmt.Sprintf("cost $%.2f is at %.0f%% of the $%.2f limit",
				t.costUsed, 100*t.costUsed/t.maxCostUSD, t.maxCostUSD)
		}
		if t.costUsed >= t.maxCostUSD {
			c.OverCost = true
		}
	}
	if t.maxTurns > 0 && t.turnsUsed >= t.maxTurns {
		c.OverTurns = true
	}
	return c
}

// Exhausted reports whether either ceiling has been met, in which case no
// further tool calls may run.
func (t *Tracker) Exhausted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.maxTurns > 0 && t.turnsUsed >= t.maxTurns {
		return true
	}
	if t.maxCostUSD > 0 && t.costUsed >= t.maxCostUSD {
		return true
	}
	return false
}

// TurnsUsed returns the number of completed turns.
func (t *Tracker) TurnsUsed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.turnsUsed
}

// CostUsed returns the cumulative cost in USD.
func (t *Tracker) CostUsed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.costUsed
}

// MaxTurns returns the turn ceiling (0 = unlimited).
func (t *Tracker) MaxTurns() int { return t.maxTurns }

// MaxCostUSD returns the cost ceiling (0 = unlimited).
func (t *Tracker) MaxCostUSD() float64 { return t.maxCostUSD }
