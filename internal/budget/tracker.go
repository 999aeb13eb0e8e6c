package budget

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/armatrix/toolhost/llm"
)

// MaxDecimal is a sentinel for an effectively unlimited remaining budget.
var MaxDecimal = decimal.New(1, 18) // 1e18

// Tracker accumulates token usage and cost across completion calls.
// Safe for concurrent use.
type Tracker struct {
	mu         sync.Mutex
	maxBudget  decimal.Decimal // 0 = unlimited
	totalCost  decimal.Decimal
	totalUsage llm.Usage
	pricing    map[string]ModelPricing
}

// NewTracker creates a tracker. A zero maxBudget means unlimited; a nil
// pricing map uses DefaultPricing.
func NewTracker(maxBudget decimal.Decimal, pricing map[string]ModelPricing) *Tracker {
	if pricing == nil {
		pricing = DefaultPricing
	}
	return &Tracker{
		maxBudget: maxBudget,
		totalCost: decimal.Zero,
		pricing:   pricing,
	}
}

// Record adds one completion's usage and updates the cumulative cost.
// Unknown models have their tokens counted but add no cost.
func (t *Tracker) Record(model string, usage llm.Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalUsage.Add(usage)

	pricing, ok := t.pricing[model]
	if !ok {
		return
	}
	t.totalCost = t.totalCost.Add(pricing.Cost(usage.InputTokens, usage.OutputTokens))
}

// TotalCost returns the cumulative cost across all recorded calls.
func (t *Tracker) TotalCost() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalCost
}

// TotalUsage returns the cumulative token usage.
func (t *Tracker) TotalUsage() llm.Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalUsage
}

// Remaining returns the budget left, or MaxDecimal when unlimited.
func (t *Tracker) Remaining() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.maxBudget.IsZero() {
		return MaxDecimal
	}
	return t.maxBudget.Sub(t.totalCost)
}

// Exhausted reports whether the cost ceiling has been reached. Always
// false when unlimited.
func (t *Tracker) Exhausted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.maxBudget.IsZero() {
		return false
	}
	return t.totalCost.GreaterThanOrEqual(t.maxBudget)
}
