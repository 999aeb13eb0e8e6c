package budget

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/armatrix/toolhost/llm"
)

func TestRecordAccumulates(t *testing.T) {
	tr := NewTracker(decimal.Zero, nil)

	tr.Record("claude-sonnet-4-5", llm.Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000})
	tr.Record("claude-sonnet-4-5", llm.Usage{InputTokens: 500_000})

	usage := tr.TotalUsage()
	assert.Equal(t, int64(1_500_000), usage.InputTokens)
	assert.Equal(t, int64(1_000_000), usage.OutputTokens)

	// 1M in at $3 + 1M out at $15 + 0.5M in at $3 = $19.50
	assert.True(t, tr.TotalCost().Equal(decimal.NewFromFloat(19.5)),
		"got %s", tr.TotalCost())
}

func TestRecordUnknownModel(t *testing.T) {
	tr := NewTracker(decimal.Zero, nil)
	tr.Record("mystery-model", llm.Usage{InputTokens: 1000, OutputTokens: 1000})

	assert.Equal(t, int64(1000), tr.TotalUsage().InputTokens)
	assert.True(t, tr.TotalCost().IsZero())
}

func TestRemainingUnlimited(t *testing.T) {
	tr := NewTracker(decimal.Zero, nil)
	tr.Record("gpt-4o", llm.Usage{InputTokens: 1_000_000})

	assert.True(t, tr.Remaining().Equal(MaxDecimal))
	assert.False(t, tr.Exhausted())
}

func TestExhausted(t *testing.T) {
	tr := NewTracker(decimal.NewFromFloat(0.01), nil)
	assert.False(t, tr.Exhausted())

	// 10k tokens out of gpt-4o at $10/MTok = $0.10
	tr.Record("gpt-4o", llm.Usage{OutputTokens: 10_000})
	assert.True(t, tr.Exhausted())
	assert.True(t, tr.Remaining().IsNegative())
}

func TestConcurrentRecord(t *testing.T) {
	tr := NewTracker(decimal.Zero, nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Record("gpt-4o-mini", llm.Usage{InputTokens: 100, OutputTokens: 10})
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(2000), tr.TotalUsage().InputTokens)
	assert.Equal(t, int64(200), tr.TotalUsage().OutputTokens)
}
