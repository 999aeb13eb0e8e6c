package toolhost

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/armatrix/toolhost/audit"
	"github.com/armatrix/toolhost/internal/budget"
	"github.com/armatrix/toolhost/llm"
	"github.com/armatrix/toolhost/risk"
	sessionstore "github.com/armatrix/toolhost/session"
)

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the host's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(h *Host) { h.logger = logger }
}

// WithCompletionClient sets the injected LLM-call capability. Required
// before Chat can run.
func WithCompletionClient(client llm.CompletionClient) Option {
	return func(h *Host) { h.client = client }
}

// WithLLMConfig sets the default model configuration for runs.
func WithLLMConfig(cfg llm.Config) Option {
	return func(h *Host) { h.llmCfg = cfg }
}

// WithPolicy replaces the default confirmation policy.
func WithPolicy(policy risk.Policy) Option {
	return func(h *Host) { h.policy = policy }
}

// WithAuditSink sets where the confirmation and execution trail goes.
// Defaults to an in-memory sink.
func WithAuditSink(sink audit.Sink) Option {
	return func(h *Host) { h.auditSink = sink }
}

// WithMaxIterations caps the reasoning-action loop per run.
func WithMaxIterations(n int) Option {
	return func(h *Host) { h.maxIterations = n }
}

// WithMaxBudgetUSD sets a cost ceiling across all of the host's runs.
// Zero means unlimited.
func WithMaxBudgetUSD(ceiling decimal.Decimal) Option {
	return func(h *Host) { h.budget = budget.NewTracker(ceiling, nil) }
}

// WithSessionStore persists every session after each run so histories
// survive process restarts. Defaults to no persistence.
func WithSessionStore(store sessionstore.Store) Option {
	return func(h *Host) { h.store = store }
}

// WithSweepInterval sets how often expired confirmations are collected.
func WithSweepInterval(interval time.Duration) Option {
	return func(h *Host) { h.sweepInterval = interval }
}

// WithEventBufferSize sets the per-run event channel capacity. A slow
// stream consumer past this depth has further events dropped rather than
// stalling the loop.
func WithEventBufferSize(n int) Option {
	return func(h *Host) { h.eventBuffer = n }
}
