// Package engine runs the bounded reasoning-action loop: call the model,
// execute or gate the tool calls it proposes, feed the results back, and
// stop on a final answer, the iteration cap, or a suspension across the
// confirmation boundary.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/armatrix/toolhost/audit"
	"github.com/armatrix/toolhost/catalog"
	"github.com/armatrix/toolhost/confirm"
	"github.com/armatrix/toolhost/internal/budget"
	"github.com/armatrix/toolhost/llm"
	"github.com/armatrix/toolhost/risk"
)

var (
	ErrMaxIterations   = errors.New("engine: max iterations reached")
	ErrBudgetExhausted = errors.New("engine: cost budget exhausted")
)

// DefaultMaxIterations bounds the loop when the config does not.
const DefaultMaxIterations = 10

// State is where a session's loop currently stands.
type State string

const (
	StateIdle                State = "idle"
	StateReasoning           State = "reasoning"
	StateExecutingTool       State = "executing_tool"
	StatePendingConfirmation State = "pending_confirmation"
	StateCompleted           State = "completed"
	StateError               State = "error"
)

// Sink receives loop progress. The engine calls these methods instead of
// importing the host's event types, which keeps the dependency pointing
// one way. Implementations must not block.
type Sink interface {
	OnState(sessionID string, state State)
	OnToolCall(sessionID string, call llm.ToolCall, level risk.Level)
	OnToolResult(sessionID string, call llm.ToolCall, content string, isError bool)
	OnConfirmationRequired(sessionID string, req confirm.Request)
	OnFinal(sessionID, text string, usage llm.Usage)
	OnError(sessionID string, err error)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) OnState(string, State)                           {}
func (NopSink) OnToolCall(string, llm.ToolCall, risk.Level)     {}
func (NopSink) OnToolResult(string, llm.ToolCall, string, bool) {}
func (NopSink) OnConfirmationRequired(string, confirm.Request)  {}
func (NopSink) OnFinal(string, string, llm.Usage)               {}
func (NopSink) OnError(string, error)                           {}

// ToolExecutor runs one namespaced tool call against the matching server.
// A non-nil error means the call could not be dispatched at all; a tool
// that ran and failed comes back as (content, true, nil).
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args map[string]any) (content string, isError bool, err error)
}

// Config holds everything one loop run needs.
type Config struct {
	SessionID     string
	Client        llm.CompletionClient
	LLM           llm.Config
	Catalog       []catalog.Descriptor
	Executor      ToolExecutor
	Policy        risk.Policy
	Confirmations *confirm.Store
	// Budget is optional; a nil tracker means unlimited.
	Budget *budget.Tracker
	// Audit receives executed-call entries. Nil means no trail.
	Audit         audit.Sink
	MaxIterations int
	Sink          Sink
	Logger        *slog.Logger
}

func (c *Config) maxIterations() int {
	if c.MaxIterations > 0 {
		return c.MaxIterations
	}
	return DefaultMaxIterations
}

// Suspension is the persisted context of a loop paused at the
// confirmation boundary. It is plain data: no goroutine blocks while the
// human decides, and Resume picks up exactly where Run left off.
type Suspension struct {
	SessionID string `json:"session_id"`
	// ConfirmationID names the pending request gating PendingCall.
	ConfirmationID string `json:"confirmation_id"`
	// Iteration is the loop iteration the suspension happened in.
	Iteration int `json:"iteration"`
	// Messages is the full history up to and including the assistant
	// message that proposed the calls.
	Messages []llm.Message `json:"messages"`
	// PendingCall is the gated call itself.
	PendingCall llm.ToolCall `json:"pending_call"`
	// QueuedCalls are later calls from the same assistant turn, not yet
	// assessed or executed.
	QueuedCalls []llm.ToolCall `json:"queued_calls,omitempty"`
	// Catalog is the tool set the model was shown, frozen so a resumed
	// session reasons over the same tools.
	Catalog []catalog.Descriptor `json:"catalog,omitempty"`
	// LLM is the model configuration the run started with, frozen so a
	// resume keeps reasoning with the same model and parameters.
	LLM llm.Config `json:"llm"`
	// Usage accumulated before the suspension.
	Usage llm.Usage `json:"usage"`
	// CreatedAt is when the loop suspended.
	CreatedAt time.Time `json:"created_at"`
}

// Result is a finished or suspended loop run.
type Result struct {
	SessionID string
	State     State
	// FinalText is the model's terminal answer; empty when suspended.
	FinalText string
	// Messages is the full history after the run.
	Messages []llm.Message
	// Suspension is non-nil when the loop paused for confirmation.
	Suspension *Suspension
	Usage      llm.Usage
	// Cost is the cumulative tracked spend, zero without a tracker.
	Cost       decimal.Decimal
	Iterations int
}

type run struct {
	cfg      Config
	logger   *slog.Logger
	sink     Sink
	byName   map[string]catalog.Descriptor
	messages []llm.Message
	usage    llm.Usage
}

func newRun(cfg Config, history []llm.Message) *run {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := cfg.Sink
	if sink == nil {
		sink = NopSink{}
	}
	byName := make(map[string]catalog.Descriptor, len(cfg.Catalog))
	for _, d := range cfg.Catalog {
		byName[d.Name] = d
	}
	messages := make([]llm.Message, len(history))
	copy(messages, history)
	return &run{
		cfg:      cfg,
		logger:   logger.With("session", cfg.SessionID),
		sink:     sink,
		byName:   byName,
		messages: messages,
	}
}

// Run executes the loop over the given history until the model answers
// without tool calls, the iteration cap is hit, or a gated call suspends
// it. The returned Result's State tells which.
func Run(ctx context.Context, cfg Config, history []llm.Message) (*Result, error) {
	r := newRun(cfg, history)
	return r.loop(ctx, 0)
}

// Resume continues a suspended loop after its confirmation resolved.
// When approved, the pending call runs with args (the approver's edit, or
// the original arguments when nil). When denied, the model instead sees a
// rejection result and the call is never dispatched. Queued calls from
// the same turn are then assessed normally, so a resume can suspend
// again.
func Resume(ctx context.Context, cfg Config, susp *Suspension, approved bool, args map[string]any) (*Result, error) {
	if len(cfg.Catalog) == 0 && len(susp.Catalog) > 0 {
		cfg.Catalog = susp.Catalog
	}
	if susp.LLM.Model != "" {
		cfg.LLM = susp.LLM
	}
	r := newRun(cfg, susp.Messages)
	r.usage = susp.Usage

	pending := susp.PendingCall
	if approved {
		if args != nil {
			pending.Arguments = args
		}
		r.execute(ctx, pending)
	} else {
		r.sink.OnToolResult(r.cfg.SessionID, pending, deniedResult, true)
		r.messages = append(r.messages, llm.ToolResultMessage(pending, deniedResult, true))
	}

	if s := r.executeCalls(ctx, susp.Iteration, susp.QueuedCalls); s != nil {
		return r.suspended(s), nil
	}
	return r.loop(ctx, susp.Iteration+1)
}

const deniedResult = "tool call denied by user"

func (r *run) loop(ctx context.Context, iter int) (*Result, error) {
	max := r.cfg.maxIterations()
	for ; iter < max; iter++ {
		if err := ctx.Err(); err != nil {
			return r.failed(err)
		}
		if r.cfg.Budget != nil && r.cfg.Budget.Exhausted() {
			return r.failed(ErrBudgetExhausted)
		}

		r.sink.OnState(r.cfg.SessionID, StateReasoning)
		comp, err := r.cfg.Client.Complete(ctx, r.cfg.LLM, r.messages, r.cfg.Catalog)
		if err != nil {
			return r.failed(fmt.Errorf("completion: %w", err))
		}

		r.usage.Add(comp.Usage)
		if r.cfg.Budget != nil {
			r.cfg.Budget.Record(r.cfg.LLM.Model, comp.Usage)
		}
		r.messages = append(r.messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   comp.Text,
			ToolCalls: comp.ToolCalls,
		})

		if len(comp.ToolCalls) == 0 {
			r.sink.OnState(r.cfg.SessionID, StateCompleted)
			r.sink.OnFinal(r.cfg.SessionID, comp.Text, r.usage)
			return &Result{
				SessionID:  r.cfg.SessionID,
				State:      StateCompleted,
				FinalText:  comp.Text,
				Messages:   r.messages,
				Usage:      r.usage,
				Cost:       r.cost(),
				Iterations: iter + 1,
			}, nil
		}

		if s := r.executeCalls(ctx, iter, comp.ToolCalls); s != nil {
			return r.suspended(s), nil
		}
	}
	return r.failed(fmt.Errorf("%w (%d)", ErrMaxIterations, max))
}

// executeCalls dispatches the assistant turn's calls in order. The first
// call the policy gates stops execution and yields a suspension carrying
// the rest.
func (r *run) executeCalls(ctx context.Context, iter int, calls []llm.ToolCall) *Suspension {
	for i, call := range calls {
		desc, known := r.byName[call.Name]
		if !known {
			content := fmt.Sprintf("unknown tool: %s", call.Name)
			r.sink.OnToolResult(r.cfg.SessionID, call, content, true)
			r.messages = append(r.messages, llm.ToolResultMessage(call, content, true))
			continue
		}

		level := risk.Assess(desc.Tool, desc.Description, call.Arguments)
		r.sink.OnToolCall(r.cfg.SessionID, call, level)

		if r.cfg.Policy.RequiresConfirmation(call.Name, level, call.Arguments) {
			req := r.cfg.Confirmations.Create(r.cfg.SessionID, confirm.ToolCall{
				CallID:    call.ID,
				Name:      call.Name,
				Arguments: call.Arguments,
			}, level)
			r.sink.OnConfirmationRequired(r.cfg.SessionID, req)
			r.sink.OnState(r.cfg.SessionID, StatePendingConfirmation)
			r.logger.Info("loop suspended", "tool", call.Name, "risk", level.String(), "request", req.ID)
			return &Suspension{
				SessionID:      r.cfg.SessionID,
				ConfirmationID: req.ID,
				Iteration:      iter,
				Messages:       r.messages,
				PendingCall:    call,
				QueuedCalls:    calls[i+1:],
				Catalog:        r.cfg.Catalog,
				LLM:            r.cfg.LLM,
				Usage:          r.usage,
				CreatedAt:      time.Now(),
			}
		}

		r.execute(ctx, call)
	}
	return nil
}

// execute runs one approved or auto-approved call. Dispatch and execution
// failures both come back to the model as error results; only the loop's
// own limits terminate it.
func (r *run) execute(ctx context.Context, call llm.ToolCall) {
	r.sink.OnState(r.cfg.SessionID, StateExecutingTool)
	start := time.Now()

	content, isError, err := r.cfg.Executor.Execute(ctx, call.Name, call.Arguments)
	if err != nil {
		content = fmt.Sprintf("error: %s", err)
		isError = true
	}

	r.logger.Debug("tool executed",
		"tool", call.Name, "error", isError, "duration", time.Since(start))
	if r.cfg.Audit != nil {
		detail := ""
		if isError {
			detail = "failed"
		}
		r.cfg.Audit.Record(audit.Entry{
			Time:      time.Now(),
			Event:     audit.EventExecuted,
			SessionID: r.cfg.SessionID,
			Tool:      call.Name,
			Detail:    detail,
		})
	}

	r.sink.OnToolResult(r.cfg.SessionID, call, content, isError)
	r.messages = append(r.messages, llm.ToolResultMessage(call, content, isError))
}

func (r *run) suspended(s *Suspension) *Result {
	return &Result{
		SessionID:  r.cfg.SessionID,
		State:      StatePendingConfirmation,
		Messages:   r.messages,
		Suspension: s,
		Usage:      r.usage,
		Cost:       r.cost(),
		Iterations: s.Iteration + 1,
	}
}

func (r *run) failed(err error) (*Result, error) {
	r.sink.OnState(r.cfg.SessionID, StateError)
	r.sink.OnError(r.cfg.SessionID, err)
	return &Result{
		SessionID: r.cfg.SessionID,
		State:     StateError,
		Messages:  r.messages,
		Usage:     r.usage,
		Cost:      r.cost(),
	}, err
}

func (r *run) cost() decimal.Decimal {
	if r.cfg.Budget == nil {
		return decimal.Zero
	}
	return r.cfg.Budget.TotalCost()
}
