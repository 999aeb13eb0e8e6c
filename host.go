package toolhost

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/armatrix/toolhost/audit"
	"github.com/armatrix/toolhost/catalog"
	"github.com/armatrix/toolhost/confirm"
	"github.com/armatrix/toolhost/internal/budget"
	"github.com/armatrix/toolhost/internal/engine"
	"github.com/armatrix/toolhost/llm"
	"github.com/armatrix/toolhost/mcp"
	"github.com/armatrix/toolhost/risk"
	sessionstore "github.com/armatrix/toolhost/session"
)

const defaultEventBuffer = 64

// Host is the facade over the tool servers, the catalog, the risk gate,
// and the reasoning-action loop. All methods are safe for concurrent
// use.
type Host struct {
	logger        *slog.Logger
	manager       *mcp.Manager
	policy        risk.Policy
	confirmations *confirm.Store
	auditSink     audit.Sink
	client        llm.CompletionClient
	llmCfg        llm.Config
	budget        *budget.Tracker
	store         sessionstore.Store
	maxIterations int
	sweepInterval time.Duration
	eventBuffer   int

	mu       sync.Mutex
	sessions map[string]*session
	stop     context.CancelFunc
}

// session is one conversation's mutable state. A suspended session holds
// its loop context as data until the confirmation resolves.
type session struct {
	id         string
	state      engine.State
	messages   []llm.Message
	suspension *engine.Suspension
	createdAt  time.Time
	running    bool
}

// New creates a Host and starts its expiry sweeper.
func New(opts ...Option) *Host {
	h := &Host{
		logger:        slog.Default(),
		policy:        risk.DefaultPolicy(),
		auditSink:     audit.NewMemorySink(),
		sweepInterval: 10 * time.Second,
		eventBuffer:   defaultEventBuffer,
		sessions:      make(map[string]*session),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.manager = mcp.NewManager(h.logger)
	h.confirmations = confirm.NewStore(h.policy.ConfirmationTimeout(),
		confirm.WithAuditSink(h.auditSink),
		confirm.WithLogger(h.logger),
		confirm.WithOnExpire(h.expired),
	)

	ctx, cancel := context.WithCancel(context.Background())
	h.stop = cancel
	go h.confirmations.RunSweeper(ctx, h.sweepInterval)
	return h
}

// Close stops the sweeper and every tool server.
func (h *Host) Close() error {
	h.stop()
	return h.manager.Close()
}

// StartServer connects a tool server under key. The key becomes the
// namespace prefix of every tool the server advertises.
func (h *Host) StartServer(ctx context.Context, key string, cfg mcp.ServerConfig) error {
	if err := catalog.ValidServerKey(key); err != nil {
		return err
	}
	return h.manager.Start(ctx, key, cfg)
}

// StartInProcess registers an in-process server under key.
func (h *Host) StartInProcess(ctx context.Context, key string, srv *mcp.InProcessServer) error {
	if err := catalog.ValidServerKey(key); err != nil {
		return err
	}
	return h.manager.StartInProcess(ctx, key, srv)
}

// StopServer disconnects the server under key; its tools leave the
// catalog immediately.
func (h *Host) StopServer(key string) error {
	return h.manager.Stop(key)
}

// Servers returns all registered server keys.
func (h *Host) Servers() []string {
	return h.manager.Keys()
}

// ListTools returns the aggregated namespaced catalog across every ready
// server.
func (h *Host) ListTools() []catalog.Descriptor {
	return catalog.Aggregate(h.manager.Ready())
}

// ListResources returns every ready server's resources, keyed by server.
func (h *Host) ListResources() map[string][]mcp.Resource {
	out := make(map[string][]mcp.Resource)
	for _, sess := range h.manager.Ready() {
		if res := sess.Transport.Resources(); len(res) > 0 {
			out[sess.Key] = res
		}
	}
	return out
}

// ReadResource reads a resource by URI from the server under key.
func (h *Host) ReadResource(ctx context.Context, key, uri string) (string, error) {
	return h.manager.ReadResource(ctx, key, uri)
}

// Invoke dispatches one namespaced tool call directly, outside any loop
// run. The caller is the operator, so no confirmation gate applies; the
// call is still recorded in the audit trail.
func (h *Host) Invoke(ctx context.Context, name string, args map[string]any) (*mcp.ToolCallResult, error) {
	server, tool, err := catalog.Split(name)
	if err != nil {
		return nil, err
	}
	res, err := h.manager.Call(ctx, server, tool, args)
	if err != nil {
		return nil, err
	}
	detail := "direct"
	if res.IsError {
		detail = "direct, failed"
	}
	h.auditSink.Record(audit.Entry{
		Time:   time.Now(),
		Event:  audit.EventExecuted,
		Tool:   name,
		Detail: detail,
	})
	return res, nil
}

// Chat appends the user input to the session's history and runs the loop
// with the host's default model configuration. An empty sessionID starts
// a fresh session; its id is on every event. The returned stream ends
// when the run completes, errors, or suspends for confirmation.
func (h *Host) Chat(ctx context.Context, sessionID, input string) (*EventStream, error) {
	return h.ChatWith(ctx, sessionID, input, h.llmCfg)
}

// ChatWith is Chat with an explicit model configuration for this run.
func (h *Host) ChatWith(ctx context.Context, sessionID, input string, cfg llm.Config) (*EventStream, error) {
	if h.client == nil {
		return nil, ErrNoClient
	}
	if sessionID == "" {
		sessionID = generateID()
	}

	h.mu.Lock()
	sess, ok := h.sessions[sessionID]
	if !ok {
		sess = &session{id: sessionID, state: engine.StateIdle, createdAt: time.Now()}
		// A session unknown in memory may have been persisted by an
		// earlier process. Its history is restored; a stale suspension
		// is not, since its confirmation no longer exists.
		if h.store != nil {
			h.mu.Unlock()
			rec, err := h.store.Load(ctx, sessionID)
			h.mu.Lock()
			if err == nil {
				sess.messages = rec.Messages
				sess.createdAt = rec.CreatedAt
			}
			if prior, raced := h.sessions[sessionID]; raced {
				sess = prior
			}
		}
		h.sessions[sessionID] = sess
	}
	if sess.running {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionBusy, sessionID)
	}
	if sess.suspension != nil {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionSuspended, sessionID)
	}
	sess.running = true
	sess.messages = append(sess.messages, llm.UserMessage(input))
	history := append([]llm.Message(nil), sess.messages...)
	h.mu.Unlock()

	ch := make(chan Event, h.eventBuffer)
	ecfg := h.engineConfig(sessionID, cfg, ch)
	go func() {
		defer close(ch)
		res, err := engine.Run(ctx, ecfg, history)
		h.finish(sessionID, res, err)
	}()
	return newStream(ch), nil
}

// SessionState returns where a session's loop currently stands.
func (h *Host) SessionState(sessionID string) (engine.State, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess, ok := h.sessions[sessionID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess.state, nil
}

// History returns a copy of the session's message history.
func (h *Host) History(sessionID string) ([]llm.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess, ok := h.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return append([]llm.Message(nil), sess.messages...), nil
}

// PendingConfirmations lists every unresolved request, oldest first.
func (h *Host) PendingConfirmations() []confirm.Request {
	return h.confirmations.Pending()
}

// GetConfirmation returns one request by id, resolved or not.
func (h *Host) GetConfirmation(id string) (confirm.Request, error) {
	return h.confirmations.Get(id)
}

// ResolveConfirmation records the human's decision exactly once and
// resumes the suspended session: an approved call executes (with the
// approver's edited arguments, if any), a rejected one is relayed to the
// model as a denial. The returned stream follows the resumed run.
func (h *Host) ResolveConfirmation(ctx context.Context, id string, approved bool, modifiedArgs map[string]any) (*EventStream, error) {
	if !h.policy.AllowArgumentEdit {
		modifiedArgs = nil
	}
	req, err := h.confirmations.Resolve(id, approved, modifiedArgs)
	if err != nil {
		return nil, err
	}
	return h.resume(ctx, req, approved)
}

// resume restarts a suspended session's loop after its gate resolved.
func (h *Host) resume(ctx context.Context, req confirm.Request, approved bool) (*EventStream, error) {
	susp, err := h.takeSuspension(req)
	if err != nil {
		return nil, err
	}

	var args map[string]any
	if approved && req.ModifiedArguments != nil {
		args = req.ModifiedArguments
	}

	// The suspension carries the model configuration its run started
	// with, so a run begun via ChatWith resumes with the same config.
	llmCfg := h.llmCfg
	if susp.LLM.Model != "" {
		llmCfg = susp.LLM
	}

	ch := make(chan Event, h.eventBuffer)
	ecfg := h.engineConfig(req.SessionID, llmCfg, ch)
	go func() {
		defer close(ch)
		res, err := engine.Resume(ctx, ecfg, susp, approved, args)
		h.finish(req.SessionID, res, err)
	}()
	return newStream(ch), nil
}

// takeSuspension claims a session's suspension for the given request.
// A caller resolving the instant the confirmation event arrives can beat
// the run goroutine storing the suspension, so a still-running session
// gets a short grace period.
func (h *Host) takeSuspension(req confirm.Request) (*engine.Suspension, error) {
	deadline := time.Now().Add(time.Second)
	for {
		h.mu.Lock()
		sess, ok := h.sessions[req.SessionID]
		if !ok {
			h.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, req.SessionID)
		}
		if sess.suspension != nil && sess.suspension.ConfirmationID == req.ID {
			susp := sess.suspension
			sess.suspension = nil
			sess.running = true
			h.mu.Unlock()
			return susp, nil
		}
		running := sess.running
		h.mu.Unlock()

		if !running || time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrNotSuspended, req.SessionID)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// expired handles a request the sweeper timed out: the suspension
// resumes with an implicit denial so the model learns the call will not
// happen. Nobody consumes the resumed run's events; emission never
// blocks, so none of this stalls the sweeper.
func (h *Host) expired(req confirm.Request) {
	if _, err := h.resume(context.Background(), req, false); err != nil {
		h.logger.Debug("no session to resume for expired confirmation",
			"request", req.ID, "err", err)
	}
}

func (h *Host) finish(sessionID string, res *engine.Result, err error) {
	h.mu.Lock()
	sess, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	sess.running = false
	if res != nil {
		sess.messages = res.Messages
		sess.state = res.State
		sess.suspension = res.Suspension
	}
	if err != nil {
		sess.state = engine.StateError
	}
	rec := sessionstore.Record{
		ID:         sess.id,
		State:      sess.state,
		Messages:   append([]llm.Message(nil), sess.messages...),
		Suspension: sess.suspension,
		CreatedAt:  sess.createdAt,
		UpdatedAt:  time.Now(),
	}
	h.mu.Unlock()

	if h.store != nil {
		if err := h.store.Save(context.Background(), &rec); err != nil {
			h.logger.Warn("session save failed", "session", sessionID, "err", err)
		}
	}
}

func (h *Host) engineConfig(sessionID string, cfg llm.Config, ch chan Event) engine.Config {
	return engine.Config{
		SessionID:     sessionID,
		Client:        h.client,
		LLM:           cfg,
		Catalog:       h.ListTools(),
		Executor:      &toolExecutor{manager: h.manager},
		Policy:        h.policy,
		Confirmations: h.confirmations,
		Budget:        h.budget,
		Audit:         h.auditSink,
		MaxIterations: h.maxIterations,
		Sink:          &runSink{host: h, ch: ch},
		Logger:        h.logger,
	}
}

// toolExecutor dispatches namespaced calls through the session manager.
type toolExecutor struct {
	manager *mcp.Manager
}

func (e *toolExecutor) Execute(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	server, tool, err := catalog.Split(name)
	if err != nil {
		return "", false, err
	}
	res, err := e.manager.Call(ctx, server, tool, args)
	if err != nil {
		return "", false, fmt.Errorf("%w: %s: %w", ErrToolExecution, name, err)
	}
	return res.Content, res.IsError, nil
}

// runSink adapts engine callbacks to stream events. Emission is
// non-blocking: when the consumer falls behind the buffer, events are
// dropped and the loop keeps moving.
type runSink struct {
	host *Host
	ch   chan Event
}

func (s *runSink) emit(ev Event) {
	select {
	case s.ch <- ev:
	default:
		s.host.logger.Warn("event dropped, stream consumer too slow", "type", ev.Type())
	}
}

func (s *runSink) OnState(sessionID string, state engine.State) {
	s.emit(&StateEvent{SessionID: sessionID, State: state})
}

func (s *runSink) OnToolCall(sessionID string, call llm.ToolCall, level risk.Level) {
	s.emit(&ToolCallEvent{SessionID: sessionID, Call: call, Risk: level})
}

func (s *runSink) OnToolResult(sessionID string, call llm.ToolCall, content string, isError bool) {
	s.emit(&ToolResultEvent{SessionID: sessionID, Call: call, Content: content, IsError: isError})
}

func (s *runSink) OnConfirmationRequired(sessionID string, req confirm.Request) {
	s.emit(&ConfirmationRequiredEvent{SessionID: sessionID, Request: req})
}

func (s *runSink) OnFinal(sessionID, text string, usage llm.Usage) {
	ev := &FinalEvent{SessionID: sessionID, Text: text, Usage: usage}
	if s.host.budget != nil {
		ev.Cost = s.host.budget.TotalCost()
	}
	s.emit(ev)
}

func (s *runSink) OnError(sessionID string, err error) {
	s.emit(&ErrorEvent{SessionID: sessionID, Err: err, Message: err.Error()})
}
