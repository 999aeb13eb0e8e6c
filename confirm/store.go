package confirm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/armatrix/toolhost/audit"
	"github.com/armatrix/toolhost/risk"
)

// Store holds confirmation requests and enforces the exactly-once
// resolution rule. Entries live in memory; the audit sink is the durable
// trail.
type Store struct {
	mu      sync.Mutex
	entries map[string]*Request

	timeout  time.Duration
	sink     audit.Sink
	logger   *slog.Logger
	onExpire func(Request)
	now      func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithAuditSink sets the trail sink. Defaults to audit.Discard.
func WithAuditSink(s audit.Sink) StoreOption {
	return func(st *Store) { st.sink = s }
}

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(st *Store) { st.logger = l }
}

// WithOnExpire installs a callback invoked (outside the store lock) for
// every request that expires, whether the sweeper finds it or a late
// Resolve does. The host uses it to resume the suspended session with a
// denial.
func WithOnExpire(fn func(Request)) StoreOption {
	return func(st *Store) { st.onExpire = fn }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(st *Store) { st.now = now }
}

// NewStore creates a store whose pending entries expire after timeout.
func NewStore(timeout time.Duration, opts ...StoreOption) *Store {
	if timeout <= 0 {
		timeout = risk.DefaultConfirmationTimeout
	}
	s := &Store{
		entries: make(map[string]*Request),
		timeout: timeout,
		sink:    audit.Discard{},
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create inserts a pending request for the call and returns a copy of it.
func (s *Store) Create(sessionID string, call ToolCall, level risk.Level) Request {
	now := s.now()
	req := &Request{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Call:      call,
		Risk:      level,
		Status:    StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(s.timeout),
	}

	s.mu.Lock()
	s.entries[req.ID] = req
	s.mu.Unlock()

	s.record(audit.EventCreated, *req, "")
	s.logger.Info("confirmation pending",
		"request", req.ID, "session", sessionID, "tool", call.Name, "risk", level.String())
	return *req
}

// Get returns a copy of the request with the given id.
func (s *Store) Get(id string) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.entries[id]
	if !ok {
		return Request{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *req, nil
}

// Pending returns copies of all unresolved requests, oldest first.
func (s *Store) Pending() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Request
	for _, req := range s.entries {
		if req.Status == StatusPending {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Resolve performs the exactly-once pending → approved/rejected
// transition. The first caller wins; later attempts get
// ErrAlreadyResolved, or ErrExpired if the entry timed out first. A
// request past its deadline is expired here even if the sweeper has not
// reached it yet. modifiedArgs is only honored on approval, replacing
// the call's arguments.
func (s *Store) Resolve(id string, approved bool, modifiedArgs map[string]any) (Request, error) {
	s.mu.Lock()
	req, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return Request{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if req.Status == StatusExpired {
		s.mu.Unlock()
		return Request{}, fmt.Errorf("%w: %s", ErrExpired, id)
	}
	if req.Status != StatusPending {
		s.mu.Unlock()
		return Request{}, fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, id, req.Status)
	}
	now := s.now()
	if now.After(req.ExpiresAt) {
		req.Status = StatusExpired
		req.ResolvedAt = now
		expired := *req
		s.mu.Unlock()
		s.record(audit.EventExpired, expired, "expired before resolution")
		s.logger.Info("confirmation expired", "request", expired.ID, "tool", expired.Call.Name)
		if s.onExpire != nil {
			s.onExpire(expired)
		}
		return Request{}, fmt.Errorf("%w: %s", ErrExpired, id)
	}

	req.ResolvedAt = now
	if approved {
		req.Status = StatusApproved
		if modifiedArgs != nil {
			req.ModifiedArguments = modifiedArgs
		}
	} else {
		req.Status = StatusRejected
	}
	resolved := *req
	s.mu.Unlock()

	event := audit.EventApproved
	if !approved {
		event = audit.EventRejected
	}
	s.record(event, resolved, "")
	s.logger.Info("confirmation resolved",
		"request", resolved.ID, "status", string(resolved.Status), "tool", resolved.Call.Name)
	return resolved, nil
}

// Sweep expires every pending entry past its deadline and returns copies
// of the newly expired requests. The onExpire callback runs after the
// lock is released.
func (s *Store) Sweep() []Request {
	now := s.now()

	s.mu.Lock()
	var expired []Request
	for _, req := range s.entries {
		if req.Status == StatusPending && now.After(req.ExpiresAt) {
			req.Status = StatusExpired
			req.ResolvedAt = now
			expired = append(expired, *req)
		}
	}
	s.mu.Unlock()

	for _, req := range expired {
		s.record(audit.EventExpired, req, "")
		s.logger.Info("confirmation expired", "request", req.ID, "tool", req.Call.Name)
		if s.onExpire != nil {
			s.onExpire(req)
		}
	}
	return expired
}

// RunSweeper sweeps at the given interval until ctx is done. Call it in
// its own goroutine.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *Store) record(event audit.Event, req Request, detail string) {
	s.sink.Record(audit.Entry{
		Time:      s.now(),
		Event:     event,
		SessionID: req.SessionID,
		RequestID: req.ID,
		Tool:      req.Call.Name,
		Risk:      req.Risk.String(),
		Detail:    detail,
	})
}
