package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// SessionState is the lifecycle state of a managed server session.
type SessionState string

const (
	SessionStarting SessionState = "starting"
	SessionReady    SessionState = "ready"
	SessionError    SessionState = "error"
	SessionStopped  SessionState = "stopped"
)

// Session is one live connection to a tool server, exclusively owned by the
// Manager. It is destroyed on Stop or unrecoverable transport error.
type Session struct {
	Key       string
	Config    ServerConfig
	Transport Transport
	StartedAt time.Time
}

// State derives the session's state from its transport.
func (s *Session) State() SessionState {
	if s.Transport.Ready() {
		return SessionReady
	}
	return SessionError
}

// Tools returns the session's cached tool catalog.
func (s *Session) Tools() []ToolInfo { return s.Transport.Tools() }

// Manager owns every tool-server session, keyed by server key. A key maps
// to at most one live session; concurrent Start/Stop races on the same key
// are serialized by the registry lock with a starting placeholder held
// while the (potentially slow) connect runs.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	starting map[string]struct{}
	logger   *slog.Logger
}

// NewManager creates an empty Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		starting: make(map[string]struct{}),
		logger:   logger,
	}
}

// Start creates the transport for cfg, connects it (spawn + handshake for
// stdio, stream + handshake for SSE), and registers the session. Returns
// ErrServerExists if the key already has a live or starting session, and a
// descriptive ErrStartFailed on spawn or handshake failure.
func (m *Manager) Start(ctx context.Context, key string, cfg ServerConfig) error {
	m.mu.Lock()
	if _, live := m.sessions[key]; live {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrServerExists, key)
	}
	if _, inflight := m.starting[key]; inflight {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q is starting", ErrServerExists, key)
	}
	m.starting[key] = struct{}{}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.starting, key)
		m.mu.Unlock()
	}()

	transport, err := NewTransport(cfg)
	if err != nil {
		return err
	}
	if sl, ok := transport.(interface{ SetLogger(*slog.Logger) }); ok {
		sl.SetLogger(m.logger.With("server", key))
	}

	if err := transport.Connect(ctx); err != nil {
		m.logger.Warn("server start failed", "server", key, "err", err)
		return err
	}

	m.mu.Lock()
	m.sessions[key] = &Session{
		Key:       key,
		Config:    cfg,
		Transport: transport,
		StartedAt: time.Now(),
	}
	m.mu.Unlock()

	m.logger.Info("server started", "server", key, "transport", cfg.Transport, "tools", len(transport.Tools()))
	return nil
}

// StartInProcess registers a pre-built in-process server under key.
func (m *Manager) StartInProcess(ctx context.Context, key string, srv *InProcessServer) error {
	m.mu.Lock()
	if _, live := m.sessions[key]; live {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrServerExists, key)
	}
	m.mu.Unlock()

	if err := srv.Connect(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.sessions[key] = &Session{
		Key:       key,
		Config:    ServerConfig{Transport: TransportInProcess},
		Transport: srv,
		StartedAt: time.Now(),
	}
	m.mu.Unlock()
	return nil
}

// Stop closes the session for key and removes it from the registry. All of
// the session's outstanding calls fail with ErrSessionClosed.
func (m *Manager) Stop(key string) error {
	m.mu.Lock()
	sess, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrServerNotFound, key)
	}
	err := sess.Transport.Close()
	m.logger.Info("server stopped", "server", key)
	return err
}

// Call invokes a bare-named tool on the server registered under key.
func (m *Manager) Call(ctx context.Context, key, tool string, args map[string]any) (*ToolCallResult, error) {
	sess, err := m.session(key)
	if err != nil {
		return nil, err
	}
	return sess.Transport.CallTool(ctx, tool, args)
}

// ReadResource reads a resource by URI from the server registered under key.
func (m *Manager) ReadResource(ctx context.Context, key, uri string) (string, error) {
	sess, err := m.session(key)
	if err != nil {
		return "", err
	}
	return sess.Transport.ReadResource(ctx, uri)
}

func (m *Manager) session(key string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrServerNotFound, key)
	}
	return sess, nil
}

// Session returns the live session for key.
func (m *Manager) Session(key string) (*Session, error) {
	return m.session(key)
}

// Ready returns every session currently able to serve calls, sorted by key
// for deterministic aggregation. Failed sessions are omitted rather than
// failing the whole listing.
func (m *Manager) Ready() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		if sess.Transport.Ready() {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Keys returns all registered server keys, live or errored.
func (m *Manager) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.sessions))
	for k := range m.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close stops every session. The first error is returned.
func (m *Manager) Close() error {
	var first error
	for _, key := range m.Keys() {
		if err := m.Stop(key); err != nil && first == nil {
			first = err
		}
	}
	return first
}
