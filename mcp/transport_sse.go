package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ConnState is the network transport's connection lifecycle state.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "error"
	default:
		return "unknown"
	}
}

// Reconnect backoff: a read timeout usually means a stalled proxy and is
// retried quickly; a hard connection error gets a longer pause.
const (
	reconnectDelayTimeout = 1 * time.Second
	reconnectDelayError   = 5 * time.Second
)

// SSETransport speaks JSON-RPC 2.0 framed as Server-Sent Events. A GET
// opens the persistent stream; outbound calls are POSTed to a companion
// endpoint and their replies arrive asynchronously on the shared stream,
// correlated by request id.
//
// The remote does not preserve session state across a dropped connection,
// so every reconnect re-runs the full initialize handshake and replaces the
// cached catalog.
type SSETransport struct {
	cfg        ServerConfig
	httpClient *http.Client
	logger     *slog.Logger

	pending *pendingCalls
	state   atomic.Int32

	mu      sync.Mutex
	catalog *catalogSnapshot
	postURL string
	cancel  context.CancelFunc
	closed  bool
}

var _ Transport = (*SSETransport)(nil)

// NewSSETransport creates an SSETransport from the given config.
// Returns ErrInvalidConfig if URL is empty.
func NewSSETransport(cfg ServerConfig) (*SSETransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: sse transport requires url", ErrInvalidConfig)
	}
	return &SSETransport{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     slog.Default(),
		pending:    newPendingCalls(),
	}, nil
}

// SetLogger replaces the transport's logger. Must be called before Connect.
func (t *SSETransport) SetLogger(l *slog.Logger) {
	if l != nil {
		t.logger = l
	}
}

// SetHTTPClient replaces the HTTP client used for the stream and POSTs.
func (t *SSETransport) SetHTTPClient(c *http.Client) {
	if c != nil {
		t.httpClient = c
	}
}

// State returns the current connection state.
func (t *SSETransport) State() ConnState {
	return ConnState(t.state.Load())
}

func (t *SSETransport) setState(s ConnState) {
	old := ConnState(t.state.Swap(int32(s)))
	if old != s {
		t.logger.Debug("sse state change", "url", t.cfg.URL, "from", old.String(), "to", s.String())
	}
}

// Connect opens the stream, runs the handshake, and starts the supervisor
// that reconnects on stream loss. It returns once the first handshake has
// completed or failed.
func (t *SSETransport) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancel = cancel
	t.closed = false
	t.mu.Unlock()

	ready := make(chan error, 1)
	go t.supervise(runCtx, ready)

	select {
	case err := <-ready:
		if err != nil {
			cancel()
			return fmt.Errorf("%w: %v", ErrStartFailed, err)
		}
		return nil
	case <-time.After(t.cfg.startTimeout()):
		cancel()
		return fmt.Errorf("%w: %w: handshake after %s", ErrStartFailed, ErrTimeout, t.cfg.startTimeout())
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// supervise owns the connect/reconnect loop. The first outcome is reported
// on ready; after a successful first connect it retries forever until the
// transport is closed, choosing the backoff by failure kind.
func (t *SSETransport) supervise(ctx context.Context, ready chan<- error) {
	first := true
	for {
		if first {
			t.setState(StateConnecting)
		} else {
			t.setState(StateReconnecting)
		}

		connected, err, timedOut := t.connectOnce(ctx, first, ready)
		if first && !connected {
			// First connect failed; Connect already has the error.
			t.setState(StateFailed)
			return
		}
		first = false
		if ctx.Err() != nil {
			t.setState(StateDisconnected)
			return
		}

		delay := reconnectDelayError
		if timedOut {
			delay = reconnectDelayTimeout
		}
		t.logger.Warn("sse stream lost, reconnecting",
			"url", t.cfg.URL, "err", err, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			t.setState(StateDisconnected)
			return
		}
	}
}

// connectOnce opens one stream, handshakes, then blocks pumping events
// until the stream dies. On first success it signals ready and keeps
// running; it returns only when the stream is gone. connected reports
// whether the handshake completed on this attempt.
func (t *SSETransport) connectOnce(ctx context.Context, first bool, ready chan<- error) (connected bool, err error, timedOut bool) {
	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()

	report := func(e error) {
		if first {
			ready <- e
		}
	}

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.cfg.URL, nil)
	if err != nil {
		report(err)
		return false, err, false
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		report(err)
		return false, err, false
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		err = fmt.Errorf("%w: stream returned %s", ErrProtocol, resp.Status)
		report(err)
		return false, err, false
	}
	defer resp.Body.Close()

	// Watchdog: silence on the stream beyond ReadTimeout cancels it and
	// flags the failure as a timeout for the short-backoff path.
	var sawTimeout atomic.Bool
	watchdog := time.AfterFunc(t.cfg.readTimeout(), func() {
		sawTimeout.Store(true)
		cancelStream()
	})
	defer watchdog.Stop()

	endpointCh := make(chan struct{})
	var endpointOnce sync.Once
	readerDone := make(chan error, 1)
	go func() {
		readerDone <- t.readStream(resp.Body, watchdog, func(ep string) {
			endpointOnce.Do(func() {
				t.setPostURL(ep)
				close(endpointCh)
			})
		})
	}()

	// The server announces the companion POST endpoint as the first event.
	// Fall back to the stream URL for servers that accept POSTs there.
	select {
	case <-endpointCh:
	case <-time.After(2 * time.Second):
		t.setPostURL(t.cfg.URL)
	case <-streamCtx.Done():
		err = <-readerDone
		report(err)
		return false, err, sawTimeout.Load()
	}

	// Prior session state is gone on the remote; replay the full handshake
	// and replace the catalog wholesale.
	t.pending.reset()
	hctx, hcancel := context.WithTimeout(streamCtx, t.cfg.startTimeout())
	snap, err := handshake(hctx, t)
	hcancel()
	if err != nil {
		report(err)
		cancelStream()
		<-readerDone
		t.pending.failAll(fmt.Errorf("%w: handshake failed", ErrSessionClosed))
		return false, err, sawTimeout.Load()
	}

	t.mu.Lock()
	t.catalog = snap
	t.mu.Unlock()
	t.setState(StateConnected)
	t.logger.Debug("sse server ready", "url", t.cfg.URL, "server", snap.serverName, "tools", len(snap.tools))
	report(nil)

	err = <-readerDone
	t.pending.failAll(fmt.Errorf("%w: stream lost", ErrSessionClosed))
	return true, err, sawTimeout.Load()
}

// readStream parses event:/data: frames until the body errors out.
// Multi-line data fields within one event are concatenated with a newline
// per the SSE format; events of unrecognized types are ignored.
func (t *SSETransport) readStream(body io.Reader, watchdog *time.Timer, onEndpoint func(string)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)

	var eventType string
	var data bytes.Buffer
	dispatch := func() {
		defer func() {
			eventType = ""
			data.Reset()
		}()
		if data.Len() == 0 {
			return
		}
		switch eventType {
		case "endpoint":
			onEndpoint(strings.TrimSpace(data.String()))
		case "", "message":
			t.handleFrame(data.Bytes())
		default:
			t.logger.Debug("ignoring sse event", "event", eventType)
		}
	}

	for scanner.Scan() {
		watchdog.Reset(t.cfg.readTimeout())
		line := scanner.Text()
		switch {
		case line == "":
			dispatch()
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, ":"):
			// Comment / keepalive.
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

// handleFrame routes one data payload. Responses are matched strictly by
// request id; unmatched ids are late replies and are dropped.
func (t *SSETransport) handleFrame(payload []byte) {
	var resp response
	if err := json.Unmarshal(payload, &resp); err != nil {
		t.logger.Debug("skipping non-JSON sse data", "bytes", len(payload))
		return
	}
	if !resp.isResponse() {
		t.logger.Debug("ignoring server notification", "method", resp.Method)
		return
	}
	if !t.pending.deliver(resp) {
		t.logger.Debug("discarding late reply", "id", *resp.ID)
	}
}

func (t *SSETransport) setPostURL(ep string) {
	resolved := ep
	if base, err := url.Parse(t.cfg.URL); err == nil {
		if ref, err := url.Parse(ep); err == nil {
			resolved = base.ResolveReference(ref).String()
		}
	}
	t.mu.Lock()
	t.postURL = resolved
	t.mu.Unlock()
}

func (t *SSETransport) currentPostURL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.postURL
}

// call POSTs a request to the companion endpoint and awaits the correlated
// reply from the stream. The POST's own HTTP body is not the reply. While
// the stream is down the registration fails, so nothing is POSTed into a
// broken session.
func (t *SSETransport) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id, ch, err := t.pending.register()
	if err != nil {
		return nil, err
	}
	req := request{JSONRPC: jsonrpcVersion, ID: &id, Method: method, Params: params}
	if err := t.post(ctx, req); err != nil {
		t.pending.drop(id)
		return nil, err
	}

	timer := time.NewTimer(t.cfg.callTimeout())
	defer timer.Stop()
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.resp.Error != nil {
			return nil, fmt.Errorf("%w: %w", ErrProtocol, res.resp.Error)
		}
		return res.resp.Result, nil
	case <-timer.C:
		t.pending.drop(id)
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, method, t.cfg.callTimeout())
	case <-ctx.Done():
		t.pending.drop(id)
		return nil, ctx.Err()
	}
}

func (t *SSETransport) notify(ctx context.Context, method string, params any) error {
	return t.post(ctx, request{JSONRPC: jsonrpcVersion, Method: method, Params: params})
}

func (t *SSETransport) post(ctx context.Context, rpc request) error {
	b, err := json.Marshal(rpc)
	if err != nil {
		return fmt.Errorf("%w: marshal %s: %v", ErrProtocol, rpc.Method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.currentPostURL(), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", rpc.Method, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: post %s returned %s", ErrProtocol, rpc.Method, resp.Status)
	}
	return nil
}

func (t *SSETransport) snapshot() *catalogSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.catalog
}

// Tools returns the catalog cached at the most recent handshake.
func (t *SSETransport) Tools() []ToolInfo {
	if snap := t.snapshot(); snap != nil {
		return snap.tools
	}
	return nil
}

// Resources returns the resources cached at the most recent handshake.
func (t *SSETransport) Resources() []Resource {
	if snap := t.snapshot(); snap != nil {
		return snap.resources
	}
	return nil
}

// Prompts returns the prompts cached at the most recent handshake.
func (t *SSETransport) Prompts() []Prompt {
	if snap := t.snapshot(); snap != nil {
		return snap.prompts
	}
	return nil
}

// Ready reports whether the stream is connected and handshaken.
func (t *SSETransport) Ready() bool {
	return t.State() == StateConnected
}

// CallTool invokes a tool on the remote server.
func (t *SSETransport) CallTool(ctx context.Context, name string, args map[string]any) (*ToolCallResult, error) {
	if !t.Ready() {
		return nil, ErrNotConnected
	}
	raw, err := t.call(ctx, methodToolsCall, toolCallParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	return decodeToolResult(raw)
}

// ReadResource reads a resource by URI from the remote server.
func (t *SSETransport) ReadResource(ctx context.Context, uri string) (string, error) {
	if !t.Ready() {
		return "", ErrNotConnected
	}
	raw, err := t.call(ctx, methodResourcesRead, map[string]any{"uri": uri})
	if err != nil {
		return "", err
	}
	var rr struct {
		Contents []struct {
			Text string `json:"text"`
		} `json:"contents"`
	}
	if err := json.Unmarshal(raw, &rr); err != nil {
		return "", fmt.Errorf("%w: bad resources/read result: %v", ErrProtocol, err)
	}
	if len(rr.Contents) == 0 {
		return "", nil
	}
	return rr.Contents[0].Text, nil
}

// Close stops the supervisor and fails all outstanding calls.
func (t *SSETransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.pending.failAll(ErrSessionClosed)
	t.setState(StateDisconnected)
	return nil
}
