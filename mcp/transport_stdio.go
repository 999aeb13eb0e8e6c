package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// maxFrameBytes bounds a single JSON-RPC line read from the child's stdout.
const maxFrameBytes = 4 << 20

// stdioConn handles newline-delimited JSON-RPC framing over a write/read
// pair. Writes are serialized by a mutex so concurrent calls cannot
// interleave bytes on the wire; a single readLoop goroutine owns the read
// side and routes responses to their waiters by id.
type stdioConn struct {
	w       io.Writer
	writeMu sync.Mutex
	pending *pendingCalls
	timeout time.Duration
	logger  *slog.Logger

	// done is closed when readLoop exits, after failing all waiters.
	done chan struct{}
}

func newStdioConn(w io.Writer, r io.Reader, timeout time.Duration, logger *slog.Logger) *stdioConn {
	c := &stdioConn{
		w:       w,
		pending: newPendingCalls(),
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go c.readLoop(r)
	return c
}

// readLoop parses stdout line by line. Lines that are not valid JSON-RPC
// frames are incidental log output from the child (startup banners are
// common) and are skipped without ever being matched to a pending request.
// EOF means the process died: every outstanding call fails immediately.
func (c *stdioConn) readLoop(r io.Reader) {
	defer close(c.done)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Debug("skipping non-JSON stdout line", "bytes", len(line))
			continue
		}
		if !resp.isResponse() {
			// Server-initiated notification; nothing listens for these yet.
			c.logger.Debug("ignoring server notification", "method", resp.Method)
			continue
		}
		if !c.pending.deliver(resp) {
			c.logger.Debug("discarding late reply", "id", *resp.ID)
		}
	}
	c.pending.failAll(fmt.Errorf("%w: server process exited", ErrSessionClosed))
}

// call writes one request and awaits the matching response. On timeout the
// waiter is dropped and the connection is left running; a late reply finds
// no waiter and is discarded. After the process dies the registration
// itself fails, so nothing is ever written to the dead pipe.
func (c *stdioConn) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id, ch, err := c.pending.register()
	if err != nil {
		return nil, err
	}
	req := request{JSONRPC: jsonrpcVersion, ID: &id, Method: method, Params: params}
	if err := c.write(req); err != nil {
		c.pending.drop(id)
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
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
		c.pending.drop(id)
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, method, c.timeout)
	case <-ctx.Done():
		c.pending.drop(id)
		return nil, ctx.Err()
	}
}

func (c *stdioConn) notify(_ context.Context, method string, params any) error {
	return c.write(request{JSONRPC: jsonrpcVersion, Method: method, Params: params})
}

func (c *stdioConn) write(req request) error {
	b, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("%w: marshal %s: %v", ErrProtocol, req.Method, err)
	}
	b = append(b, '\n')
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.w.Write(b); err != nil {
		return fmt.Errorf("write %s: %w", req.Method, err)
	}
	return nil
}

// StdioTransport owns one OS subprocess speaking newline-delimited JSON-RPC
// over stdin/stdout. The child's stderr passes through to the host's stderr
// so server diagnostics stay visible.
type StdioTransport struct {
	cfg    ServerConfig
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	conn    *stdioConn
	catalog *catalogSnapshot
	closed  bool

	// exited receives the child's Wait result. A reaper goroutine calls
	// Wait as soon as the read side drains, so a child that dies on its
	// own is collected immediately instead of lingering until Close.
	exited chan error
}

var _ Transport = (*StdioTransport)(nil)

// NewStdioTransport creates a StdioTransport from the given config.
// Returns ErrInvalidConfig if Command is empty.
func NewStdioTransport(cfg ServerConfig) (*StdioTransport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("%w: stdio transport requires command", ErrInvalidConfig)
	}
	return &StdioTransport{cfg: cfg, logger: slog.Default()}, nil
}

// SetLogger replaces the transport's logger. Must be called before Connect.
func (t *StdioTransport) SetLogger(l *slog.Logger) {
	if l != nil {
		t.logger = l
	}
}

// Connect spawns the subprocess and runs the MCP handshake, caching the
// server's catalog. Spawn and handshake failures are wrapped in
// ErrStartFailed with the underlying cause preserved.
func (t *StdioTransport) Connect(ctx context.Context) error {
	cmd := exec.Command(t.cfg.Command, t.cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range t.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: stdin pipe: %v", ErrStartFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %v", ErrStartFailed, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: spawn %q: %v", ErrStartFailed, t.cfg.Command, err)
	}

	conn := newStdioConn(stdin, stdout, t.cfg.callTimeout(), t.logger)

	hctx, cancel := context.WithTimeout(ctx, t.cfg.startTimeout())
	defer cancel()
	snap, err := handshake(hctx, conn)
	if err != nil {
		_ = stdin.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("%w: handshake with %q: %v", ErrStartFailed, t.cfg.Command, err)
	}

	// Reap the child once readLoop has drained its stdout. Waiting for
	// conn.done first keeps cmd.Wait from closing the pipe while frames
	// are still being read.
	exited := make(chan error, 1)
	go func() {
		<-conn.done
		exited <- cmd.Wait()
	}()

	t.mu.Lock()
	t.cmd = cmd
	t.stdin = stdin
	t.conn = conn
	t.catalog = snap
	t.closed = false
	t.exited = exited
	t.mu.Unlock()

	t.logger.Debug("stdio server ready",
		"command", t.cfg.Command, "server", snap.serverName, "tools", len(snap.tools))
	return nil
}

func (t *StdioTransport) snapshot() *catalogSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.catalog
}

// Tools returns the tools cached at Connect.
func (t *StdioTransport) Tools() []ToolInfo {
	if snap := t.snapshot(); snap != nil {
		return snap.tools
	}
	return nil
}

// Resources returns the resources cached at Connect.
func (t *StdioTransport) Resources() []Resource {
	if snap := t.snapshot(); snap != nil {
		return snap.resources
	}
	return nil
}

// Prompts returns the prompts cached at Connect.
func (t *StdioTransport) Prompts() []Prompt {
	if snap := t.snapshot(); snap != nil {
		return snap.prompts
	}
	return nil
}

// Ready reports whether the subprocess is running and reachable.
func (t *StdioTransport) Ready() bool {
	t.mu.Lock()
	conn := t.conn
	closed := t.closed
	t.mu.Unlock()
	if conn == nil || closed {
		return false
	}
	select {
	case <-conn.done:
		return false
	default:
		return true
	}
}

// CallTool invokes a tool on the subprocess. A per-call timeout failure
// leaves the process running; the eventual late reply is discarded.
func (t *StdioTransport) CallTool(ctx context.Context, name string, args map[string]any) (*ToolCallResult, error) {
	conn, err := t.liveConn()
	if err != nil {
		return nil, err
	}
	raw, err := conn.call(ctx, methodToolsCall, toolCallParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	return decodeToolResult(raw)
}

// ReadResource reads a resource by URI from the subprocess.
func (t *StdioTransport) ReadResource(ctx context.Context, uri string) (string, error) {
	conn, err := t.liveConn()
	if err != nil {
		return "", err
	}
	raw, err := conn.call(ctx, methodResourcesRead, map[string]any{"uri": uri})
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

func (t *StdioTransport) liveConn() (*stdioConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || t.closed {
		return nil, ErrNotConnected
	}
	return t.conn, nil
}

// Close requests graceful termination by closing stdin, waits a bounded
// grace period for the child to exit, and force-kills on timeout. All
// outstanding calls fail with ErrSessionClosed.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	if t.closed || t.cmd == nil {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cmd := t.cmd
	stdin := t.stdin
	conn := t.conn
	exited := t.exited
	t.mu.Unlock()

	conn.pending.failAll(ErrSessionClosed)
	_ = stdin.Close()

	select {
	case <-exited:
	case <-time.After(DefaultStopGrace):
		t.logger.Warn("stdio server did not exit, killing", "command", t.cfg.Command)
		_ = cmd.Process.Kill()
		<-exited
	}
	return nil
}
