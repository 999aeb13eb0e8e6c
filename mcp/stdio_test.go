package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// pipeConn wires a stdioConn to an in-test fake server over two pipes.
type pipeConn struct {
	conn *stdioConn
	// fromClient carries the client's request lines; toClient is where the
	// fake server writes reply frames.
	fromClient *bufio.Scanner
	toClient   *io.PipeWriter
}

func newPipeConn(t *testing.T, timeout time.Duration) *pipeConn {
	t.Helper()
	clientR, srvW := io.Pipe()
	srvR, clientW := io.Pipe()
	t.Cleanup(func() {
		srvW.Close()
		clientW.Close()
	})
	return &pipeConn{
		conn:       newStdioConn(clientW, clientR, timeout, testLogger()),
		fromClient: bufio.NewScanner(srvR),
		toClient:   srvW,
	}
}

func (p *pipeConn) readRequest(t *testing.T) request {
	t.Helper()
	require.True(t, p.fromClient.Scan(), "expected a request line")
	var req request
	require.NoError(t, json.Unmarshal(p.fromClient.Bytes(), &req))
	return req
}

func (p *pipeConn) reply(t *testing.T, id int64, result string) {
	t.Helper()
	p.writeLine(t, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%s}`, id, result))
}

func (p *pipeConn) writeLine(t *testing.T, line string) {
	t.Helper()
	_, err := p.toClient.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func TestStdioConnSkipsBannerLines(t *testing.T) {
	p := newPipeConn(t, time.Second)

	go func() {
		req := p.readRequest(t)
		p.writeLine(t, "fake server v1.0 starting up")
		p.writeLine(t, "listening on stdio")
		p.reply(t, *req.ID, `{"ok":true}`)
	}()

	raw, err := p.conn.call(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(raw))
}

func TestStdioConnCorrelatesOutOfOrder(t *testing.T) {
	p := newPipeConn(t, time.Second)

	go func() {
		first := p.readRequest(t)
		second := p.readRequest(t)
		// Answer in reverse arrival order.
		p.reply(t, *second.ID, fmt.Sprintf(`{"echo":%q}`, second.Method))
		p.reply(t, *first.ID, fmt.Sprintf(`{"echo":%q}`, first.Method))
	}()

	type outcome struct {
		raw json.RawMessage
		err error
	}
	alphaCh := make(chan outcome, 1)
	go func() {
		raw, err := p.conn.call(context.Background(), "alpha", nil)
		alphaCh <- outcome{raw, err}
	}()
	// Serialize the writes so the server can attribute ids to methods.
	time.Sleep(20 * time.Millisecond)
	raw, err := p.conn.call(context.Background(), "beta", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"echo":"beta"}`, string(raw))

	alpha := <-alphaCh
	require.NoError(t, alpha.err)
	assert.JSONEq(t, `{"echo":"alpha"}`, string(alpha.raw))
}

func TestStdioConnServerError(t *testing.T) {
	p := newPipeConn(t, time.Second)

	go func() {
		req := p.readRequest(t)
		p.writeLine(t, fmt.Sprintf(
			`{"jsonrpc":"2.0","id":%d,"error":{"code":-32000,"message":"tool exploded"}}`, *req.ID))
	}()

	_, err := p.conn.call(context.Background(), "tools/call", nil)
	require.ErrorIs(t, err, ErrProtocol)
	assert.Contains(t, err.Error(), "tool exploded")
}

func TestStdioConnTimeoutThenLateReplyDiscarded(t *testing.T) {
	p := newPipeConn(t, 50*time.Millisecond)

	ids := make(chan int64, 2)
	go func() {
		// Never answer the first request; answer the second promptly.
		first := p.readRequest(t)
		ids <- *first.ID
		second := p.readRequest(t)
		p.reply(t, *first.ID, `"too late"`)
		p.reply(t, *second.ID, `"prompt"`)
	}()

	_, err := p.conn.call(context.Background(), "slow", nil)
	require.ErrorIs(t, err, ErrTimeout)
	<-ids

	// The connection survives the timeout and the late reply.
	raw, err := p.conn.call(context.Background(), "fast", nil)
	require.NoError(t, err)
	assert.Equal(t, `"prompt"`, string(raw))
	assert.Zero(t, p.conn.pending.outstanding())
}

func TestStdioConnContextCancel(t *testing.T) {
	p := newPipeConn(t, time.Minute)
	go p.readRequest(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := p.conn.call(ctx, "hang", nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestStdioConnEOFFailsPending(t *testing.T) {
	p := newPipeConn(t, time.Minute)

	go func() {
		p.readRequest(t)
		p.toClient.Close() // process died
	}()

	_, err := p.conn.call(context.Background(), "doomed", nil)
	require.ErrorIs(t, err, ErrSessionClosed)

	// Calls after death fail immediately.
	start := time.Now()
	_, err = p.conn.call(context.Background(), "after", nil)
	require.ErrorIs(t, err, ErrSessionClosed)
	assert.Less(t, time.Since(start), time.Second)
}

func TestNewStdioTransportRequiresCommand(t *testing.T) {
	_, err := NewStdioTransport(ServerConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestStdioTransportSpawnFailure(t *testing.T) {
	tr, err := NewStdioTransport(ServerConfig{Command: "/nonexistent/toolhost-test-server"})
	require.NoError(t, err)
	err = tr.Connect(context.Background())
	require.ErrorIs(t, err, ErrStartFailed)
	assert.False(t, tr.Ready())
}

// helperConfig spawns this test binary re-entered as a fake MCP server.
func helperConfig(extraEnv map[string]string) ServerConfig {
	env := map[string]string{"GO_WANT_HELPER_PROCESS": "1"}
	for k, v := range extraEnv {
		env[k] = v
	}
	return ServerConfig{
		Command:      os.Args[0],
		Args:         []string{"-test.run=TestHelperProcess", "--"},
		Env:          env,
		StartTimeout: 10 * time.Second,
		CallTimeout:  5 * time.Second,
	}
}

func TestStdioTransportEndToEnd(t *testing.T) {
	tr, err := NewStdioTransport(helperConfig(nil))
	require.NoError(t, err)
	tr.SetLogger(testLogger())

	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()
	assert.True(t, tr.Ready())

	tools := tr.Tools()
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)
	assert.Empty(t, tr.Resources())
	assert.Empty(t, tr.Prompts())

	res, err := tr.CallTool(context.Background(), "echo", map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "hello", res.Content)

	res, err = tr.CallTool(context.Background(), "fail", map[string]any{})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	require.NoError(t, tr.Close())
	assert.False(t, tr.Ready())
	_, err = tr.CallTool(context.Background(), "echo", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestStdioTransportReapsDeadChild(t *testing.T) {
	tr, err := NewStdioTransport(helperConfig(nil))
	require.NoError(t, err)
	tr.SetLogger(testLogger())
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()

	// The quit tool makes the child reply and then exit on its own.
	res, err := tr.CallTool(context.Background(), "quit", nil)
	require.NoError(t, err)
	assert.Equal(t, "bye", res.Content)

	// The child is collected without anyone calling Close.
	require.Eventually(t, func() bool {
		return !tr.Ready() && len(tr.exited) == 1
	}, 5*time.Second, 10*time.Millisecond, "dead child was not reaped")

	require.NoError(t, tr.Close())
}

func TestStdioTransportHandshakeTimeout(t *testing.T) {
	cfg := helperConfig(map[string]string{"HELPER_MUTE": "1"})
	cfg.StartTimeout = 200 * time.Millisecond
	tr, err := NewStdioTransport(cfg)
	require.NoError(t, err)
	tr.SetLogger(testLogger())

	err = tr.Connect(context.Background())
	require.ErrorIs(t, err, ErrStartFailed)
	assert.False(t, tr.Ready())
}

// TestHelperProcess is not a real test: when re-executed with
// GO_WANT_HELPER_PROCESS set it acts as a newline-delimited JSON-RPC MCP
// server on stdio.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	if os.Getenv("HELPER_MUTE") == "1" {
		// Swallow everything; the client's handshake must time out.
		_, _ = io.Copy(io.Discard, os.Stdin)
		return
	}

	// Startup noise a real server might print before speaking the protocol.
	fmt.Println("fake-mcp-server starting")

	out := json.NewEncoder(os.Stdout)
	reply := func(id int64, result any) {
		_ = out.Encode(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
	}
	replyErr := func(id int64, code int, msg string) {
		_ = out.Encode(map[string]any{
			"jsonrpc": "2.0", "id": id,
			"error": map[string]any{"code": code, "message": msg},
		})
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)
	for scanner.Scan() {
		var req struct {
			ID     *int64 `json:"id"`
			Method string `json:"method"`
			Params struct {
				Name      string         `json:"name"`
				Arguments map[string]any `json:"arguments"`
			} `json:"params"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil || req.ID == nil {
			continue
		}
		switch req.Method {
		case "initialize":
			reply(*req.ID, map[string]any{
				"protocolVersion": "2024-11-05",
				"serverInfo":      map[string]any{"name": "fake", "version": "0.0.1"},
			})
		case "tools/list":
			reply(*req.ID, map[string]any{
				"tools": []map[string]any{{
					"name":        "echo",
					"description": "echoes its text argument",
					"inputSchema": map[string]any{"type": "object"},
				}},
			})
		case "resources/list", "prompts/list":
			replyErr(*req.ID, -32601, "method not found")
		case "tools/call":
			switch req.Params.Name {
			case "echo":
				text, _ := req.Params.Arguments["text"].(string)
				reply(*req.ID, map[string]any{
					"content": []map[string]any{{"type": "text", "text": text}},
					"isError": false,
				})
			case "quit":
				reply(*req.ID, map[string]any{
					"content": []map[string]any{{"type": "text", "text": "bye"}},
					"isError": false,
				})
				os.Exit(0)
			default:
				reply(*req.ID, map[string]any{
					"content": []map[string]any{{"type": "text", "text": "no such tool"}},
					"isError": true,
				})
			}
		default:
			replyErr(*req.ID, -32601, "method not found")
		}
	}
}
