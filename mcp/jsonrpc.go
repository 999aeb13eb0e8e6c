package mcp

import (
	"encoding/json"
	"fmt"
	"sync"
)

const jsonrpcVersion = "2.0"

// request is a JSON-RPC 2.0 request or, when ID is nil, a notification.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// response is a JSON-RPC 2.0 response. Exactly one of Result and Error is set.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// isResponse reports whether the frame correlates to an outbound call.
// Frames without an id are server-initiated notifications.
func (r *response) isResponse() bool {
	return r.ID != nil && (r.Result != nil || r.Error != nil)
}

// rpcError is the error member of a JSON-RPC response.
type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// JSON-RPC error code for an unimplemented method. Servers commonly return
// this for resources/list or prompts/list; the handshake tolerates it.
const codeMethodNotFound = -32601

// callResult is what a waiter receives: either a matched response or a
// transport-level failure.
type callResult struct {
	resp response
	err  error
}

// pendingCalls correlates in-flight request ids to their waiters. Ids are
// allocated monotonically per session; each id is delivered to at most one
// waiter, and late replies whose waiter is gone are discarded.
type pendingCalls struct {
	mu      sync.Mutex
	nextID  int64
	waiters map[int64]chan callResult
	failed  error
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{waiters: make(map[int64]chan callResult)}
}

// register allocates the next request id and a buffered waiter channel.
// If the session has already failed it returns that failure instead, so
// the caller never attempts a write on a dead connection.
func (p *pendingCalls) register() (int64, chan callResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failed != nil {
		return 0, nil, p.failed
	}
	p.nextID++
	id := p.nextID
	ch := make(chan callResult, 1)
	p.waiters[id] = ch
	return id, ch, nil
}

// deliver routes a response to its waiter. Returns false when no waiter is
// registered for the id (a late reply after timeout, or a duplicate).
func (p *pendingCalls) deliver(resp response) bool {
	if resp.ID == nil {
		return false
	}
	p.mu.Lock()
	ch, ok := p.waiters[*resp.ID]
	if ok {
		delete(p.waiters, *resp.ID)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- callResult{resp: resp}
	return true
}

// drop removes a waiter without delivering anything, used when a call times
// out. A reply arriving later finds no waiter and is discarded.
func (p *pendingCalls) drop(id int64) {
	p.mu.Lock()
	delete(p.waiters, id)
	p.mu.Unlock()
}

// failAll delivers err to every outstanding waiter and marks the table so
// subsequent registrations fail immediately. Used on process death, stream
// loss, and session stop.
func (p *pendingCalls) failAll(err error) {
	p.mu.Lock()
	waiters := p.waiters
	p.waiters = make(map[int64]chan callResult)
	p.failed = err
	p.mu.Unlock()
	for _, ch := range waiters {
		ch <- callResult{err: err}
	}
}

// reset clears a previous failure so the table can be reused after a
// successful reconnect.
func (p *pendingCalls) reset() {
	p.mu.Lock()
	p.failed = nil
	p.mu.Unlock()
}

// outstanding returns the number of in-flight calls.
func (p *pendingCalls) outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}
