package mcp

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func respWithID(id int64, result string) response {
	return response{
		JSONRPC: jsonrpcVersion,
		ID:      &id,
		Result:  json.RawMessage(result),
	}
}

func TestPendingCallsDeliverMatchesByID(t *testing.T) {
	p := newPendingCalls()
	id1, ch1, err := p.register()
	require.NoError(t, err)
	id2, ch2, err := p.register()
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	// Out-of-order delivery still lands on the right waiter.
	assert.True(t, p.deliver(respWithID(id2, `"second"`)))
	assert.True(t, p.deliver(respWithID(id1, `"first"`)))

	res1 := <-ch1
	require.NoError(t, res1.err)
	assert.Equal(t, json.RawMessage(`"first"`), res1.resp.Result)

	res2 := <-ch2
	require.NoError(t, res2.err)
	assert.Equal(t, json.RawMessage(`"second"`), res2.resp.Result)
	assert.Zero(t, p.outstanding())
}

func TestPendingCallsDeliverUnknownID(t *testing.T) {
	p := newPendingCalls()
	assert.False(t, p.deliver(respWithID(99, `{}`)))

	// A frame without an id is a notification, never a response.
	assert.False(t, p.deliver(response{JSONRPC: jsonrpcVersion, Result: json.RawMessage(`{}`)}))
}

func TestPendingCallsDeliverAtMostOnce(t *testing.T) {
	p := newPendingCalls()
	id, ch, err := p.register()
	require.NoError(t, err)
	assert.True(t, p.deliver(respWithID(id, `{}`)))
	assert.False(t, p.deliver(respWithID(id, `{}`)), "duplicate reply must be discarded")
	<-ch
}

func TestPendingCallsDropDiscardsLateReply(t *testing.T) {
	p := newPendingCalls()
	id, ch, err := p.register()
	require.NoError(t, err)
	p.drop(id)
	assert.False(t, p.deliver(respWithID(id, `{}`)))
	select {
	case <-ch:
		t.Fatal("dropped waiter must not receive anything")
	default:
	}
}

func TestPendingCallsFailAll(t *testing.T) {
	p := newPendingCalls()
	boom := errors.New("process died")

	var chans []chan callResult
	for i := 0; i < 3; i++ {
		_, ch, err := p.register()
		require.NoError(t, err)
		chans = append(chans, ch)
	}
	p.failAll(boom)

	for _, ch := range chans {
		res := <-ch
		assert.ErrorIs(t, res.err, boom)
	}

	// Registration after failure reports the error immediately, before
	// the caller has a chance to touch the wire.
	_, _, err := p.register()
	assert.ErrorIs(t, err, boom)

	// reset clears the failure for a fresh connection.
	p.reset()
	id, ch, err := p.register()
	require.NoError(t, err)
	assert.True(t, p.deliver(respWithID(id, `{}`)))
	res := <-ch
	assert.NoError(t, res.err)
}

func TestPendingCallsConcurrentRegisterUniqueIDs(t *testing.T) {
	p := newPendingCalls()
	const n = 100

	var mu sync.Mutex
	seen := make(map[int64]bool)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _, err := p.register()
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
	assert.Equal(t, n, p.outstanding())
}

func TestResponseIsResponse(t *testing.T) {
	id := int64(1)
	assert.True(t, (&response{ID: &id, Result: json.RawMessage(`{}`)}).isResponse())
	assert.True(t, (&response{ID: &id, Error: &rpcError{Code: -32000}}).isResponse())
	assert.False(t, (&response{Method: "notifications/progress"}).isResponse())
	assert.False(t, (&response{ID: &id}).isResponse())
}

func TestRPCErrorMessage(t *testing.T) {
	err := &rpcError{Code: codeMethodNotFound, Message: "method not found"}
	assert.Equal(t, "jsonrpc error -32601: method not found", err.Error())
}
