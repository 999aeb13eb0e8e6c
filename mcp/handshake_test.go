package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCaller scripts responses per method for handshake tests.
type fakeCaller struct {
	results  map[string]string
	errs     map[string]error
	called   []string
	notified []string
}

func (f *fakeCaller) call(_ context.Context, method string, _ any) (json.RawMessage, error) {
	f.called = append(f.called, method)
	if err, ok := f.errs[method]; ok {
		return nil, err
	}
	res, ok := f.results[method]
	if !ok {
		return nil, fmt.Errorf("unscripted method %q", method)
	}
	return json.RawMessage(res), nil
}

func (f *fakeCaller) notify(_ context.Context, method string, _ any) error {
	f.notified = append(f.notified, method)
	return nil
}

func fullCatalogCaller() *fakeCaller {
	return &fakeCaller{results: map[string]string{
		methodInitialize:    `{"protocolVersion":"2024-11-05","serverInfo":{"name":"srv","version":"1.0"}}`,
		methodToolsList:     `{"tools":[{"name":"search","description":"d","inputSchema":{"type":"object"}}]}`,
		methodResourcesList: `{"resources":[{"uri":"doc://a","name":"a"}]}`,
		methodPromptsList:   `{"prompts":[{"name":"p"}]}`,
	}}
}

func TestHandshakeFullCatalog(t *testing.T) {
	c := fullCatalogCaller()
	snap, err := handshake(context.Background(), c)
	require.NoError(t, err)

	assert.Equal(t, "srv", snap.serverName)
	require.Len(t, snap.tools, 1)
	assert.Equal(t, "search", snap.tools[0].Name)
	require.Len(t, snap.resources, 1)
	assert.Equal(t, "doc://a", snap.resources[0].URI)
	require.Len(t, snap.prompts, 1)

	// initialized notification goes out between initialize and the lists.
	assert.Equal(t, []string{methodInitialized}, c.notified)
	assert.Equal(t, []string{methodInitialize, methodToolsList, methodResourcesList, methodPromptsList}, c.called)
}

func TestHandshakeToleratesMissingOptionalMethods(t *testing.T) {
	c := fullCatalogCaller()
	c.errs = map[string]error{
		methodResourcesList: &rpcError{Code: codeMethodNotFound, Message: "method not found"},
		methodPromptsList:   errors.New("server says: method not found"),
	}

	snap, err := handshake(context.Background(), c)
	require.NoError(t, err)
	assert.Empty(t, snap.resources)
	assert.Empty(t, snap.prompts)
	require.Len(t, snap.tools, 1)
}

func TestHandshakeInitializeFailure(t *testing.T) {
	c := fullCatalogCaller()
	c.errs = map[string]error{methodInitialize: errors.New("connection refused")}

	_, err := handshake(context.Background(), c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initialize")
	assert.Empty(t, c.notified)
}

func TestHandshakeToolsListFailureIsFatal(t *testing.T) {
	c := fullCatalogCaller()
	c.errs = map[string]error{methodToolsList: &rpcError{Code: -32000, Message: "overloaded"}}

	_, err := handshake(context.Background(), c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tools/list")
}

func TestIsMethodNotFound(t *testing.T) {
	assert.True(t, isMethodNotFound(&rpcError{Code: codeMethodNotFound, Message: "nope"}))
	assert.True(t, isMethodNotFound(fmt.Errorf("wrapped: %w", &rpcError{Code: codeMethodNotFound})))
	assert.True(t, isMethodNotFound(errors.New("method not found")))
	assert.False(t, isMethodNotFound(&rpcError{Code: -32000, Message: "busy"}))
	assert.False(t, isMethodNotFound(errors.New("timeout")))
}

func TestDecodeToolResult(t *testing.T) {
	res, err := decodeToolResult(json.RawMessage(
		`{"content":[{"type":"text","text":"part one "},{"type":"image","data":"x"},{"type":"text","text":"part two"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "part one part two", res.Content)
	assert.False(t, res.IsError)

	res, err = decodeToolResult(json.RawMessage(`{"content":[{"type":"text","text":"boom"}],"isError":true}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "boom", res.Content)

	_, err = decodeToolResult(json.RawMessage(`not json`))
	assert.ErrorIs(t, err, ErrProtocol)
}
