package mcp

import "errors"

// Sentinel errors for the mcp package.
var (
	// ErrStartFailed is returned when a tool server could not be started:
	// missing binary, spawn failure, or a failed initial handshake.
	ErrStartFailed = errors.New("mcp: server start failed")

	// ErrTimeout is returned when a handshake or call exceeds its deadline.
	// The underlying session is left intact; a late reply is discarded.
	ErrTimeout = errors.New("mcp: request timed out")

	// ErrProtocol is returned for malformed frames and JSON-RPC error
	// responses from the server.
	ErrProtocol = errors.New("mcp: protocol error")

	// ErrServerNotFound is returned when referencing a server key that has
	// no live session in the Manager.
	ErrServerNotFound = errors.New("mcp: server not found")

	// ErrServerExists is returned when starting a server key that already
	// has a live session.
	ErrServerExists = errors.New("mcp: server already running")

	// ErrToolNotFound is returned when a tool name cannot be resolved on
	// the target server.
	ErrToolNotFound = errors.New("mcp: tool not found")

	// ErrInvalidConfig is returned when a ServerConfig is missing required
	// fields for its transport type.
	ErrInvalidConfig = errors.New("mcp: invalid server config")

	// ErrNotConnected is returned when using a transport before Connect or
	// after Close.
	ErrNotConnected = errors.New("mcp: server not connected")

	// ErrSessionClosed fails all outstanding calls when a session is
	// stopped or its process exits.
	ErrSessionClosed = errors.New("mcp: session closed")
)
