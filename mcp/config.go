// Package mcp implements the client side of the Model Context Protocol:
// starting and supervising external tool servers, speaking JSON-RPC 2.0 over
// subprocess stdio or HTTP+SSE, and caching each server's tool, resource,
// and prompt catalog for aggregation by the host.
package mcp

import "time"

// TransportType identifies the MCP transport protocol.
type TransportType string

const (
	// TransportStdio communicates with a subprocess over newline-delimited
	// JSON-RPC on stdin/stdout.
	TransportStdio TransportType = "stdio"

	// TransportSSE communicates with a remote server over a persistent
	// HTTP Server-Sent Events stream plus a companion POST endpoint.
	TransportSSE TransportType = "sse"

	// TransportInProcess serves Go functions registered in this process.
	TransportInProcess TransportType = "inprocess"
)

// ServerConfig describes how to reach a single MCP server.
type ServerConfig struct {
	// Transport selects the communication protocol. When empty, stdio is
	// inferred from Command and SSE from URL.
	Transport TransportType `yaml:"transport"`

	// Command is the executable to spawn (stdio transport only).
	Command string `yaml:"command"`

	// Args are command-line arguments for the subprocess.
	Args []string `yaml:"args"`

	// Env are extra environment variables for the subprocess, appended to
	// the parent environment.
	Env map[string]string `yaml:"env"`

	// URL is the SSE stream address (network transport only).
	URL string `yaml:"url"`

	// Headers are extra HTTP headers sent on both the stream GET and the
	// companion POSTs.
	Headers map[string]string `yaml:"headers"`

	// StartTimeout bounds spawn plus handshake. Zero means
	// DefaultStartTimeout.
	StartTimeout time.Duration `yaml:"start_timeout"`

	// CallTimeout bounds each tools/call round trip. Zero means
	// DefaultCallTimeout.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// ReadTimeout is the maximum silence on the SSE stream before the
	// transport considers the connection stale and reconnects. Zero means
	// DefaultReadTimeout.
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// Timeout defaults. Start covers spawn plus the full handshake sequence.
const (
	DefaultStartTimeout = 30 * time.Second
	DefaultCallTimeout  = 60 * time.Second
	DefaultReadTimeout  = 90 * time.Second
	DefaultStopGrace    = 5 * time.Second
)

func (c ServerConfig) startTimeout() time.Duration {
	if c.StartTimeout > 0 {
		return c.StartTimeout
	}
	return DefaultStartTimeout
}

func (c ServerConfig) callTimeout() time.Duration {
	if c.CallTimeout > 0 {
		return c.CallTimeout
	}
	return DefaultCallTimeout
}

func (c ServerConfig) readTimeout() time.Duration {
	if c.ReadTimeout > 0 {
		return c.ReadTimeout
	}
	return DefaultReadTimeout
}
