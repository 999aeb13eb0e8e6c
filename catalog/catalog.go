// Package catalog aggregates tool listings from every connected server
// into a single namespaced catalog the LLM can draw from.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/armatrix/toolhost/mcp"
)

// Separator joins the server key and bare tool name into a namespaced
// catalog name. Server keys must not contain it; bare tool names may.
const Separator = "__"

// ErrBadName is returned when a namespaced name has no separator or an
// empty server/tool component.
var ErrBadName = errors.New("catalog: malformed tool name")

// Descriptor is one entry in the aggregated catalog.
type Descriptor struct {
	// Name is the namespaced catalog name, {server}__{tool}.
	Name string `json:"name"`
	// Server is the key of the owning server.
	Server string `json:"server"`
	// Tool is the bare name the server itself advertises.
	Tool string `json:"tool"`

	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Namespaced builds the catalog name for a tool on a server.
func Namespaced(server, tool string) string {
	return server + Separator + tool
}

// Split resolves a namespaced name back to its server key and bare tool
// name. The split is on the FIRST separator, so bare tool names may
// themselves contain "__".
func Split(name string) (server, tool string, err error) {
	server, tool, ok := strings.Cut(name, Separator)
	if !ok || server == "" || tool == "" {
		return "", "", fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return server, tool, nil
}

// ValidServerKey reports whether key can safely own catalog entries.
// Keys containing the separator would make Split ambiguous.
func ValidServerKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty server key", ErrBadName)
	}
	if strings.Contains(key, Separator) {
		return fmt.Errorf("%w: server key %q contains %q", ErrBadName, key, Separator)
	}
	return nil
}

// Aggregate builds the catalog from every ready session, sorted by
// namespaced name. Two servers advertising the same bare tool name never
// collide because the server key prefixes each entry.
func Aggregate(sessions []*mcp.Session) []Descriptor {
	var out []Descriptor
	for _, sess := range sessions {
		for _, t := range sess.Tools() {
			out = append(out, Descriptor{
				Name:        Namespaced(sess.Key, t.Name),
				Server:      sess.Key,
				Tool:        t.Name,
				Description: t.Description,
				InputSchema: t.InputSchema,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Provider selects the wire shape FormatFor emits.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// FormatFor renders catalog entries in the provider's tool-definition
// shape. Descriptions are prefixed with the owning server so the model
// can tell otherwise identically named tools apart.
func FormatFor(p Provider, tools []Descriptor) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(tools))
	for _, d := range tools {
		schema := d.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		desc := Annotate(d)

		var entry any
		switch p {
		case ProviderAnthropic:
			entry = map[string]any{
				"name":         d.Name,
				"description":  desc,
				"input_schema": schema,
			}
		case ProviderOpenAI:
			entry = map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        d.Name,
					"description": desc,
					"parameters":  schema,
				},
			}
		default:
			return nil, fmt.Errorf("catalog: unknown provider %q", p)
		}

		raw, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("catalog: format %s: %w", d.Name, err)
		}
		out = append(out, raw)
	}
	return out, nil
}

// Annotate prefixes a tool description with its owning server, so the
// model can tell otherwise identically named tools apart.
func Annotate(d Descriptor) string {
	prefix := "[" + d.Server + "] "
	if d.Description == "" {
		return prefix + d.Tool
	}
	return prefix + d.Description
}
