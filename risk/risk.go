// Package risk classifies proposed tool calls and decides which of them
// need human confirmation before they run.
package risk

import (
	"encoding/json"
	"strings"
)

// Level grades how dangerous a proposed tool call looks.
type Level int

const (
	Low Level = iota
	Medium
	High
	Critical
)

// String returns the level's canonical upper-case name.
func (l Level) String() string {
	switch l {
	case Critical:
		return "CRITICAL"
	case High:
		return "HIGH"
	case Medium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// ParseLevel resolves a level name, case-insensitively. Unknown names
// map to Low.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL":
		return Critical
	case "HIGH":
		return High
	case "MEDIUM":
		return Medium
	default:
		return Low
	}
}

// MarshalJSON encodes the level as its name.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON decodes a level name.
func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*l = ParseLevel(s)
	return nil
}

// Tiered keyword sets matched against the tokens of a tool call's name,
// description, and argument text. A token match at a higher tier always
// wins over a match at a lower one.
var (
	criticalKeywords = []string{
		"delete", "remove", "destroy", "drop", "wipe", "erase",
		"format", "kill", "terminate", "shutdown", "rm", "truncate",
	}
	highKeywords = []string{
		"write", "create", "update", "modify", "move", "rename",
		"execute", "exec", "run", "shell", "command",
		"deploy", "install", "push", "upload", "send", "publish",
		"pay", "transfer", "grant", "revoke",
	}
	mediumKeywords = []string{
		"fetch", "download", "clone", "post", "request", "browse", "navigate",
	}
)

// Assess grades a proposed tool call by scanning its bare name,
// description, and argument text against the tiered keyword sets. The
// highest matching tier wins; no keyword match means Low. Assess is a
// pure function of its inputs.
func Assess(toolName, description string, args map[string]any) Level {
	tokens := tokenSet(toolName, description, argText(args))

	level := Low
	for _, kw := range mediumKeywords {
		if tokens[kw] {
			level = Medium
			break
		}
	}
	for _, kw := range highKeywords {
		if tokens[kw] {
			level = High
			break
		}
	}
	for _, kw := range criticalKeywords {
		if tokens[kw] {
			return Critical
		}
	}
	return level
}

func argText(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return string(raw)
}

// tokenSet lowercases the inputs and splits them on every non-alphanumeric
// boundary, so "delete_file" and "DeleteFile" both yield a "delete" token
// while "dropbox" does not yield "drop".
func tokenSet(parts ...string) map[string]bool {
	set := make(map[string]bool)
	for _, p := range parts {
		lower := strings.ToLower(p)
		start := -1
		for i := 0; i <= len(lower); i++ {
			alnum := i < len(lower) && (lower[i] >= 'a' && lower[i] <= 'z' || lower[i] >= '0' && lower[i] <= '9')
			if alnum {
				if start < 0 {
					start = i
				}
				continue
			}
			if start >= 0 {
				set[lower[start:i]] = true
				start = -1
			}
		}
		// camelCase boundaries in the original casing
		for _, tok := range splitCamel(p) {
			set[strings.ToLower(tok)] = true
		}
	}
	return set
}

func splitCamel(s string) []string {
	var out []string
	start := 0
	for i := 1; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' && s[i-1] >= 'a' && s[i-1] <= 'z' {
			out = append(out, s[start:i])
			start = i
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
