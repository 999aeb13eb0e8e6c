package risk

import (
	"encoding/json"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultConfirmationTimeout bounds how long a pending confirmation waits
// for a human before it expires.
const DefaultConfirmationTimeout = 5 * time.Minute

// Policy decides which assessed tool calls must pause for confirmation.
// Pattern rules use doublestar globs against the namespaced catalog name,
// e.g. "files__*" or "**__delete_*".
type Policy struct {
	// ConfirmLevels is the set of levels that require confirmation.
	ConfirmLevels []Level `yaml:"confirm_levels"`
	// AutoApprove patterns skip confirmation regardless of level.
	AutoApprove []string `yaml:"auto_approve"`
	// ForceConfirm patterns require confirmation regardless of level,
	// and win over AutoApprove.
	ForceConfirm []string `yaml:"force_confirm"`
	// MaxAutoApproveArgBytes forces confirmation for any call whose JSON
	// arguments exceed this size, whatever its level. Zero disables the
	// check.
	MaxAutoApproveArgBytes int `yaml:"max_auto_approve_arg_bytes"`
	// Timeout is how long a pending confirmation lives before expiring.
	Timeout time.Duration `yaml:"timeout"`
	// AllowArgumentEdit lets the approver modify the call's arguments
	// when approving.
	AllowArgumentEdit bool `yaml:"allow_argument_edit"`
}

// DefaultPolicy confirms High and Critical calls with a five minute
// timeout and no pattern overrides.
func DefaultPolicy() Policy {
	return Policy{
		ConfirmLevels:     []Level{High, Critical},
		Timeout:           DefaultConfirmationTimeout,
		AllowArgumentEdit: true,
	}
}

// ConfirmationTimeout returns the configured timeout, or the default when
// unset.
func (p Policy) ConfirmationTimeout() time.Duration {
	if p.Timeout <= 0 {
		return DefaultConfirmationTimeout
	}
	return p.Timeout
}

// RequiresConfirmation reports whether a call to the namespaced tool,
// assessed at level with the given arguments, must wait for approval.
// Rule order: ForceConfirm patterns, then AutoApprove patterns, then the
// confirm-level set, then the argument-size threshold.
func (p Policy) RequiresConfirmation(namespacedTool string, level Level, args map[string]any) bool {
	if matchAny(p.ForceConfirm, namespacedTool) {
		return true
	}
	if matchAny(p.AutoApprove, namespacedTool) {
		return false
	}
	for _, l := range p.ConfirmLevels {
		if l == level {
			return true
		}
	}
	if p.MaxAutoApproveArgBytes > 0 && len(args) > 0 {
		if raw, err := json.Marshal(args); err == nil && len(raw) > p.MaxAutoApproveArgBytes {
			return true
		}
	}
	return false
}

func matchAny(patterns []string, name string) bool {
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, name); err == nil && ok {
			return true
		}
	}
	return false
}
