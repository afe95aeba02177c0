// Package callid validates and repairs tool_call_id values before they are
// written back into a request payload.
package callid

import (
	"strings"

	"github.com/google/uuid"
)

const generatedPrefix = "call_"

// Valid reports whether a tool_call_id is safe to round-trip through a strict
// message parser. Safe IDs are non-empty and limited to [A-Za-z0-9_-], which
// also rejects the colon and asterisk forms some providers emit.
func Valid(id string) bool {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return false
	}
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// Ensure returns id unchanged when it is valid, and a freshly generated ID
// otherwise. Generated IDs carry the call_ prefix so they are recognizable in
// audit output.
func Ensure(id string) string {
	trimmed := strings.TrimSpace(id)
	if Valid(trimmed) {
		return trimmed
	}
	return New()
}

// New generates a valid tool_call_id.
func New() string {
	return generatedPrefix + uuid.New().String()
}
