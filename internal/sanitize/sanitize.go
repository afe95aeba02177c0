// Package sanitize runs an ordered rule set over message content and records
// which rules changed it.
package sanitize

import (
	"fmt"

	"github.com/router-for-me/chatscrub/internal/rules"
)

// Step records one rule application that changed the text.
type Step struct {
	Rule         string `json:"rule"`
	LengthBefore int    `json:"length_before"`
	LengthAfter  int    `json:"length_after"`
}

// Trace is the ordered list of rules that changed the text during one run.
type Trace []Step

// Rules returns the names of the rules that triggered, in application order.
func (t Trace) Rules() []string {
	if len(t) == 0 {
		return nil
	}
	names := make([]string, 0, len(t))
	for _, step := range t {
		names = append(names, step.Rule)
	}
	return names
}

// BytesRemoved returns the net byte difference across the whole run.
// Negative when a run grew the text (a closed link gains a byte).
func (t Trace) BytesRemoved() int {
	if len(t) == 0 {
		return 0
	}
	return t[0].LengthBefore - t[len(t)-1].LengthAfter
}

// Run applies each rule in order and returns the final text plus a trace of
// the rules that changed it. Empty input is returned unchanged with no trace.
// A rule error aborts the run and returns the original text untouched; no
// partially rewritten content ever escapes.
func Run(text string, ruleSet []rules.Rule) (string, Trace, error) {
	if text == "" {
		return "", nil, nil
	}
	var trace Trace
	current := text
	for _, rule := range ruleSet {
		next, err := rule.Apply(current)
		if err != nil {
			return text, nil, fmt.Errorf("sanitize: rule %s: %w", rule.Name, err)
		}
		if next != current {
			trace = append(trace, Step{Rule: rule.Name, LengthBefore: len(current), LengthAfter: len(next)})
			current = next
		}
	}
	return current, trace, nil
}

// RunDefault applies the canonical rule set.
func RunDefault(text string, opts rules.Options) (string, Trace, error) {
	return Run(text, rules.Default(opts))
}
