package payload

import (
	"fmt"
	"strings"

	"github.com/tidwall/sjson"

	"github.com/router-for-me/chatscrub/internal/analysis"
	"github.com/router-for-me/chatscrub/internal/rules"
	"github.com/router-for-me/chatscrub/internal/sanitize"
)

// Selector picks the message a patch applies to. Patch scans the located
// list from the end, so a selector matches the LAST satisfying message.
type Selector func(Message) bool

// RoleSelector matches messages by role, case-insensitively.
func RoleSelector(role string) Selector {
	want := strings.TrimSpace(role)
	return func(m Message) bool {
		return strings.EqualFold(m.Role(), want)
	}
}

// LastToolMessage selects tool results, the usual carrier of hostile
// content. Combined with Patch's reverse scan it picks the last one.
var LastToolMessage = RoleSelector("tool")

// PatchOptions tunes PatchDocument beyond the plain Patch entry point.
type PatchOptions struct {
	// Selector picks the target message. Defaults to LastToolMessage.
	Selector Selector
	// Rules is the ordered rewrite set. Defaults to rules.Default.
	Rules []rules.Rule
	// MessagesKey overrides the located key. Defaults to "messages".
	MessagesKey string
	// Analyzer tunes the hazard report taken of the original content.
	Analyzer analysis.Options
}

// PatchReport describes what Patch saw and did.
type PatchReport struct {
	MessagesPath  string                `json:"messages_path,omitempty"`
	MessageCount  int                   `json:"message_count"`
	SelectedIndex int                   `json:"selected_index"`
	SelectedRole  string                `json:"selected_role,omitempty"`
	Skipped       string                `json:"skipped,omitempty"`
	Patched       bool                  `json:"patched"`
	BytesBefore   int                   `json:"bytes_before"`
	BytesAfter    int                   `json:"bytes_after"`
	Hazards       analysis.HazardReport `json:"hazards"`
	Trace         sanitize.Trace        `json:"trace,omitempty"`

	// ContentBefore and ContentAfter hold the selected message's content
	// around the run, for diff rendering. Not serialized.
	ContentBefore string `json:"-"`
	ContentAfter  string `json:"-"`
}

// Patch sanitizes the last selector-matching message of doc's message list
// and splices the result back into the exact node it came from. The
// returned document differs from doc only in that one content field; a
// clean document comes back byte-identical. ErrNoMessages and
// ErrNoMatchingMessage return doc unchanged and are safe to ignore when
// pass-through is acceptable.
func Patch(doc []byte, sel Selector, ruleSet []rules.Rule) ([]byte, PatchReport, error) {
	return PatchDocument(doc, PatchOptions{Selector: sel, Rules: ruleSet})
}

// PatchDocument is Patch with full control over key, rules, and analyzer.
func PatchDocument(doc []byte, opts PatchOptions) ([]byte, PatchReport, error) {
	report := PatchReport{SelectedIndex: -1}
	if opts.Selector == nil {
		opts.Selector = LastToolMessage
	}
	if opts.Rules == nil {
		opts.Rules = rules.Default(rules.Options{})
	}

	list, err := LocateMessageList(doc, opts.MessagesKey)
	if err != nil {
		return doc, report, err
	}
	report.MessagesPath = list.Path
	report.MessageCount = list.Len()

	selected := -1
	for i := list.Len() - 1; i >= 0; i-- {
		if opts.Selector(list.Message(i)) {
			selected = i
			break
		}
	}
	if selected < 0 {
		return doc, report, ErrNoMatchingMessage
	}
	msg := list.Message(selected)
	report.SelectedIndex = selected
	report.SelectedRole = msg.Role()

	content, ok := msg.Content()
	if !ok {
		report.Skipped = "content is not a string"
		return doc, report, nil
	}
	report.ContentBefore = content
	report.ContentAfter = content
	report.BytesBefore = len(content)
	report.BytesAfter = len(content)
	report.Hazards = analysis.AnalyzeWithOptions(content, opts.Analyzer)

	fixed, trace, err := sanitize.Run(content, opts.Rules)
	if err != nil {
		return doc, report, fmt.Errorf("payload: message %d: %w", selected, err)
	}
	report.Trace = trace
	report.ContentAfter = fixed
	report.BytesAfter = len(fixed)
	if fixed == content {
		return doc, report, nil
	}

	patched, err := sjson.SetBytes(doc, list.ElementPath(selected)+".content", fixed)
	if err != nil {
		return doc, report, fmt.Errorf("payload: write content back: %w", err)
	}
	report.Patched = true
	return patched, report, nil
}
