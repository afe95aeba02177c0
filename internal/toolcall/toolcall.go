// Package toolcall repairs assistant tool_calls arrays so strict providers
// accept them: ids and types are filled in, function names are lowercased,
// and arguments are forced back into a compact JSON object string. Repairs
// are surgical; fields the normalizer does not own are left byte-identical.
package toolcall

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/router-for-me/chatscrub/internal/payload"
	"github.com/router-for-me/chatscrub/internal/util/callid"
)

const emptyArguments = "{}"

var errNotArray = errors.New("toolcall: tool calls must be a JSON array")

// Recovery records one lossy repair: the original value could not be kept
// and a safe substitute was written instead.
type Recovery struct {
	Index  int    `json:"index"`
	CallID string `json:"call_id,omitempty"`
	Reason string `json:"reason"`
}

// Report summarizes one Normalize run.
type Report struct {
	// Calls is the number of elements in the array.
	Calls int `json:"calls"`
	// Changed is the number of elements that needed at least one repair.
	Changed int `json:"changed"`
	// Recovered lists the lossy repairs.
	Recovered []Recovery `json:"recovered,omitempty"`
}

// FormatError describes the first defect Validate finds. Index is -1 when
// the array itself is unusable.
type FormatError struct {
	Index  int
	Detail string
}

func (e *FormatError) Error() string {
	if e.Index < 0 {
		return "toolcall: " + e.Detail
	}
	return fmt.Sprintf("toolcall: call %d: %s", e.Index, e.Detail)
}

// Normalize repairs a tool_calls array in place. A missing type defaults to
// function, a missing or unsafe id is regenerated, function names are
// lowercased, and arguments are re-serialized compact with key order kept
// and any top-level description dropped. Arguments that do not parse as a
// JSON object are replaced with {} and the loss is recorded in the report.
func Normalize(calls []byte) ([]byte, Report, error) {
	var report Report
	if !gjson.ValidBytes(calls) {
		return calls, report, errNotArray
	}
	parsed := gjson.ParseBytes(calls)
	if !parsed.IsArray() {
		return calls, report, errNotArray
	}

	out := calls
	for i, el := range parsed.Array() {
		report.Calls++
		if !el.IsObject() {
			report.Recovered = append(report.Recovered, Recovery{
				Index:  i,
				Reason: "tool call is not an object",
			})
			continue
		}

		var (
			err     error
			changed bool
			prefix  = strconv.Itoa(i)
		)

		if typ := el.Get("type"); !typ.Exists() || (typ.Type == gjson.String && typ.Str == "") {
			if out, err = sjson.SetBytes(out, prefix+".type", "function"); err != nil {
				return calls, report, fmt.Errorf("toolcall: call %d: set type: %w", i, err)
			}
			changed = true
		}

		id := el.Get("id")
		current := ""
		if id.Type == gjson.String {
			current = id.Str
		}
		ensured := callid.Ensure(current)
		if ensured != current {
			if out, err = sjson.SetBytes(out, prefix+".id", ensured); err != nil {
				return calls, report, fmt.Errorf("toolcall: call %d: set id: %w", i, err)
			}
			changed = true
		}

		name := el.Get("function.name")
		lowered := ""
		if name.Type == gjson.String {
			lowered = strings.ToLower(name.Str)
		} else if name.Exists() {
			report.Recovered = append(report.Recovered, Recovery{
				Index:  i,
				CallID: ensured,
				Reason: "function.name was not a string",
			})
		}
		if name.Type != gjson.String || lowered != name.Str {
			if out, err = sjson.SetBytes(out, prefix+".function.name", lowered); err != nil {
				return calls, report, fmt.Errorf("toolcall: call %d: set name: %w", i, err)
			}
			changed = true
		}

		args := el.Get("function.arguments")
		text, isString := argumentsText(args)
		fixed, lost := normalizeArguments(text)
		if lost {
			report.Recovered = append(report.Recovered, Recovery{
				Index:  i,
				CallID: ensured,
				Reason: "arguments did not parse as a JSON object; replaced with {}",
			})
		}
		if !isString || fixed != text {
			if out, err = sjson.SetBytes(out, prefix+".function.arguments", fixed); err != nil {
				return calls, report, fmt.Errorf("toolcall: call %d: set arguments: %w", i, err)
			}
			changed = true
		}

		if changed {
			report.Changed++
		}
	}
	return out, report, nil
}

// argumentsText extracts the arguments payload as text. String values are
// taken verbatim; anything else present is handed over raw so the loss of a
// non-object shape is recorded rather than silent.
func argumentsText(args gjson.Result) (string, bool) {
	switch {
	case !args.Exists(), args.Type == gjson.Null:
		return "", false
	case args.Type == gjson.String:
		return args.Str, true
	default:
		return args.Raw, false
	}
}

// normalizeArguments returns the canonical compact form of an arguments
// payload and whether the original content had to be thrown away.
func normalizeArguments(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return emptyArguments, false
	}
	if !gjson.Valid(trimmed) {
		return emptyArguments, true
	}
	parsed := gjson.Parse(trimmed)
	if !parsed.IsObject() {
		return emptyArguments, true
	}
	if parsed.Get("description").Exists() {
		cleaned, err := sjson.Delete(trimmed, "description")
		if err != nil {
			return emptyArguments, true
		}
		trimmed = cleaned
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(trimmed)); err != nil {
		return emptyArguments, true
	}
	return buf.String(), false
}

// Validate reports the first defect that would make a strict provider
// reject the array. A nil return means Normalize would change nothing a
// provider cares about.
func Validate(calls []byte) error {
	if !gjson.ValidBytes(calls) {
		return &FormatError{Index: -1, Detail: "not valid JSON"}
	}
	parsed := gjson.ParseBytes(calls)
	if !parsed.IsArray() {
		return &FormatError{Index: -1, Detail: "tool calls must be a JSON array"}
	}
	for i, el := range parsed.Array() {
		if !el.IsObject() {
			return &FormatError{Index: i, Detail: "tool call is not an object"}
		}
		if id := el.Get("id"); id.Type != gjson.String || id.Str == "" {
			return &FormatError{Index: i, Detail: "id is missing or empty"}
		}
		if !el.Get("type").Exists() {
			return &FormatError{Index: i, Detail: "missing type"}
		}
		if !el.Get("function").IsObject() {
			return &FormatError{Index: i, Detail: "missing function object"}
		}
		name := el.Get("function.name")
		if name.Type != gjson.String {
			return &FormatError{Index: i, Detail: "function.name is missing"}
		}
		if name.Str != strings.ToLower(name.Str) {
			return &FormatError{Index: i, Detail: "function.name must be lowercase"}
		}
		args := el.Get("function.arguments")
		if !args.Exists() {
			return &FormatError{Index: i, Detail: "function.arguments is missing"}
		}
		if args.Type != gjson.String {
			return &FormatError{Index: i, Detail: "function.arguments must be a string"}
		}
		if !gjson.Valid(args.Str) || !gjson.Parse(args.Str).IsObject() {
			return &FormatError{Index: i, Detail: "function.arguments is not a JSON object"}
		}
		if gjson.Get(args.Str, "description").Exists() {
			return &FormatError{Index: i, Detail: "function.arguments carries a description field"}
		}
	}
	return nil
}

// MessageReport ties one message's normalize report to its position.
type MessageReport struct {
	MessageIndex int `json:"message_index"`
	Report
}

// DocumentReport aggregates normalize reports across a whole document.
type DocumentReport struct {
	MessagesPath string          `json:"messages_path,omitempty"`
	Calls        int             `json:"calls"`
	Changed      int             `json:"changed"`
	Messages     []MessageReport `json:"messages,omitempty"`
}

// NormalizeDocument locates the document's message list and normalizes the
// tool_calls array of every message that carries one. Documents without
// tool calls come back unchanged.
func NormalizeDocument(doc []byte) ([]byte, DocumentReport, error) {
	return NormalizeDocumentKey(doc, "")
}

// NormalizeDocumentKey is NormalizeDocument with a custom message list key.
func NormalizeDocumentKey(doc []byte, key string) ([]byte, DocumentReport, error) {
	var report DocumentReport
	list, err := payload.LocateMessageList(doc, key)
	if err != nil {
		return doc, report, err
	}
	report.MessagesPath = list.Path

	out := doc
	for i := 0; i < list.Len(); i++ {
		calls := list.Message(i).Field("tool_calls")
		if !calls.IsArray() {
			continue
		}
		fixed, callReport, err := Normalize([]byte(calls.Raw))
		if err != nil {
			return doc, report, fmt.Errorf("toolcall: message %d: %w", i, err)
		}
		if !bytes.Equal(fixed, []byte(calls.Raw)) {
			out, err = sjson.SetRawBytes(out, list.ElementPath(i)+".tool_calls", fixed)
			if err != nil {
				return doc, report, fmt.Errorf("toolcall: message %d: write tool_calls back: %w", i, err)
			}
		}
		report.Calls += callReport.Calls
		report.Changed += callReport.Changed
		report.Messages = append(report.Messages, MessageReport{MessageIndex: i, Report: callReport})
	}
	return out, report, nil
}
