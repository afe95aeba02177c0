package report_test

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/router-for-me/chatscrub/internal/analysis"
	"github.com/router-for-me/chatscrub/internal/payload"
	"github.com/router-for-me/chatscrub/internal/replay"
	"github.com/router-for-me/chatscrub/internal/report"
	"github.com/router-for-me/chatscrub/internal/sanitize"
	"github.com/router-for-me/chatscrub/internal/toolcall"
)

func mustJSONString(t *testing.T, s string) string {
	t.Helper()
	raw, err := json.Marshal(s)
	require.NoError(t, err)
	return string(raw)
}

func render(t *testing.T, in report.Input) string {
	t.Helper()
	var b strings.Builder
	require.NoError(t, report.Render(&b, in))
	return b.String()
}

func TestRenderFullRun(t *testing.T) {
	t.Parallel()

	content := "name:\tWebSearch\nSee [![img](http://img.example/a.png)](http://example.com/docs) at C:\\\\Users a%2Bb"
	doc := fmt.Sprintf(`{"messages":[{"role":"user","content":"q"},{"role":"tool","content":%s}]}`,
		mustJSONString(t, content))

	_, patch, err := payload.PatchDocument([]byte(doc), payload.PatchOptions{})
	require.NoError(t, err)
	require.True(t, patch.Patched)

	in := report.Input{
		Source: "fixture.json",
		Patch:  patch,
		ToolCalls: &toolcall.DocumentReport{
			Calls:   2,
			Changed: 1,
			Messages: []toolcall.MessageReport{{
				MessageIndex: 1,
				Report: toolcall.Report{Calls: 1, Changed: 1, Recovered: []toolcall.Recovery{
					{Index: 0, CallID: "call_1", Reason: "arguments replaced with {}"},
				}},
			}},
		},
		Verdicts: []replay.Verdict{
			{Name: replay.CandidateOriginal, Status: 422, Note: "content contains encoded plus"},
			{Name: replay.CandidateCombined, Status: 200, Accepted: true},
		},
	}
	out := render(t, in)

	assert.Contains(t, out, "scrub report: fixture.json")
	assert.Contains(t, out, "messages path:  messages")
	assert.Contains(t, out, "message count:  2")
	assert.Contains(t, out, "selected:       #1 (tool)")
	assert.Contains(t, out, "patched:        yes")

	assert.Contains(t, out, "flags:")
	for _, flag := range []string{"tab-separated-header", "nested-image-link", "doubled-backslash", "encoded-plus"} {
		assert.Contains(t, out, flag)
	}
	assert.Contains(t, out, "special chars:")
	assert.Contains(t, out, "urls (2):")

	assert.Contains(t, out, "tool calls")
	assert.Contains(t, out, "calls:   2")
	assert.Contains(t, out, "message #1, call_1: arguments replaced with {}")

	assert.Contains(t, out, "rewrite trace")
	assert.Contains(t, out, "decode-safe-percent")

	assert.Contains(t, out, "content diff")

	assert.Contains(t, out, "replay verdicts")
	assert.Contains(t, out, "rejected  content contains encoded plus")
	assert.Contains(t, out, "accepted")
}

func TestRenderDiffMarkers(t *testing.T) {
	t.Parallel()

	in := report.Input{
		Patch: payload.PatchReport{
			SelectedIndex: 0,
			Patched:       true,
			ContentBefore: "keep old text",
			ContentAfter:  "keep new text",
			Trace:         sanitize.Trace{{Rule: "strip-emphasis-markup", LengthBefore: 13, LengthAfter: 13}},
		},
	}
	out := render(t, in)
	assert.Contains(t, out, "[-old-]")
	assert.Contains(t, out, "{+new+}")
}

func TestRenderDiffOmittedWhenHuge(t *testing.T) {
	t.Parallel()

	in := report.Input{
		Patch: payload.PatchReport{
			SelectedIndex: 0,
			Patched:       true,
			ContentBefore: strings.Repeat("a", 9000),
			ContentAfter:  strings.Repeat("b", 9000),
		},
	}
	out := render(t, in)
	assert.Contains(t, out, "content diff")
	assert.Contains(t, out, "(omitted: content too large)")
	assert.NotContains(t, out, "[-")
}

func TestRenderHistogramOrder(t *testing.T) {
	t.Parallel()

	in := report.Input{
		Patch: payload.PatchReport{
			SelectedIndex: -1,
			Hazards: analysis.HazardReport{
				Length:       10,
				LineCount:    1,
				SpecialChars: map[string]int{"*": 2, "\\": 5, "%": 2},
			},
		},
	}
	out := render(t, in)

	backslash := strings.Index(out, `"\\"`)
	percent := strings.Index(out, `"%"`)
	star := strings.Index(out, `"*"`)
	require.GreaterOrEqual(t, backslash, 0)
	require.GreaterOrEqual(t, percent, 0)
	require.GreaterOrEqual(t, star, 0)
	assert.Less(t, backslash, percent, "highest count first")
	assert.Less(t, percent, star, "ties break in byte order")
}

func TestRenderListTruncation(t *testing.T) {
	t.Parallel()

	in := report.Input{
		Patch: payload.PatchReport{
			SelectedIndex: -1,
			Hazards: analysis.HazardReport{
				Length:    10,
				LineCount: 1,
				URLs: []string{
					"https://a.example/1",
					"https://a.example/2",
					"https://a.example/3",
					"https://a.example/4",
					"https://a.example/5",
				},
			},
		},
	}
	out := render(t, in)
	assert.Contains(t, out, "urls (5):")
	assert.Contains(t, out, "https://a.example/3")
	assert.NotContains(t, out, "https://a.example/4")
	assert.Contains(t, out, "... and 2 more")
}

func TestRenderSkipped(t *testing.T) {
	t.Parallel()

	in := report.Input{
		Source: "skip.json",
		Patch: payload.PatchReport{
			MessageCount:  3,
			SelectedIndex: 2,
			SelectedRole:  "tool",
			Skipped:       "content is not a string",
		},
	}
	out := render(t, in)
	assert.Contains(t, out, "skipped:        content is not a string")
	assert.NotContains(t, out, "rewrite trace")
	assert.NotContains(t, out, "content diff")
}
