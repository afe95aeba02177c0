package rules

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apply(t *testing.T, name, input string) string {
	t.Helper()
	for _, rule := range Default(Options{}) {
		if rule.Name != name {
			continue
		}
		out, err := rule.Apply(input)
		require.NoError(t, err)
		return out
	}
	t.Fatalf("rule %s not found", name)
	return ""
}

func TestDefaultOrder(t *testing.T) {
	t.Parallel()

	want := []string{
		"unwrap-nested-image-link",
		"close-incomplete-link",
		"canonicalize-path-separators",
		"decode-safe-percent",
		"strip-image-markup",
		"strip-link-markup",
		"strip-emphasis-markup",
		"collapse-whitespace",
		"enforce-length-ceiling",
	}
	got := make([]string, 0, len(want))
	for _, rule := range Default(Options{}) {
		got = append(got, rule.Name)
	}
	assert.Equal(t, want, got)
}

func TestUnwrapNestedImageLink(t *testing.T) {
	t.Parallel()

	cases := []struct{ name, in, want string }{
		{"closed construct", "[![alt](b.svg)](https://t)", "[alt](https://t)"},
		{"unclosed outer stays open for the closer", "[![alt](b.svg)](https://t", "[alt](https://t"},
		{"plain link untouched", "[alt](https://t)", "[alt](https://t)"},
		{"inner bracket stops at first paren", "[![a](b)x](t)", "[![a](b)x](t)"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, apply(t, "unwrap-nested-image-link", tc.in))
		})
	}
}

func TestCloseIncompleteLink(t *testing.T) {
	t.Parallel()

	cases := []struct{ name, in, want string }{
		{"line end", "see [doc](https://x", "see [doc](https://x)"},
		{"start of line", "[doc](https://x", "[doc](https://x)"},
		{"already closed", "see [doc](https://x)", "see [doc](https://x)"},
		{"image form excluded", "![doc](https://x", "![doc](https://x"},
		{"per line", "[a](x\n[b](y", "[a](x)\n[b](y)"},
		{"paren inside target not closed", "[a](x (y", "[a](x (y"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, apply(t, "close-incomplete-link", tc.in))
		})
	}
}

func TestCanonicalizePathSeparators(t *testing.T) {
	t.Parallel()

	cases := []struct{ name, in, want string }{
		{"double", `C:\\temp`, "C:/temp"},
		{"quadruple collapses to one", `C:\\\\temp`, "C:/temp"},
		{"single backslash kept", `line \n escape`, `line \n escape`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, apply(t, "canonicalize-path-separators", tc.in))
		})
	}
}

func TestDecodeSafePercent(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a+b", apply(t, "decode-safe-percent", "a%2Bb"))
	assert.Equal(t, "%20%3D stays", apply(t, "decode-safe-percent", "%20%3D stays"))
	assert.Equal(t, "%2b lowercase stays", apply(t, "decode-safe-percent", "%2b lowercase stays"))
}

func TestStripImageAndLinkMarkup(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "alt", apply(t, "strip-image-markup", "![alt](u)"))
	assert.Equal(t, "", apply(t, "strip-image-markup", "![](u)"))
	assert.Equal(t, "label", apply(t, "strip-link-markup", "[label](u)"))
	assert.Equal(t, "label", apply(t, "strip-link-markup", "[label]()"))
	assert.Equal(t, "[](u)", apply(t, "strip-link-markup", "[](u)"))
}

func TestStripEmphasisMarkup(t *testing.T) {
	t.Parallel()

	cases := []struct{ name, in, want string }{
		{"bold", "**hot**", "hot"},
		{"inline code", "run `ls -la` now", "run ls -la now"},
		{"heading", "# Title", "Title"},
		{"stacked heading run", "## # Title", "Title"},
		{"hash mid-line kept", "a # b", "a # b"},
		{"triple star leaves singles", "***a***", "*a*"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, apply(t, "strip-emphasis-markup", tc.in))
		})
	}
}

func TestCollapseWhitespace(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a b", apply(t, "collapse-whitespace", "a \t  b"))
	assert.Equal(t, "a\n\nb", apply(t, "collapse-whitespace", "a\n\n\n\n\nb"))
	assert.Equal(t, "a\n\nb", apply(t, "collapse-whitespace", "a\n\nb"))
}

func TestEnforceLengthCeiling(t *testing.T) {
	t.Parallel()

	t.Run("under ceiling untouched", func(t *testing.T) {
		t.Parallel()
		in := strings.Repeat("x", 500)
		assert.Equal(t, in, apply(t, "enforce-length-ceiling", in))
	})

	t.Run("plain content cut with ellipsis", func(t *testing.T) {
		t.Parallel()
		out := apply(t, "enforce-length-ceiling", strings.Repeat("x", 501))
		assert.Equal(t, 500, len(out))
		assert.True(t, strings.HasSuffix(out, "..."))
	})

	t.Run("cut lands on a rune boundary", func(t *testing.T) {
		t.Parallel()
		out := apply(t, "enforce-length-ceiling", strings.Repeat("界", 200))
		assert.LessOrEqual(t, len(out), 500)
		assert.True(t, strings.HasSuffix(out, "..."))
		for _, part := range strings.Split(strings.TrimSuffix(out, "..."), "") {
			assert.NotEqual(t, "\uFFFD", part)
		}
	})

	t.Run("header keeps first two lines", func(t *testing.T) {
		t.Parallel()
		in := "name: reader\nsecond line that is short\n" + strings.Repeat("tail ", 200)
		out := apply(t, "enforce-length-ceiling", in)
		assert.Equal(t, "name: reader\nsecond line that is short\n[content truncated]", out)
	})

	t.Run("header detail line cut to budget", func(t *testing.T) {
		t.Parallel()
		in := "name: reader\n" + strings.Repeat("d", 600)
		out := apply(t, "enforce-length-ceiling", in)
		lines := strings.Split(out, "\n")
		require.Len(t, lines, 3)
		// budget is ceiling minus name line minus ten
		assert.Equal(t, 500-len("name: reader")-10, len(lines[1]))
		assert.True(t, strings.HasSuffix(lines[1], "..."))
		assert.Equal(t, "[content truncated]", lines[2])
	})

	t.Run("single line header falls back to plain cut", func(t *testing.T) {
		t.Parallel()
		out := apply(t, "enforce-length-ceiling", "name: "+strings.Repeat("y", 600))
		assert.Equal(t, 500, len(out))
		assert.True(t, strings.HasSuffix(out, "..."))
	})
}

func TestOptionsDefaultCeiling(t *testing.T) {
	t.Parallel()

	out := apply(t, "enforce-length-ceiling", strings.Repeat("z", DefaultMaxContentLength+1))
	assert.Equal(t, DefaultMaxContentLength, len(out))
}
