// Package rules defines the ordered set of content normalization rules the
// sanitizer applies to message text. Every rule is a pure rewrite over the
// full text and a no-op when its trigger pattern is absent, so the set can be
// applied unconditionally.
package rules

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMaxContentLength is the length ceiling applied by the truncation
// rule when no other value is configured.
const DefaultMaxContentLength = 500

const (
	truncationMarker = "[content truncated]"
	ellipsisMarker   = "..."
	headerPrefix     = "name:"
)

// Match patterns use negated character classes instead of nested groups so a
// run can never backtrack past the first closing delimiter.
var (
	nestedImageLinkRegex     = regexp.MustCompile(`\[!\[([^\]]*)\]\(([^)]*)\)\]\(([^)]*)\)`)
	nestedImageLinkOpenRegex = regexp.MustCompile(`(?m)\[!\[([^\]]*)\]\(([^)]*)\)\]\(([^()\n]*)$`)
	incompleteLinkRegex      = regexp.MustCompile(`(?m)(^|[^!])\[([^\]]+)\]\(([^()\n]*)$`)
	backslashRunRegex        = regexp.MustCompile(`\\{2,}`)
	imageMarkupRegex         = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]*)\)`)
	linkMarkupRegex          = regexp.MustCompile(`\[([^\]]+)\]\(([^)]*)\)`)
	boldMarkupRegex          = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	inlineCodeRegex          = regexp.MustCompile("`([^`]+)`")
	headingMarkupRegex       = regexp.MustCompile(`(?m)^(?:#+[ \t]*)+`)
	horizontalSpaceRegex     = regexp.MustCompile(`[ \t]+`)
	newlineRunRegex          = regexp.MustCompile(`\n{3,}`)
)

// Rule is one named content rewrite. Apply must be pure. The built-in rules
// never return an error; the error path exists for caller-supplied rules
// whose implementations can fail.
type Rule struct {
	Name  string
	Apply func(string) (string, error)
}

// Options tunes the configurable rules.
type Options struct {
	// MaxContentLength is the byte ceiling enforced by the truncation rule.
	MaxContentLength int
}

func (o *Options) normalize() {
	if o.MaxContentLength <= 0 {
		o.MaxContentLength = DefaultMaxContentLength
	}
}

// Default returns the canonical ordered rule set. Order is load-bearing:
// nested constructs are unwrapped before links are flattened, markup is
// stripped before whitespace collapses, and truncation always runs last.
func Default(opts Options) []Rule {
	opts.normalize()
	maxLen := opts.MaxContentLength
	return []Rule{
		{Name: "unwrap-nested-image-link", Apply: lift(unwrapNestedImageLink)},
		{Name: "close-incomplete-link", Apply: lift(closeIncompleteLink)},
		{Name: "canonicalize-path-separators", Apply: lift(canonicalizePathSeparators)},
		{Name: "decode-safe-percent", Apply: lift(decodeSafePercent)},
		{Name: "strip-image-markup", Apply: lift(stripImageMarkup)},
		{Name: "strip-link-markup", Apply: lift(stripLinkMarkup)},
		{Name: "strip-emphasis-markup", Apply: lift(stripEmphasisMarkup)},
		{Name: "collapse-whitespace", Apply: lift(collapseWhitespace)},
		{Name: "enforce-length-ceiling", Apply: lift(func(text string) string {
			return enforceLengthCeiling(text, maxLen)
		})},
	}
}

func lift(fn func(string) string) func(string) (string, error) {
	return func(text string) (string, error) {
		return fn(text), nil
	}
}

// unwrapNestedImageLink collapses [![alt](badge)](target) into [alt](target),
// keeping the human-visible label and the navigable target. The second
// pattern handles an outer link left unclosed at end of line, so the later
// image strip cannot expose a bracket pair the close-incomplete-link rule has
// already run past.
func unwrapNestedImageLink(text string) string {
	text = nestedImageLinkRegex.ReplaceAllString(text, `[$1]($3)`)
	return nestedImageLinkOpenRegex.ReplaceAllString(text, `[$1]($3`)
}

// closeIncompleteLink closes a [label]( opened but never closed before end of
// line. Image constructs are excluded; an unclosed image never matches a
// later rule, so closing it here would make the second pass differ.
func closeIncompleteLink(text string) string {
	return incompleteLinkRegex.ReplaceAllString(text, `${1}[$2]($3)`)
}

// canonicalizePathSeparators replaces any run of two or more backslashes with
// a single forward slash. Lossy and intentional: Windows paths become POSIX
// paths for safe transport. Single backslashes are left alone.
func canonicalizePathSeparators(text string) string {
	return backslashRunRegex.ReplaceAllString(text, "/")
}

// decodeSafePercent rewrites the one percent-encoding observed to break the
// downstream parser. It is an explicit allow-list, not a general decoder;
// decoding anything more would corrupt URLs that rely on their encoding.
func decodeSafePercent(text string) string {
	return strings.ReplaceAll(text, "%2B", "+")
}

func stripImageMarkup(text string) string {
	return imageMarkupRegex.ReplaceAllString(text, "$1")
}

func stripLinkMarkup(text string) string {
	return linkMarkupRegex.ReplaceAllString(text, "$1")
}

// stripEmphasisMarkup removes bold and inline-code delimiters and leading
// heading runs. Headings are the one line-anchored rewrite; a line like
// "## # title" loses the whole run in a single pass.
func stripEmphasisMarkup(text string) string {
	text = boldMarkupRegex.ReplaceAllString(text, "$1")
	text = inlineCodeRegex.ReplaceAllString(text, "$1")
	return headingMarkupRegex.ReplaceAllString(text, "")
}

func collapseWhitespace(text string) string {
	text = horizontalSpaceRegex.ReplaceAllString(text, " ")
	return newlineRunRegex.ReplaceAllString(text, "\n\n")
}

// enforceLengthCeiling truncates content over maxLen bytes. Content that
// opens with a name: header keeps its first two lines as identifying
// metadata and replaces the remainder with a fixed marker; everything else
// is cut at the ceiling with a trailing ellipsis. The only rule that loses
// content, and always the last to run.
func enforceLengthCeiling(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	if strings.HasPrefix(text, headerPrefix) {
		if lines := strings.SplitN(text, "\n", 3); len(lines) >= 2 {
			return truncateHeaderContent(lines[0], lines[1], maxLen)
		}
	}
	return cutAtRuneBoundary(text, maxLen-len(ellipsisMarker)) + ellipsisMarker
}

// truncateHeaderContent keeps the name line intact and cuts the detail line
// to fit. The cut lands three bytes short of the detail budget so the second
// pass sees a detail line already within budget and leaves it alone.
func truncateHeaderContent(nameLine, detailLine string, maxLen int) string {
	budget := maxLen - len(nameLine) - 10
	if len(detailLine) > budget {
		detailLine = cutAtRuneBoundary(detailLine, budget-len(ellipsisMarker)) + ellipsisMarker
	}
	return nameLine + "\n" + detailLine + "\n" + truncationMarker
}

// cutAtRuneBoundary cuts text to at most limit bytes without splitting a
// UTF-8 sequence.
func cutAtRuneBoundary(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
