// Package analysis builds structural hazard reports over message content.
// Reports are diagnostic only: they decide which rewrites are relevant and
// feed human-readable output, and never mutate the text they describe.
package analysis

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultLineCeiling is the line count above which content is flagged.
const DefaultLineCeiling = 50

// Fixed vocabulary of punctuation and markup characters worth counting.
// Everything outside it is ordinary prose.
var specialCharVocabulary = []rune{
	'\t', '\n', '\r', '\\', '%', '&', '<', '>', '"', '\'',
	'[', ']', '(', ')', '{', '}', '!', '#', '*', '_',
	'`', '|', '~', '^', '+', '=', '@', '$', ';', ':',
	',', '.', '?', '/',
}

var (
	urlRegex        = regexp.MustCompile("https?://[^\\s<>\"{}|\\\\^`\\[\\]]+")
	linkPairRegex   = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	escapePairRegex = regexp.MustCompile(`\\[^\\]`)
)

// LinkPair is one [label](target) occurrence.
type LinkPair struct {
	Label  string `json:"label"`
	Target string `json:"target"`
}

// HazardFlags marks the known hazardous patterns. NonASCII is informational
// and never drives a fix.
type HazardFlags struct {
	TabSeparatedHeader bool `json:"tab_separated_header,omitempty"`
	NestedImageLink    bool `json:"nested_image_link,omitempty"`
	DoubledBackslash   bool `json:"doubled_backslash,omitempty"`
	EncodedPlus        bool `json:"encoded_plus,omitempty"`
	ExcessiveLines     bool `json:"excessive_lines,omitempty"`
	NonASCII           bool `json:"non_ascii,omitempty"`
}

// HazardReport is a read-only structural view over one message's content.
type HazardReport struct {
	Length        int            `json:"length"`
	Runes         int            `json:"runes"`
	LineCount     int            `json:"line_count"`
	SpecialChars  map[string]int `json:"special_chars,omitempty"`
	URLs          []string       `json:"urls,omitempty"`
	Links         []LinkPair     `json:"links,omitempty"`
	Escapes       []string       `json:"escapes,omitempty"`
	Flags         HazardFlags    `json:"flags"`
	CJKRunes      int            `json:"cjk_runes,omitempty"`
	TokenEstimate int            `json:"token_estimate,omitempty"`
}

// Hazardous reports whether any fixable hazard was flagged.
func (r HazardReport) Hazardous() bool {
	f := r.Flags
	return f.TabSeparatedHeader || f.NestedImageLink || f.DoubledBackslash || f.EncodedPlus || f.ExcessiveLines
}

// Names returns the raised flags as report labels, in declaration order.
func (f HazardFlags) Names() []string {
	var names []string
	add := func(on bool, name string) {
		if on {
			names = append(names, name)
		}
	}
	add(f.TabSeparatedHeader, "tab-separated-header")
	add(f.NestedImageLink, "nested-image-link")
	add(f.DoubledBackslash, "doubled-backslash")
	add(f.EncodedPlus, "encoded-plus")
	add(f.ExcessiveLines, "excessive-lines")
	add(f.NonASCII, "non-ascii")
	return names
}

// Options tunes the analyzer.
type Options struct {
	// LineCeiling flags content with more lines than this.
	LineCeiling int
	// Model selects the tokenizer for the informational token estimate.
	Model string
}

func (o *Options) normalize() {
	if o.LineCeiling <= 0 {
		o.LineCeiling = DefaultLineCeiling
	}
	if strings.TrimSpace(o.Model) == "" {
		o.Model = "gpt-4o"
	}
}

// Analyze builds a HazardReport with default options.
func Analyze(text string) HazardReport {
	return AnalyzeWithOptions(text, Options{})
}

// AnalyzeWithOptions builds a HazardReport for one message's content.
func AnalyzeWithOptions(text string, opts Options) HazardReport {
	opts.normalize()

	report := HazardReport{
		Length:    len(text),
		Runes:     utf8.RuneCountInString(text),
		LineCount: strings.Count(text, "\n") + 1,
	}

	vocab := make(map[rune]struct{}, len(specialCharVocabulary))
	for _, r := range specialCharVocabulary {
		vocab[r] = struct{}{}
	}
	counts := make(map[string]int)
	for _, r := range text {
		if _, ok := vocab[r]; ok {
			counts[string(r)]++
		}
		if r >= 0x4E00 && r <= 0x9FFF {
			report.CJKRunes++
		}
		if r > unicode.MaxASCII {
			report.Flags.NonASCII = true
		}
	}
	if len(counts) > 0 {
		report.SpecialChars = counts
	}

	report.URLs = urlRegex.FindAllString(text, -1)
	for _, pair := range linkPairRegex.FindAllStringSubmatch(text, -1) {
		report.Links = append(report.Links, LinkPair{Label: pair[1], Target: pair[2]})
	}
	report.Escapes = escapePairRegex.FindAllString(text, -1)

	report.Flags.TabSeparatedHeader = strings.HasPrefix(text, "name:\t")
	report.Flags.NestedImageLink = strings.Contains(text, "[![")
	report.Flags.DoubledBackslash = strings.Contains(text, `\\`)
	report.Flags.EncodedPlus = strings.Contains(text, "%2B")
	report.Flags.ExcessiveLines = report.LineCount > opts.LineCeiling

	report.TokenEstimate = EstimateTokens(opts.Model, text)
	return report
}
