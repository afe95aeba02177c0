// scrubreport runs the scrub pipeline over one captured request body and
// prints the report. Developer tool; the HTTP API is the production surface.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/skratchdot/open-golang/open"

	"github.com/router-for-me/chatscrub/internal/analysis"
	"github.com/router-for-me/chatscrub/internal/capture"
	"github.com/router-for-me/chatscrub/internal/payload"
	"github.com/router-for-me/chatscrub/internal/report"
	"github.com/router-for-me/chatscrub/internal/rules"
	"github.com/router-for-me/chatscrub/internal/toolcall"
	"github.com/router-for-me/chatscrub/internal/util/jsonutil"
)

func main() {
	role := flag.String("role", "tool", "role of the message to sanitize")
	key := flag.String("key", "", "message list key when the document does not use \"messages\"")
	maxLen := flag.Int("max-len", 0, "content byte ceiling, 0 for the default")
	lines := flag.Int("lines", 0, "line count flagged as excessive, 0 for the default")
	model := flag.String("model", "", "tokenizer model for the token estimate")
	toolCalls := flag.Bool("toolcalls", true, "normalize tool_calls before sanitizing")
	asJSON := flag.Bool("json", false, "emit the report as JSON instead of text")
	writePath := flag.String("write", "", "write the scrubbed document to this path")
	openReport := flag.Bool("open", false, "write the report to a temp file and open it")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: scrubreport [flags] <capture.json[.gz|.br]>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	path := flag.Arg(0)

	doc, err := capture.Load(path)
	if err != nil {
		fatal(err)
	}

	in := report.Input{Source: filepath.Base(path)}
	if *toolCalls {
		fixed, tcReport, err := toolcall.NormalizeDocumentKey(doc, *key)
		if err != nil {
			fatal(err)
		}
		doc = fixed
		in.ToolCalls = &tcReport
	}

	out, patchReport, err := payload.PatchDocument(doc, payload.PatchOptions{
		Selector:    payload.RoleSelector(*role),
		Rules:       rules.Default(rules.Options{MaxContentLength: *maxLen}),
		MessagesKey: *key,
		Analyzer:    analysis.Options{LineCeiling: *lines, Model: *model},
	})
	if err != nil {
		fatal(err)
	}
	in.Patch = patchReport

	if *writePath != "" {
		if err := capture.Write(*writePath, out); err != nil {
			fatal(err)
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", *writePath)
	}

	if *asJSON {
		body, err := jsonutil.MarshalNoEscapeIndent(struct {
			Source    string                   `json:"source"`
			Patch     payload.PatchReport      `json:"patch"`
			ToolCalls *toolcall.DocumentReport `json:"tool_calls,omitempty"`
		}{in.Source, in.Patch, in.ToolCalls}, "", "  ")
		if err != nil {
			fatal(err)
		}
		fmt.Println(string(body))
		return
	}

	if *openReport {
		f, err := os.CreateTemp("", "scrubreport-*.txt")
		if err != nil {
			fatal(err)
		}
		if err := report.Render(f, in); err != nil {
			f.Close()
			fatal(err)
		}
		if err := f.Close(); err != nil {
			fatal(err)
		}
		if err := open.Run(f.Name()); err != nil {
			fatal(err)
		}
		return
	}

	if err := report.Render(os.Stdout, in); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "scrubreport: %v\n", err)
	os.Exit(1)
}
