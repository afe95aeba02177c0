package replay

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/chatscrub/internal/payload"
	"github.com/router-for-me/chatscrub/internal/rules"
	"github.com/router-for-me/chatscrub/internal/toolcall"
)

// Candidate names, in run order.
const (
	CandidateOriginal  = "original"
	CandidateToolCalls = "tool-calls-normalized"
	CandidateContent   = "content-sanitized"
	CandidateCombined  = "combined"
)

// Candidate is one body variant of a captured request.
type Candidate struct {
	Name string
	Body []byte
	Note string
}

// Verdict records the backend's answer for one candidate.
type Verdict struct {
	Name     string `json:"name"`
	Status   int    `json:"status"`
	Accepted bool   `json:"accepted"`
	Note     string `json:"note,omitempty"`
}

// Report is the outcome of one harness run.
type Report struct {
	RunID    string    `json:"run_id"`
	Verdicts []Verdict `json:"verdicts"`
}

// Options tunes how the repaired candidates are built.
type Options struct {
	Rules        rules.Options
	MessagesKey  string
	SelectorRole string
}

// Harness replays every candidate of a capture against the backend. A
// rejected candidate never stops the run; the point is the comparison.
type Harness struct {
	client *Client
	opts   Options
}

func NewHarness(client *Client, opts Options) *Harness {
	if opts.SelectorRole == "" {
		opts.SelectorRole = "tool"
	}
	return &Harness{client: client, opts: opts}
}

// Run builds the four candidates of doc and posts them in order. Transport
// failures are joined into the returned error after every candidate had its
// turn; backend rejections only mark the verdict.
func (h *Harness) Run(ctx context.Context, doc []byte) (Report, error) {
	report := Report{RunID: uuid.NewString()}
	candidates, err := h.buildCandidates(doc)
	if err != nil {
		return report, err
	}

	var errs []error
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		verdict := Verdict{Name: candidate.Name, Note: candidate.Note}
		_, status, err := h.client.Send(ctx, candidate.Body)
		switch {
		case err == nil:
			verdict.Status = status
			verdict.Accepted = true
		default:
			var statusErr StatusError
			if errors.As(err, &statusErr) {
				verdict.Status = statusErr.Code
				verdict.Note = joinNotes(verdict.Note, statusErr.Msg)
			} else {
				verdict.Note = joinNotes(verdict.Note, err.Error())
				errs = append(errs, fmt.Errorf("%s: %w", candidate.Name, err))
			}
		}
		log.WithFields(log.Fields{
			"run":       report.RunID,
			"candidate": verdict.Name,
			"status":    verdict.Status,
			"accepted":  verdict.Accepted,
		}).Info("replay verdict")
		report.Verdicts = append(report.Verdicts, verdict)
	}
	return report, errors.Join(errs...)
}

func (h *Harness) buildCandidates(doc []byte) ([]Candidate, error) {
	candidates := make([]Candidate, 0, 4)
	candidates = append(candidates, Candidate{Name: CandidateOriginal, Body: doc})

	toolsFixed, _, err := toolcall.NormalizeDocumentKey(doc, h.opts.MessagesKey)
	if err != nil && !isPassThrough(err) {
		return nil, err
	}
	candidates = append(candidates, newCandidate(CandidateToolCalls, doc, toolsFixed))

	patchOpts := payload.PatchOptions{
		Selector:    payload.RoleSelector(h.opts.SelectorRole),
		Rules:       rules.Default(h.opts.Rules),
		MessagesKey: h.opts.MessagesKey,
	}
	contentFixed, _, err := payload.PatchDocument(doc, patchOpts)
	if err != nil && !isPassThrough(err) {
		return nil, err
	}
	candidates = append(candidates, newCandidate(CandidateContent, doc, contentFixed))

	combined, _, err := payload.PatchDocument(toolsFixed, patchOpts)
	if err != nil && !isPassThrough(err) {
		return nil, err
	}
	candidates = append(candidates, newCandidate(CandidateCombined, doc, combined))
	return candidates, nil
}

// newCandidate notes variants that came out identical to the original, so
// the verdict table says why two rows agree.
func newCandidate(name string, original, body []byte) Candidate {
	c := Candidate{Name: name, Body: body}
	if bytes.Equal(original, body) {
		c.Note = "identical to original"
	}
	return c
}

func isPassThrough(err error) bool {
	return errors.Is(err, payload.ErrNoMessages) || errors.Is(err, payload.ErrNoMatchingMessage)
}

func joinNotes(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "; " + b
}
