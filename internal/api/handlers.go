package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/router-for-me/chatscrub/internal/analysis"
	"github.com/router-for-me/chatscrub/internal/audit"
	"github.com/router-for-me/chatscrub/internal/capture"
	"github.com/router-for-me/chatscrub/internal/payload"
	"github.com/router-for-me/chatscrub/internal/replay"
	"github.com/router-for-me/chatscrub/internal/rules"
	"github.com/router-for-me/chatscrub/internal/toolcall"
	"github.com/router-for-me/chatscrub/internal/util/jsonutil"
)

const contentTypeJSON = "application/json; charset=utf-8"

// selector returns the role and messages key for this request, falling back
// to the configured defaults.
func (s *Server) selector(c *gin.Context) (role, key string) {
	cfg := s.deps.Config()
	role = strings.TrimSpace(c.Query("role"))
	if role == "" {
		role = cfg.SelectorRole
	}
	if role == "" {
		role = "tool"
	}
	key = strings.TrimSpace(c.Query("key"))
	if key == "" {
		key = cfg.MessagesKey
	}
	return role, key
}

func errorResponse(c *gin.Context, err error) {
	switch {
	case errors.Is(err, payload.ErrDocumentMalformed):
		writeError(c, http.StatusBadRequest, "document_malformed", err.Error())
	case errors.Is(err, payload.ErrNoMessages):
		writeError(c, http.StatusUnprocessableEntity, "no_messages", err.Error())
	case errors.Is(err, payload.ErrNoMatchingMessage):
		writeError(c, http.StatusUnprocessableEntity, "no_matching_message", err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal", err.Error())
	}
}

// handleSanitize rewrites the selected message of the posted document and
// returns the document bytes otherwise untouched. The report travels in
// X-Scrub-* headers, or in a {document, report} envelope with ?report=full.
func (s *Server) handleSanitize(c *gin.Context) {
	doc, err := c.GetRawData()
	if err != nil {
		writeError(c, http.StatusBadRequest, "document_malformed", err.Error())
		return
	}
	cfg := s.deps.Config()
	role, key := s.selector(c)
	runID := uuid.NewString()

	// The original is archived before any rewrite so a bad rule can never
	// cost the evidence.
	if s.deps.Archive != nil {
		if _, err := s.deps.Archive.PutOriginal(c.Request.Context(), runID, doc); err != nil {
			log.Warnf("api: archive original %s: %v", runID, err)
		}
	}

	out, report, err := payload.PatchDocument(doc, payload.PatchOptions{
		Selector:    payload.RoleSelector(role),
		Rules:       rules.Default(cfg.RuleOptions()),
		MessagesKey: key,
		Analyzer:    cfg.AnalyzerOptions(),
	})
	if err != nil {
		errorResponse(c, err)
		return
	}

	if s.deps.Archive != nil && report.Patched {
		if _, err := s.deps.Archive.PutScrubbed(c.Request.Context(), runID, out); err != nil {
			log.Warnf("api: archive scrubbed %s: %v", runID, err)
		}
	}
	if s.deps.Audit != nil {
		entry := audit.Entry{
			RunID:         runID,
			Source:        "api",
			SelectedIndex: report.SelectedIndex,
			SelectedRole:  report.SelectedRole,
			Rules:         report.Trace.Rules(),
			BytesBefore:   report.BytesBefore,
			BytesAfter:    report.BytesAfter,
		}
		if err := s.deps.Audit.Record(c.Request.Context(), entry); err != nil {
			log.Warnf("api: audit %s: %v", runID, err)
		}
	}
	s.hub.Broadcast(Event{Type: "sanitize", RunID: runID, Report: report})

	if c.Query("report") == "full" {
		body, err := jsonutil.MarshalNoEscape(gin.H{
			"run_id":   runID,
			"document": json.RawMessage(out),
			"report":   report,
		})
		if err != nil {
			errorResponse(c, err)
			return
		}
		c.Data(http.StatusOK, contentTypeJSON, body)
		return
	}

	c.Header("X-Scrub-Run-Id", runID)
	c.Header("X-Scrub-Patched", strconv.FormatBool(report.Patched))
	c.Header("X-Scrub-Selected-Index", strconv.Itoa(report.SelectedIndex))
	if report.SelectedRole != "" {
		c.Header("X-Scrub-Selected-Role", report.SelectedRole)
	}
	if names := report.Trace.Rules(); len(names) > 0 {
		c.Header("X-Scrub-Rules", strings.Join(names, ","))
	}
	if report.Skipped != "" {
		c.Header("X-Scrub-Skipped", report.Skipped)
	}
	c.Data(http.StatusOK, contentTypeJSON, out)
}

// handleNormalizeToolCalls repairs a posted tool_calls array and returns it
// with the repair report.
func (s *Server) handleNormalizeToolCalls(c *gin.Context) {
	calls, err := c.GetRawData()
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_tool_calls", err.Error())
		return
	}
	out, report, err := toolcall.Normalize(calls)
	if err != nil {
		writeError(c, http.StatusUnprocessableEntity, "invalid_tool_calls", err.Error())
		return
	}
	body, err := jsonutil.MarshalNoEscape(gin.H{
		"tool_calls": json.RawMessage(out),
		"report":     report,
	})
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.Data(http.StatusOK, contentTypeJSON, body)
}

// handleValidateToolCalls answers 204 when the posted array already meets
// the invariant, 422 with the first defect otherwise.
func (s *Server) handleValidateToolCalls(c *gin.Context) {
	calls, err := c.GetRawData()
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_tool_calls", err.Error())
		return
	}
	if err := toolcall.Validate(calls); err != nil {
		writeError(c, http.StatusUnprocessableEntity, "invalid_tool_calls", err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

// handleAnalyze reports hazards for the posted text. The body is either the
// raw text or {"text": "..."}.
func (s *Server) handleAnalyze(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		writeError(c, http.StatusBadRequest, "document_malformed", err.Error())
		return
	}
	text := string(raw)
	if gjson.ValidBytes(raw) {
		if v := gjson.GetBytes(raw, "text"); v.Type == gjson.String {
			text = v.Str
		}
	}
	report := analysis.AnalyzeWithOptions(text, s.deps.Config().AnalyzerOptions())
	body, err := jsonutil.MarshalNoEscape(report)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.Data(http.StatusOK, contentTypeJSON, body)
}

// handleReplay runs the candidate ladder of the posted document against the
// configured backend and returns every verdict. With ?capture=<name> the
// document comes from the capture directory instead of the request body.
func (s *Server) handleReplay(c *gin.Context) {
	if s.deps.Replay == nil {
		writeError(c, http.StatusNotFound, "replay_unconfigured", "no replay backend is configured")
		return
	}
	doc, err := c.GetRawData()
	if err != nil {
		writeError(c, http.StatusBadRequest, "document_malformed", err.Error())
		return
	}
	if name := strings.TrimSpace(c.Query("capture")); name != "" {
		dir, ok := s.captureDir(c)
		if !ok {
			return
		}
		// Base strips any path the caller smuggled into the name.
		doc, err = capture.Load(filepath.Join(dir, filepath.Base(name)))
		if err != nil {
			writeError(c, http.StatusNotFound, "capture_not_found", err.Error())
			return
		}
	}
	role, key := s.selector(c)
	harness := replay.NewHarness(s.deps.Replay, replay.Options{
		Rules:        s.deps.Config().RuleOptions(),
		MessagesKey:  key,
		SelectorRole: role,
	})
	report, err := harness.Run(c.Request.Context(), doc)
	if err != nil && len(report.Verdicts) == 0 {
		errorResponse(c, err)
		return
	}
	if err != nil {
		// Transport failures still produced verdicts; return them.
		log.Warnf("api: replay %s: %v", report.RunID, err)
	}
	body, err := jsonutil.MarshalNoEscape(report)
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.Data(http.StatusOK, contentTypeJSON, body)
}

// captureDir resolves the configured capture directory, answering the
// request itself when none is configured.
func (s *Server) captureDir(c *gin.Context) (string, bool) {
	dir, err := s.deps.Config().ResolveCaptureDir()
	if err != nil {
		errorResponse(c, err)
		return "", false
	}
	if dir == "" {
		writeError(c, http.StatusNotFound, "captures_unconfigured", "no capture directory is configured")
		return "", false
	}
	return dir, true
}

// handleListCaptures names the loadable dumps in the capture directory.
// Corrupt files are skipped by the loader and do not appear.
func (s *Server) handleListCaptures(c *gin.Context) {
	dir, ok := s.captureDir(c)
	if !ok {
		return
	}
	dumps, err := capture.LoadDir(dir)
	if err != nil {
		errorResponse(c, err)
		return
	}
	entries := make([]gin.H, 0, len(dumps))
	for _, dump := range dumps {
		entries = append(entries, gin.H{"name": filepath.Base(dump.Path), "bytes": len(dump.Body)})
	}
	body, err := jsonutil.MarshalNoEscape(gin.H{"captures": entries})
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.Data(http.StatusOK, contentTypeJSON, body)
}

// handleAuditRecent lists the newest audit rows.
func (s *Server) handleAuditRecent(c *gin.Context) {
	if s.deps.Audit == nil {
		writeError(c, http.StatusNotFound, "audit_unconfigured", "no audit database is configured")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	entries, err := s.deps.Audit.Recent(c.Request.Context(), limit)
	if err != nil {
		errorResponse(c, err)
		return
	}
	body, err := jsonutil.MarshalNoEscape(gin.H{"entries": entries})
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.Data(http.StatusOK, contentTypeJSON, body)
}
