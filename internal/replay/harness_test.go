package replay

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/router-for-me/chatscrub/internal/config"
	"github.com/router-for-me/chatscrub/internal/payload"
)

// pickyBackend rejects bodies that still carry an encoded plus or a tool
// call without an id, which is exactly what the candidate ladder repairs.
func pickyBackend() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if bytes.Contains(body, []byte("%2B")) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":"content contains encoded plus"}`))
			return
		}
		for _, msg := range gjson.GetBytes(body, "messages").Array() {
			for _, call := range msg.Get("tool_calls").Array() {
				if call.Get("id").Str == "" {
					w.WriteHeader(http.StatusUnprocessableEntity)
					_, _ = w.Write([]byte(`{"error":"tool call id missing"}`))
					return
				}
			}
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
}

func newTestHarness(t *testing.T, endpoint string) *Harness {
	t.Helper()
	client, err := NewClient(context.Background(), config.ReplayConfig{Endpoint: endpoint, TimeoutSeconds: 5})
	require.NoError(t, err)
	return NewHarness(client, Options{})
}

func TestHarnessRunCandidateLadder(t *testing.T) {
	t.Parallel()

	server := pickyBackend()
	defer server.Close()

	doc := []byte(`{
		"model": "gpt-4o",
		"messages": [
			{"role": "user", "content": "fetch it"},
			{"role": "assistant", "content": null, "tool_calls": [
				{"type": "function", "function": {"name": "Fetch", "arguments": "{\"q\":1}"}}
			]},
			{"role": "tool", "content": "got a%2Bb"}
		]
	}`)

	harness := newTestHarness(t, server.URL)
	report, err := harness.Run(context.Background(), doc)
	require.NoError(t, err, "backend rejections are verdicts, not errors")
	assert.NotEmpty(t, report.RunID)
	require.Len(t, report.Verdicts, 4)

	names := make([]string, 0, 4)
	for _, v := range report.Verdicts {
		names = append(names, v.Name)
	}
	assert.Equal(t, []string{CandidateOriginal, CandidateToolCalls, CandidateContent, CandidateCombined}, names)

	assert.False(t, report.Verdicts[0].Accepted)
	assert.Equal(t, http.StatusUnprocessableEntity, report.Verdicts[0].Status)
	assert.Contains(t, report.Verdicts[0].Note, "encoded plus")

	assert.False(t, report.Verdicts[1].Accepted, "fixing tool calls alone leaves the encoded plus")
	assert.Contains(t, report.Verdicts[1].Note, "encoded plus")

	assert.False(t, report.Verdicts[2].Accepted, "fixing content alone leaves the missing id")
	assert.Contains(t, report.Verdicts[2].Note, "id missing")

	assert.True(t, report.Verdicts[3].Accepted)
	assert.Equal(t, http.StatusOK, report.Verdicts[3].Status)
	assert.Empty(t, report.Verdicts[3].Note)
}

func TestHarnessRunCleanDocument(t *testing.T) {
	t.Parallel()

	server := pickyBackend()
	defer server.Close()

	doc := []byte(`{"messages":[{"role":"user","content":"hi"},{"role":"tool","content":"done"}]}`)

	harness := newTestHarness(t, server.URL)
	report, err := harness.Run(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, report.Verdicts, 4)

	for i, v := range report.Verdicts {
		assert.True(t, v.Accepted, "candidate %d", i)
		assert.Equal(t, http.StatusOK, v.Status, "candidate %d", i)
	}
	assert.Empty(t, report.Verdicts[0].Note)
	for _, v := range report.Verdicts[1:] {
		assert.Equal(t, "identical to original", v.Note, v.Name)
	}
}

func TestHarnessRunMalformedDocument(t *testing.T) {
	t.Parallel()

	server := pickyBackend()
	defer server.Close()

	harness := newTestHarness(t, server.URL)
	report, err := harness.Run(context.Background(), []byte(`{"messages":`))
	require.Error(t, err)
	assert.ErrorIs(t, err, payload.ErrDocumentMalformed)
	assert.Empty(t, report.Verdicts, "nothing is sent when no candidate can be built")
}

func TestHarnessRunTransportFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := server.URL
	server.Close()

	doc := []byte(`{"messages":[{"role":"tool","content":"done"}]}`)

	harness := newTestHarness(t, endpoint)
	report, err := harness.Run(context.Background(), doc)
	require.Error(t, err, "unreachable backend surfaces as an error after all candidates ran")
	require.Len(t, report.Verdicts, 4, "every candidate still gets a verdict row")
	for _, v := range report.Verdicts {
		assert.False(t, v.Accepted)
		assert.Zero(t, v.Status)
		assert.NotEmpty(t, v.Note)
	}
}

func TestHarnessRunCustomKeyAndRole(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var accepted [][]byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		accepted = append(accepted, body)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	doc := []byte(`{"history":[{"role":"user","content":"read **this**"}]}`)

	client, err := NewClient(context.Background(), config.ReplayConfig{Endpoint: server.URL, TimeoutSeconds: 5})
	require.NoError(t, err)
	harness := NewHarness(client, Options{MessagesKey: "history", SelectorRole: "user"})

	report, err := harness.Run(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, report.Verdicts, 4)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, accepted, 4)

	sanitized := gjson.GetBytes(accepted[2], "history.0.content").Str
	assert.Equal(t, "read this", sanitized, "emphasis markup is stripped in the content candidate")
}
