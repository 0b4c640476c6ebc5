package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/claudeway/claudeway/internal/claude"
	"github.com/claudeway/claudeway/internal/config"
	"github.com/claudeway/claudeway/internal/openai"
	"github.com/claudeway/claudeway/internal/session"
)

// stubAgent is a deterministic claude.Runner: no subprocess involved.
type stubAgent struct {
	result *claude.Result
	runErr error
	events []claude.Event

	runs []claude.RunOptions
}

func (s *stubAgent) Run(ctx context.Context, prompt string, opts claude.RunOptions) (*claude.Result, error) {
	s.runs = append(s.runs, opts)
	if s.runErr != nil {
		return nil, s.runErr
	}
	return s.result, nil
}

func (s *stubAgent) Stream(ctx context.Context, prompt string, opts claude.RunOptions) <-chan claude.Event {
	s.runs = append(s.runs, opts)
	ch := make(chan claude.Event, len(s.events))
	for _, ev := range s.events {
		ch <- ev
	}
	close(ch)
	return ch
}

func newTestServer(t *testing.T, agent claude.Runner) *Server {
	t.Helper()

	cfg := &config.Config{
		Port:         0,
		DefaultModel: "sonnet",
		MaxTurns:     10,
	}
	tracker := session.NewTracker(time.Minute, time.Hour)
	t.Cleanup(tracker.Shutdown)
	return NewServer(cfg, agent, tracker)
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) openai.ErrorDetail {
	t.Helper()

	var resp openai.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &stubAgent{})
	w := doJSON(t, srv, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, w.Code)
	var health healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	require.Equal(t, "ok", health.Status)
	require.Zero(t, health.ActiveSessions)
}

func TestModels(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &stubAgent{})
	w := doJSON(t, srv, http.MethodGet, "/v1/models", "")

	require.Equal(t, http.StatusOK, w.Code)
	var list openai.ModelList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, "list", list.Object)
	require.Len(t, list.Data, 3)
	require.Equal(t, "model", list.Data[0].Object)
}

func TestNotFound(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &stubAgent{})
	w := doJSON(t, srv, http.MethodGet, "/v2/nothing", "")

	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "not_found", decodeError(t, w).Code)
}

func TestChatCompletions_EmptyMessages(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &stubAgent{})
	w := doJSON(t, srv, http.MethodPost, "/v1/chat/completions",
		`{"model":"claude-sonnet","messages":[]}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	detail := decodeError(t, w)
	require.Equal(t, openai.ErrorTypeInvalidRequest, detail.Type)
	require.Equal(t, "missing_messages", detail.Code)
}

func TestChatCompletions_MalformedBody(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &stubAgent{})
	w := doJSON(t, srv, http.MethodPost, "/v1/chat/completions", `{"messages": [`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, openai.ErrorTypeInvalidRequest, decodeError(t, w).Type)
}

func TestChatCompletions_Sync(t *testing.T) {
	t.Parallel()

	agent := &stubAgent{result: &claude.Result{
		Result:    "hello from claude",
		SessionID: "backend-sess",
		Usage:     claude.Usage{InputTokens: 4, OutputTokens: 9},
	}}
	srv := newTestServer(t, agent)

	w := doJSON(t, srv, http.MethodPost, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusOK, w.Code)
	var resp openai.ChatCompletion
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "hello from claude", resp.Choices[0].Message.Content)
	require.Equal(t, "stop", resp.Choices[0].FinishReason)
	require.Equal(t, int64(9), resp.Usage.CompletionTokens)

	// First turn: the backend was told to create, not resume.
	require.Len(t, agent.runs, 1)
	require.False(t, agent.runs[0].Resume)
	require.NotEmpty(t, agent.runs[0].SessionID)
}

func TestChatCompletions_Continuation(t *testing.T) {
	t.Parallel()

	agent := &stubAgent{result: &claude.Result{Result: "ok"}}
	srv := newTestServer(t, agent)

	first := `{"messages":[{"role":"user","content":"hi"}]}`
	w := doJSON(t, srv, http.MethodPost, "/v1/chat/completions", first)
	require.Equal(t, http.StatusOK, w.Code)

	// Same leading content fingerprints to the same conversation, so the
	// second exchange resumes the same backend session.
	second := `{"messages":[{"role":"user","content":"hi"},{"role":"assistant","content":"ok"},{"role":"user","content":"more"}]}`
	w = doJSON(t, srv, http.MethodPost, "/v1/chat/completions", second)
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, agent.runs, 2)
	require.False(t, agent.runs[0].Resume)
	require.True(t, agent.runs[1].Resume)
	require.Equal(t, agent.runs[0].SessionID, agent.runs[1].SessionID)
}

func TestChatCompletions_ConversationHeader(t *testing.T) {
	t.Parallel()

	agent := &stubAgent{result: &claude.Result{Result: "ok"}}
	srv := newTestServer(t, agent)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	req.Header.Set(ConversationHeader, "pinned")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	_, ok := srv.tracker.Lookup("pinned")
	require.True(t, ok)
}

func TestChatCompletions_RateLimited(t *testing.T) {
	t.Parallel()

	agent := &stubAgent{runErr: &claude.ProcessError{ExitCode: 1, Stderr: "quota exceeded"}}
	srv := newTestServer(t, agent)

	w := doJSON(t, srv, http.MethodPost, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	detail := decodeError(t, w)
	require.Equal(t, openai.ErrorTypeRateLimit, detail.Type)
	require.Equal(t, "rate_limited", detail.Code)
}

func TestChatCompletions_AuthExpired(t *testing.T) {
	t.Parallel()

	agent := &stubAgent{runErr: &claude.ProcessError{ExitCode: 1, Stderr: "Invalid API key. Please run /login"}}
	srv := newTestServer(t, agent)

	w := doJSON(t, srv, http.MethodPost, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, openai.ErrorTypeAuthentication, decodeError(t, w).Type)
}

func TestChatCompletions_Timeout(t *testing.T) {
	t.Parallel()

	agent := &stubAgent{runErr: claude.ErrTimeout}
	srv := newTestServer(t, agent)

	w := doJSON(t, srv, http.MethodPost, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusGatewayTimeout, w.Code)
	require.Equal(t, "timeout", decodeError(t, w).Code)
}

func TestChatCompletions_SessionLostEvictsTracker(t *testing.T) {
	t.Parallel()

	agent := &stubAgent{result: &claude.Result{Result: "ok"}}
	srv := newTestServer(t, agent)

	body := `{"messages":[{"role":"user","content":"hi"}]}`
	w := doJSON(t, srv, http.MethodPost, "/v1/chat/completions", body)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, srv.tracker.Len())

	agent.runErr = &claude.ProcessError{ExitCode: 1, Stderr: "No conversation found with session ID x"}
	w = doJSON(t, srv, http.MethodPost, "/v1/chat/completions", body)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, "session_expired", decodeError(t, w).Code)
	// The stale entry is gone; the next request starts a clean session.
	require.Zero(t, srv.tracker.Len())
}

// readSSE splits an event-stream body into its data payloads.
func readSSE(t *testing.T, body string) []string {
	t.Helper()

	var frames []string
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			frames = append(frames, data)
		}
	}
	require.NoError(t, scanner.Err())
	return frames
}

func blockStart(kind string) claude.Event {
	return claude.Event{Type: claude.EventStream, Stream: &claude.MessageEvent{
		Type:         claude.MessageEventBlockStart,
		ContentBlock: &claude.ContentBlock{Type: kind},
	}}
}

func blockStop() claude.Event {
	return claude.Event{Type: claude.EventStream, Stream: &claude.MessageEvent{
		Type: claude.MessageEventBlockStop,
	}}
}

func delta(kind, text string) claude.Event {
	d := &claude.MessageDelta{Type: kind}
	if kind == claude.DeltaKindThinking {
		d.Thinking = text
	} else {
		d.Text = text
	}
	return claude.Event{Type: claude.EventStream, Stream: &claude.MessageEvent{
		Type:  claude.MessageEventBlockDelta,
		Delta: d,
	}}
}

func TestChatCompletions_StreamingFiltersReasoning(t *testing.T) {
	t.Parallel()

	agent := &stubAgent{events: []claude.Event{
		blockStart(claude.BlockKindThinking),
		delta(claude.DeltaKindThinking, "pondering..."),
		// A text delta nested inside the reasoning block stays hidden.
		delta(claude.DeltaKindText, "leaked thought"),
		blockStop(),
		blockStart("text"),
		delta(claude.DeltaKindText, "X"),
		blockStop(),
		{Type: claude.EventResult, Result: &claude.Result{
			Result: "X", SessionID: "sess", Usage: claude.Usage{CacheReadInputTokens: 50},
		}},
	}}
	srv := newTestServer(t, agent)

	w := doJSON(t, srv, http.MethodPost, "/v1/chat/completions",
		`{"stream":true,"messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	frames := readSSE(t, w.Body.String())
	require.Equal(t, "[DONE]", frames[len(frames)-1])

	var contents []string
	var finishes []string
	for _, frame := range frames[:len(frames)-1] {
		var chunk openai.ChatCompletionChunk
		require.NoError(t, json.Unmarshal([]byte(frame), &chunk))
		if c := chunk.Choices[0].Delta.Content; c != "" {
			contents = append(contents, c)
		}
		if fr := chunk.Choices[0].FinishReason; fr != nil {
			finishes = append(finishes, *fr)
		}
	}

	// Exactly one text frame, exactly one terminal frame, nothing from
	// the reasoning block.
	require.Equal(t, []string{"X"}, contents)
	require.Equal(t, []string{"stop"}, finishes)

	// The result event counted as a completed exchange.
	sessions := srv.tracker.All()
	require.Len(t, sessions, 1)
	for _, sess := range sessions {
		require.Equal(t, 1, sess.TurnCount)
	}
}

func TestChatCompletions_StreamingWithoutResultStillTerminates(t *testing.T) {
	t.Parallel()

	agent := &stubAgent{events: []claude.Event{
		delta(claude.DeltaKindText, "partial"),
	}}
	srv := newTestServer(t, agent)

	w := doJSON(t, srv, http.MethodPost, "/v1/chat/completions",
		`{"stream":true,"messages":[{"role":"user","content":"hi"}]}`)

	frames := readSSE(t, w.Body.String())
	require.Equal(t, "[DONE]", frames[len(frames)-1])

	var chunk openai.ChatCompletionChunk
	require.NoError(t, json.Unmarshal([]byte(frames[len(frames)-2]), &chunk))
	require.NotNil(t, chunk.Choices[0].FinishReason)
}

func TestChatCompletions_StreamingErrorFrame(t *testing.T) {
	t.Parallel()

	agent := &stubAgent{events: []claude.Event{
		{Type: claude.EventError, Err: &claude.ProcessError{ExitCode: 1, Stderr: "usage limit reached"}},
	}}
	srv := newTestServer(t, agent)

	w := doJSON(t, srv, http.MethodPost, "/v1/chat/completions",
		`{"stream":true,"messages":[{"role":"user","content":"hi"}]}`)

	frames := readSSE(t, w.Body.String())
	require.Equal(t, "[DONE]", frames[len(frames)-1])

	// One error frame, then the terminal frame, then [DONE].
	var errResp openai.ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(frames[len(frames)-3]), &errResp))
	require.Equal(t, openai.ErrorTypeRateLimit, errResp.Error.Type)
}

func TestSessionsEndpoint(t *testing.T) {
	t.Parallel()

	agent := &stubAgent{result: &claude.Result{Result: "ok"}}
	srv := newTestServer(t, agent)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	req.Header.Set(ConversationHeader, "pinned")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w2 := doJSON(t, srv, http.MethodGet, "/v1/sessions", "")
	require.Equal(t, http.StatusOK, w2.Code)
	var sessions []sessionInfo
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	require.Equal(t, "pinned", sessions[0].Conversation)
	require.Equal(t, 1, sessions[0].TurnCount)

	w3 := doJSON(t, srv, http.MethodDelete, "/v1/sessions/pinned", "")
	require.Equal(t, http.StatusNoContent, w3.Code)
	require.Zero(t, srv.tracker.Len())
}
