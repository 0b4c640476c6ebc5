package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/claudeway/claudeway/internal/claude"
	"github.com/claudeway/claudeway/internal/openai"
	"github.com/claudeway/claudeway/internal/translate"
)

// streamCompletion runs one streaming exchange: it spawns the backend in
// streaming mode, filters reasoning output, and forwards text fragments as
// SSE frames. The event channel is always drained to completion so the
// subprocess is reaped even when the client goes away mid-stream.
func (c *controllerV1) streamCompletion(w http.ResponseWriter, r *http.Request, key, model, prompt string, opts claude.RunOptions, messages int) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, http.StatusInternalServerError, openai.ErrorDetail{
			Message: "streaming unsupported by transport",
			Type:    openai.ErrorTypeAPI,
			Code:    "internal_error",
		})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sw := &sseWriter{w: w, flusher: flusher}
	id := translate.NewCompletionID()
	created := time.Now().Unix()

	sw.writeJSON(translate.StreamStart(id, model, created))

	var (
		filter    reasoningFilter
		terminal  bool
		sawResult bool
	)

	finish := func() {
		if terminal {
			return
		}
		terminal = true
		c.tracker.Touch(key, messages)
		sw.writeJSON(translate.StreamDone(id, model, created))
		sw.writeDone()
	}

	for ev := range c.agent.Stream(r.Context(), prompt, opts) {
		if terminal {
			// Keep draining so the adapter can reap the process.
			continue
		}
		switch ev.Type {
		case claude.EventStream:
			if text, forward := filter.apply(ev.Stream); forward {
				sw.writeJSON(translate.StreamDelta(id, model, created, text))
			}

		case claude.EventResult:
			sawResult = true
			c.observeUsage(key, ev.Result)
			finish()

		case claude.EventError:
			if claude.IsSessionNotFound(ev.Err) {
				c.tracker.Delete(key)
			}
			c.logError(r, "streaming invocation failed", "error", ev.Err)
			_, detail := classifyBackendError(ev.Err)
			sw.writeJSON(openai.ErrorResponse{Error: detail})
			finish()
		}
	}

	// The backend can close its stream without a terminal event; the
	// client still gets a terminus.
	if !sawResult {
		finish()
	}
}

// Reasoning filter states.
type filterState int

const (
	awaitingEvent filterState = iota
	reasoningBlockOpen
)

// reasoningFilter is the explicit two-state machine that keeps reasoning
// output off the wire: block-start of kind "thinking" opens the gate,
// block-stop closes it, and every sub-event in between is suppressed.
// Reasoning-tagged deltas are dropped even outside a tracked block.
type reasoningFilter struct {
	state filterState
}

// apply consumes one sub-event and reports the text fragment to forward,
// if any.
func (f *reasoningFilter) apply(ev *claude.MessageEvent) (string, bool) {
	if ev == nil {
		return "", false
	}

	switch ev.Type {
	case claude.MessageEventBlockStart:
		if ev.ContentBlock != nil && ev.ContentBlock.Type == claude.BlockKindThinking {
			f.state = reasoningBlockOpen
		}
		return "", false

	case claude.MessageEventBlockStop:
		f.state = awaitingEvent
		return "", false
	}

	if f.state == reasoningBlockOpen {
		return "", false
	}
	if ev.Delta == nil {
		return "", false
	}
	switch ev.Delta.Type {
	case claude.DeltaKindThinking, claude.DeltaKindSignature:
		return "", false
	}
	if ev.Delta.Text == "" {
		return "", false
	}
	return ev.Delta.Text, true
}

// sseWriter frames JSON payloads as server-sent events. Once a write
// fails, further writes are skipped; the caller keeps draining its event
// source regardless.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	failed  bool
}

func (s *sseWriter) writeJSON(v any) {
	if s.failed {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.failed = true
		return
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		s.failed = true
		return
	}
	s.flusher.Flush()
}

func (s *sseWriter) writeDone() {
	if s.failed {
		return
	}
	if _, err := fmt.Fprint(s.w, "data: [DONE]\n\n"); err != nil {
		s.failed = true
		return
	}
	s.flusher.Flush()
}
