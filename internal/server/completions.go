package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/claudeway/claudeway/internal/claude"
	"github.com/claudeway/claudeway/internal/openai"
	"github.com/claudeway/claudeway/internal/session"
	"github.com/claudeway/claudeway/internal/translate"
)

// ConversationHeader lets a client pin its conversation identity instead of
// relying on message fingerprinting.
const ConversationHeader = "X-Conversation-ID"

type controllerV1 struct {
	*Server
}

func (c *controllerV1) handlePostChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.logError(r, "failed to decode request", "error", err)
		jsonError(w, http.StatusBadRequest, openai.ErrorDetail{
			Message: "request body is not valid JSON",
			Type:    openai.ErrorTypeInvalidRequest,
			Code:    "invalid_json",
		})
		return
	}
	if len(req.Messages) == 0 {
		jsonError(w, http.StatusBadRequest, openai.ErrorDetail{
			Message: "messages is required and must be a non-empty array",
			Type:    openai.ErrorTypeInvalidRequest,
			Code:    "missing_messages",
		})
		return
	}

	model := translate.MapModelName(req.Model, c.cfg.DefaultModel)
	key := session.Key(r.Header.Get(ConversationHeader), req.Messages)

	sess, resuming := c.tracker.Lookup(key)
	var input translate.Input
	if resuming {
		var err error
		input, err = translate.ContinueTurn(req.Messages)
		if err != nil {
			jsonError(w, http.StatusBadRequest, openai.ErrorDetail{
				Message: "conversation has no user message to continue with",
				Type:    openai.ErrorTypeInvalidRequest,
				Code:    "missing_user_message",
			})
			return
		}
	} else {
		sess = c.tracker.Create(key)
		input = translate.FirstTurn(req.Messages)
	}

	opts := claude.RunOptions{
		Model:        model,
		SystemPrompt: input.SystemPrompt,
		SessionID:    sess.ID,
		Resume:       !input.FirstTurn,
		MaxTurns:     c.cfg.MaxTurns,
		AllowedTools: c.cfg.AllowedTools,
	}

	c.logDebug(r, "chat completion",
		"model", model,
		"conversation", key,
		"session_id", sess.ID,
		"first_turn", input.FirstTurn,
		"stream", req.Stream,
	)

	if req.Stream {
		c.streamCompletion(w, r, key, model, input.Prompt, opts, len(req.Messages))
		return
	}

	result, err := c.agent.Run(r.Context(), input.Prompt, opts)
	if err != nil {
		c.writeBackendError(w, r, key, err)
		return
	}
	// The backend sometimes reports limit and credential failures inside a
	// zero-exit result document. Map those to their outward errors; every
	// other error-flagged result renders as finish_reason "error".
	if resultErr := claude.ResultError(result); resultErr != nil {
		c.writeBackendError(w, r, key, resultErr)
		return
	}

	c.tracker.Touch(key, len(req.Messages))
	c.observeUsage(key, result)
	jsonEncode(w, translate.Response(result, model))
}

// writeBackendError renders one backend failure as an outward error. A
// lost backend session also evicts the tracker entry so the next attempt
// starts clean.
func (c *controllerV1) writeBackendError(w http.ResponseWriter, r *http.Request, key string, err error) {
	if claude.IsSessionNotFound(err) {
		c.tracker.Delete(key)
	}
	status, detail := classifyBackendError(err)
	c.logError(r, "backend invocation failed", "error", err, "status", status, "code", detail.Code)
	jsonError(w, status, detail)
}

// observeUsage records prompt-cache effectiveness for observability.
func (c *controllerV1) observeUsage(key string, result *claude.Result) {
	if result.Usage.CacheReadInputTokens > 0 {
		slog.Debug("prompt cache hit",
			"conversation", key,
			"cache_read_tokens", result.Usage.CacheReadInputTokens,
			"input_tokens", result.Usage.InputTokens,
		)
	}
}
