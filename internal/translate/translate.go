// Package translate converts between the OpenAI chat-message model and the
// backend's prompt/response model, in both directions. Everything here is a
// pure function of its inputs.
package translate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/claudeway/claudeway/internal/claude"
	"github.com/claudeway/claudeway/internal/openai"
)

// ErrMissingUserMessage reports a continuation turn with no user message to
// forward.
var ErrMissingUserMessage = errors.New("translate: no user message in conversation")

// Input is what one turn delivers to the backend.
type Input struct {
	// Prompt is the text piped to the backend's stdin.
	Prompt string

	// SystemPrompt is set only on a first turn; a continuation assumes
	// the instruction already lives in the backend's session memory.
	SystemPrompt string

	// FirstTurn marks whether this exchange establishes a new backend
	// session or resumes one.
	FirstTurn bool
}

// FirstTurn renders the whole conversation for a fresh backend session.
// System messages are concatenated (newline-joined, original order) into the
// system prompt; every other message lands in the prompt prefixed with its
// role label, in original order. Non-text content parts are dropped.
func FirstTurn(messages []openai.ChatMessage) Input {
	var system []string
	var turns []string

	for _, msg := range messages {
		text := msg.Content.String()
		if msg.Role == openai.RoleSystem {
			system = append(system, text)
			continue
		}
		turns = append(turns, fmt.Sprintf("%s: %s", roleLabel(msg.Role), text))
	}

	return Input{
		Prompt:       strings.Join(turns, "\n\n"),
		SystemPrompt: strings.Join(system, "\n"),
		FirstTurn:    true,
	}
}

// ContinueTurn picks the newest user message; the backend already holds the
// rest of the conversation in its session.
func ContinueTurn(messages []openai.ChatMessage) (Input, error) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == openai.RoleUser {
			return Input{Prompt: messages[i].Content.String()}, nil
		}
	}
	return Input{}, ErrMissingUserMessage
}

func roleLabel(role string) string {
	switch role {
	case openai.RoleUser:
		return "User"
	case openai.RoleAssistant:
		return "Assistant"
	default:
		if role == "" {
			return "User"
		}
		return strings.ToUpper(role[:1]) + role[1:]
	}
}

// Response maps a backend result into the synchronous response envelope.
func Response(result *claude.Result, model string) openai.ChatCompletion {
	finishReason := "stop"
	if result.IsError {
		finishReason = "error"
	}

	return openai.ChatCompletion{
		ID:      NewCompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []openai.Choice{{
			Index: 0,
			Message: openai.AssistantMessage{
				Role:    openai.RoleAssistant,
				Content: result.Result,
			},
			FinishReason: finishReason,
		}},
		Usage: usage(result.Usage),
	}
}

func usage(u claude.Usage) openai.Usage {
	prompt := u.InputTokens + u.CacheReadInputTokens + u.CacheCreationInputTokens
	return openai.Usage{
		PromptTokens:     prompt,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      prompt + u.OutputTokens,
	}
}

// NewCompletionID generates the completion identifier shared by every frame
// of one response.
func NewCompletionID() string {
	return "chatcmpl-" + uuid.NewString()
}

// StreamStart renders the opening frame that names the assistant role.
func StreamStart(id, model string, created int64) openai.ChatCompletionChunk {
	return openai.ChatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []openai.ChunkChoice{{
			Index: 0,
			Delta: openai.Delta{Role: openai.RoleAssistant},
		}},
	}
}

// StreamDelta renders one incremental text fragment as a self-contained
// frame. The id and created timestamp are fixed per completion so frames of
// one response stay correlated.
func StreamDelta(id, model string, created int64, text string) openai.ChatCompletionChunk {
	return openai.ChatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []openai.ChunkChoice{{
			Index: 0,
			Delta: openai.Delta{Content: text},
		}},
	}
}

// StreamDone renders the terminal frame carrying the finish reason.
func StreamDone(id, model string, created int64) openai.ChatCompletionChunk {
	stop := "stop"
	return openai.ChatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []openai.ChunkChoice{{
			Index:        0,
			Delta:        openai.Delta{},
			FinishReason: &stop,
		}},
	}
}

// Model tiers the backend understands.
var modelTiers = []string{"haiku", "sonnet", "opus"}

// MapModelName resolves a requested model name to a backend tier. Matching
// is case-insensitive and substring-based so full product identifiers like
// "claude-opus-4-20250514" still resolve; anything unrecognized falls back.
func MapModelName(requested, fallback string) string {
	lower := strings.ToLower(requested)
	for _, tier := range modelTiers {
		if strings.Contains(lower, tier) {
			return tier
		}
	}
	return fallback
}

// SupportedModels lists the tiers advertised on /v1/models.
func SupportedModels() []string {
	return append([]string(nil), modelTiers...)
}
