package claude

import "time"

// RunOptions controls a single backend invocation.
type RunOptions struct {
	// Model is the backend model tier (haiku, sonnet, opus).
	Model string

	// SystemPrompt is only meaningful on a first turn; the backend keeps
	// it in its own session memory afterwards.
	SystemPrompt string

	// SessionID is always required. On a first turn the backend creates
	// the session under this id; on a continuation it resumes it.
	// Reusing the same id across turns is what keys the backend's prompt
	// cache.
	SessionID string

	// Resume marks a continuation turn.
	Resume bool

	// MaxTurns bounds the backend's internal agentic loop.
	MaxTurns int

	// AllowedTools restricts the backend's tool use.
	AllowedTools []string
}

// Usage are the token counters reported by the backend.
type Usage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
}

// Result is the single JSON document the backend prints in synchronous
// mode, and the payload of the terminal "result" event in streaming mode.
type Result struct {
	Type       string  `json:"type"`
	Subtype    string  `json:"subtype"`
	IsError    bool    `json:"is_error"`
	Result     string  `json:"result"`
	SessionID  string  `json:"session_id"`
	NumTurns   int     `json:"num_turns"`
	DurationMS int64   `json:"duration_ms"`
	TotalCost  float64 `json:"total_cost_usd"`
	Usage      Usage   `json:"usage"`
}

// Duration is the backend-reported wall time of the exchange.
func (r *Result) Duration() time.Duration {
	return time.Duration(r.DurationMS) * time.Millisecond
}

// Line-level event discriminants in streaming mode.
const (
	lineTypeStreamEvent = "stream_event"
	lineTypeResult      = "result"
)

// Nested message-event kinds inside a stream event.
const (
	MessageEventBlockStart = "content_block_start"
	MessageEventBlockDelta = "content_block_delta"
	MessageEventBlockStop  = "content_block_stop"
)

// Content block and delta kinds the reasoning filter cares about.
const (
	BlockKindThinking  = "thinking"
	DeltaKindText      = "text_delta"
	DeltaKindThinking  = "thinking_delta"
	DeltaKindSignature = "signature_delta"
)

// streamLine is one newline-delimited JSON line of streaming output.
type streamLine struct {
	Type  string        `json:"type"`
	Event *MessageEvent `json:"event"`

	// Result fields, present when Type is "result".
	Subtype    string  `json:"subtype"`
	IsError    bool    `json:"is_error"`
	Result     string  `json:"result"`
	SessionID  string  `json:"session_id"`
	NumTurns   int     `json:"num_turns"`
	DurationMS int64   `json:"duration_ms"`
	TotalCost  float64 `json:"total_cost_usd"`
	Usage      Usage   `json:"usage"`
}

// MessageEvent is a sub-event nested inside a stream event: the start or
// stop of a content block, or an incremental delta within one.
type MessageEvent struct {
	Type         string        `json:"type"`
	Index        int           `json:"index"`
	ContentBlock *ContentBlock `json:"content_block"`
	Delta        *MessageDelta `json:"delta"`
}

type ContentBlock struct {
	Type string `json:"type"`
}

type MessageDelta struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Thinking string `json:"thinking"`
}

// EventType discriminates events on the streaming channel.
type EventType string

const (
	// EventStream carries one nested message event.
	EventStream EventType = "stream_event"
	// EventResult carries the terminal result document.
	EventResult EventType = "result"
	// EventError reports a failure of the stream itself.
	EventError EventType = "error"
)

// Event is what the streaming channel delivers. Exactly one of the payload
// fields is set, according to Type.
type Event struct {
	Type   EventType
	Stream *MessageEvent
	Result *Result
	Err    error
}
