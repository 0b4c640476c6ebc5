package session

import (
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/claudeway/claudeway/internal/openai"
)

// fingerprintTextLen truncates each message's text before hashing.
const fingerprintTextLen = 100

// Key derives the conversation key for a request. An explicit client-
// supplied identifier wins; otherwise the conversation's leading messages
// (everything up to and including the first user message — the prefix that
// stays identical as the exchange grows) are hashed into a short token.
// Deterministic for equal input within the process lifetime. Collisions
// only cost cache correctness (a miss or a benign context mismatch), never
// data, so a fast non-cryptographic hash is deliberate.
func Key(explicit string, messages []openai.ChatMessage) string {
	if explicit != "" {
		return explicit
	}

	var sb strings.Builder
	for _, msg := range messages {
		text := msg.Content.String()
		if len(text) > fingerprintTextLen {
			text = text[:fingerprintTextLen]
		}
		sb.WriteString(msg.Role)
		sb.WriteString(":")
		sb.WriteString(text)
		sb.WriteString("\x00")
		if msg.Role == openai.RoleUser {
			break
		}
	}

	return fmt.Sprintf("conv-%016x", xxh3.HashString(sb.String()))
}
