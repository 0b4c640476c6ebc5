package claude

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTimeout reports that an invocation exceeded its wall-clock deadline.
var ErrTimeout = errors.New("claude: invocation timed out")

// ProcessError reports a non-zero backend exit, carrying a bounded excerpt
// of its diagnostic output.
type ProcessError struct {
	ExitCode int
	Stderr   string
}

func (e *ProcessError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("claude: process exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("claude: process exited with code %d: %s", e.ExitCode, e.Stderr)
}

// MalformedOutputError reports unparseable synchronous output.
type MalformedOutputError struct {
	Output string
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("claude: malformed output: %s", truncate(e.Output, 200))
}

// Known failure phrases in backend error text. The backend reports these
// conditions as free text, so classification is by substring match.
var (
	rateLimitPhrases = []string{
		"rate limit",
		"usage limit reached",
		"quota exceeded",
		"overloaded_error",
		"too many requests",
		"try again later",
	}
	authPhrases = []string{
		"invalid api key",
		"please run /login",
		"authentication_error",
		"oauth token has expired",
		"credit balance is too low",
	}
	sessionPhrases = []string{
		"no conversation found with session",
		"session not found",
	}
)

// IsRateLimited reports whether err carries a backend rate-limit, quota, or
// cooldown signal.
func IsRateLimited(err error) bool {
	return matchesAny(err, rateLimitPhrases)
}

// IsAuthExpired reports whether err carries a credential or login failure.
func IsAuthExpired(err error) bool {
	return matchesAny(err, authPhrases)
}

// IsSessionNotFound reports whether the backend no longer knows the session
// the gateway asked it to resume.
func IsSessionNotFound(err error) bool {
	return matchesAny(err, sessionPhrases)
}

// ResultError inspects an error-flagged result document for the known
// failure phrases and, on a match, promotes it to an error. Error-flagged
// results without a recognized phrase return nil; they render as ordinary
// responses with an error finish reason.
func ResultError(result *Result) error {
	if result == nil || !result.IsError {
		return nil
	}
	err := errors.New(result.Result)
	if matchesAny(err, rateLimitPhrases) || matchesAny(err, authPhrases) || matchesAny(err, sessionPhrases) {
		return fmt.Errorf("claude: backend reported error: %w", err)
	}
	return nil
}

func matchesAny(err error, phrases []string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range phrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
