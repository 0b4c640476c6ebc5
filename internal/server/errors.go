package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/claudeway/claudeway/internal/claude"
	"github.com/claudeway/claudeway/internal/openai"
)

// maxDiagnosticLen bounds how much backend detail leaks into an outward
// error message.
const maxDiagnosticLen = 256

func jsonEncode(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, status int, detail openai.ErrorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(openai.ErrorResponse{Error: detail})
}

// classifyBackendError maps a backend failure to an HTTP status and error
// envelope. Client-caused failures never reach this path; everything here
// is upstream-caused.
func classifyBackendError(err error) (int, openai.ErrorDetail) {
	switch {
	case claude.IsRateLimited(err):
		return http.StatusTooManyRequests, openai.ErrorDetail{
			Message: "backend rate limit reached, try another provider or wait",
			Type:    openai.ErrorTypeRateLimit,
			Code:    "rate_limited",
		}
	case claude.IsAuthExpired(err):
		return http.StatusUnauthorized, openai.ErrorDetail{
			Message: "backend authentication expired, re-authenticate the agent",
			Type:    openai.ErrorTypeAuthentication,
			Code:    "auth_expired",
		}
	case errors.Is(err, claude.ErrTimeout):
		return http.StatusGatewayTimeout, openai.ErrorDetail{
			Message: "backend invocation timed out",
			Type:    openai.ErrorTypeAPI,
			Code:    "timeout",
		}
	case claude.IsSessionNotFound(err):
		return http.StatusServiceUnavailable, openai.ErrorDetail{
			Message: "backend session expired, retry to start a fresh conversation",
			Type:    openai.ErrorTypeAPI,
			Code:    "session_expired",
		}
	}

	var malformed *claude.MalformedOutputError
	if errors.As(err, &malformed) {
		return http.StatusBadGateway, openai.ErrorDetail{
			Message: "backend produced unparseable output",
			Type:    openai.ErrorTypeAPI,
			Code:    "malformed_backend_output",
		}
	}

	return http.StatusBadGateway, openai.ErrorDetail{
		Message: truncateDiagnostic(err.Error()),
		Type:    openai.ErrorTypeAPI,
		Code:    "upstream_error",
	}
}

func truncateDiagnostic(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxDiagnosticLen {
		return s
	}
	return s[:maxDiagnosticLen] + "..."
}
