package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, DefaultPort, cfg.Port)
	require.Equal(t, DefaultModel, cfg.DefaultModel)
	require.Equal(t, DefaultMaxTurns, cfg.MaxTurns)
	require.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout)
	require.Equal(t, DefaultSessionTTL, cfg.SessionTTL)
	require.Equal(t, DefaultClaudePath, cfg.ClaudePath)
	require.Empty(t, cfg.AllowedTools)
	require.False(t, cfg.Debug)
}

func TestLoad_Overrides(t *testing.T) {
	t.Parallel()

	cfg, err := Load([]string{
		"PORT=9000",
		"DEFAULT_MODEL=opus",
		"ALLOWED_TOOLS=Read, Grep ,",
		"MAX_TURNS=3",
		"REQUEST_TIMEOUT=30s",
		"SESSION_TTL=10m",
		"CLAUDE_PATH=/opt/claude",
		"DEBUG=true",
	})
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Port)
	require.Equal(t, "opus", cfg.DefaultModel)
	require.Equal(t, []string{"Read", "Grep"}, cfg.AllowedTools)
	require.Equal(t, 3, cfg.MaxTurns)
	require.Equal(t, 30*time.Second, cfg.RequestTimeout)
	require.Equal(t, 10*time.Minute, cfg.SessionTTL)
	require.Equal(t, "/opt/claude", cfg.ClaudePath)
	require.True(t, cfg.Debug)
}

func TestLoad_Invalid(t *testing.T) {
	t.Parallel()

	_, err := Load([]string{"PORT=not-a-number"})
	require.Error(t, err)

	_, err = Load([]string{"SESSION_TTL=soon"})
	require.Error(t, err)
}
