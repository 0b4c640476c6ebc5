// Package config loads gateway configuration from the environment.
// All settings are optional; zero configuration yields a working gateway
// talking to a `claude` binary found on PATH.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPort           = 8000
	DefaultModel          = "sonnet"
	DefaultMaxTurns       = 10
	DefaultRequestTimeout = 10 * time.Minute
	DefaultSessionTTL     = time.Hour
	DefaultSweepInterval  = 5 * time.Minute
	DefaultClaudePath     = "claude"
)

// Config holds all gateway settings, read once at startup.
type Config struct {
	// Port is the TCP port the HTTP server listens on.
	Port int

	// DefaultModel is the model tier used when a request names no
	// recognizable model.
	DefaultModel string

	// AllowedTools is passed through to the backend to bound what the
	// agent may do on our behalf.
	AllowedTools []string

	// MaxTurns caps the backend's internal agentic loop.
	MaxTurns int

	// RequestTimeout is the wall-clock limit for a synchronous backend
	// invocation.
	RequestTimeout time.Duration

	// SessionTTL is how long an idle conversation keeps its backend
	// session alive.
	SessionTTL time.Duration

	// SweepInterval is how often expired sessions are swept.
	SweepInterval time.Duration

	// ClaudePath is the backend executable.
	ClaudePath string

	// LogFile, when set, enables rotating JSON file logging.
	LogFile string

	Debug bool
}

// Load reads configuration from environ (as returned by os.Environ).
func Load(environ []string) (*Config, error) {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	cfg := &Config{
		Port:           DefaultPort,
		DefaultModel:   DefaultModel,
		MaxTurns:       DefaultMaxTurns,
		RequestTimeout: DefaultRequestTimeout,
		SessionTTL:     DefaultSessionTTL,
		SweepInterval:  DefaultSweepInterval,
		ClaudePath:     DefaultClaudePath,
	}

	var err error
	if cfg.Port, err = intVar(env, "PORT", cfg.Port); err != nil {
		return nil, err
	}
	if v := env["DEFAULT_MODEL"]; v != "" {
		cfg.DefaultModel = v
	}
	if v := env["ALLOWED_TOOLS"]; v != "" {
		for _, tool := range strings.Split(v, ",") {
			if tool = strings.TrimSpace(tool); tool != "" {
				cfg.AllowedTools = append(cfg.AllowedTools, tool)
			}
		}
	}
	if cfg.MaxTurns, err = intVar(env, "MAX_TURNS", cfg.MaxTurns); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = durationVar(env, "REQUEST_TIMEOUT", cfg.RequestTimeout); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = durationVar(env, "SESSION_TTL", cfg.SessionTTL); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = durationVar(env, "SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return nil, err
	}
	if v := env["CLAUDE_PATH"]; v != "" {
		cfg.ClaudePath = v
	}
	cfg.LogFile = env["LOG_FILE"]
	if v := env["DEBUG"]; v != "" {
		if cfg.Debug, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("invalid DEBUG value %q: %w", v, err)
		}
	}

	return cfg, nil
}

func intVar(env map[string]string, key string, def int) (int, error) {
	v, ok := env[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	return n, nil
}

func durationVar(env map[string]string, key string, def time.Duration) (time.Duration, error) {
	v, ok := env[key]
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	return d, nil
}
