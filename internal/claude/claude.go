// Package claude drives the Claude Code CLI as an opaque conversational
// backend. The prompt travels over stdin only; everything else is command
// line flags. Synchronous invocations produce one JSON result document,
// streaming invocations a sequence of newline-delimited JSON events.
package claude

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds a synchronous invocation when the caller's
	// context has no deadline.
	DefaultTimeout = 10 * time.Minute

	// maxOutputBytes caps how much synchronous stdout is buffered.
	maxOutputBytes = 10 << 20

	// maxLineBytes caps a single streaming event line.
	maxLineBytes = 1 << 20
)

// Environment variables the backend uses to detect that it is already
// running inside an agent session. It refuses to start nested, so these
// must never leak into the child process.
var nestedSessionVars = []string{
	"CLAUDECODE",
	"CLAUDE_CODE_ENTRYPOINT",
	"CLAUDE_CODE_SSE_PORT",
}

// Runner is the narrow interface the orchestrator depends on, so it can be
// tested against a deterministic stub without spawning processes.
type Runner interface {
	// Run executes one blocking exchange and parses the result document.
	Run(ctx context.Context, prompt string, opts RunOptions) (*Result, error)

	// Stream executes one exchange in streaming mode. The returned
	// channel delivers parsed events and is closed when the process's
	// output ends; stream failures arrive in-band as EventError. The
	// subprocess is always reaped before the channel closes.
	Stream(ctx context.Context, prompt string, opts RunOptions) <-chan Event
}

// Client invokes the backend executable.
type Client struct {
	path    string
	timeout time.Duration
}

// NewClient returns a Client for the given executable path. A timeout of
// zero means DefaultTimeout.
func NewClient(path string, timeout time.Duration) (*Client, error) {
	if path == "" {
		return nil, fmt.Errorf("claude: executable path cannot be empty")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{path: path, timeout: timeout}, nil
}

// buildArgs assembles the command line for one invocation. The prompt is
// deliberately absent: it is piped via stdin to dodge argv length limits
// and shell-quoting hazards.
func buildArgs(opts RunOptions, stream bool) []string {
	args := []string{"--print"}

	if stream {
		// stream-json without --verbose and partial messages makes the
		// backend exit without usable output; the three flags travel
		// together.
		args = append(args,
			"--output-format", "stream-json",
			"--verbose",
			"--include-partial-messages",
		)
	} else {
		args = append(args, "--output-format", "json")
	}

	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}

	// The session id rides on every call: created on first turn, resumed
	// afterwards. Backend prompt-cache reuse depends on this.
	if opts.Resume {
		args = append(args, "--resume", opts.SessionID)
	} else {
		args = append(args, "--session-id", opts.SessionID)
	}

	if opts.SystemPrompt != "" && !opts.Resume {
		args = append(args, "--append-system-prompt", opts.SystemPrompt)
	}

	args = append(args, "--max-turns", strconv.Itoa(opts.MaxTurns))

	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(opts.AllowedTools, ","))
	}

	return args
}

// cleanEnviron strips the nested-session markers from the ambient
// environment.
func cleanEnviron(environ []string) []string {
	cleaned := make([]string, 0, len(environ))
	for _, kv := range environ {
		name, _, _ := strings.Cut(kv, "=")
		if isNestedSessionVar(name) {
			continue
		}
		cleaned = append(cleaned, kv)
	}
	return cleaned
}

func isNestedSessionVar(name string) bool {
	for _, v := range nestedSessionVars {
		if name == v {
			return true
		}
	}
	return false
}

// Run implements Runner.
func (c *Client) Run(ctx context.Context, prompt string, opts RunOptions) (*Result, error) {
	if prompt == "" {
		return nil, fmt.Errorf("claude: prompt cannot be empty")
	}
	if opts.SessionID == "" {
		return nil, fmt.Errorf("claude: session id cannot be empty")
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.path, buildArgs(opts, false)...)
	cmd.Stdin = strings.NewReader(prompt)
	cmd.Env = cleanEnviron(os.Environ())

	var stdout, stderr boundedBuffer
	stdout.limit = maxOutputBytes
	stderr.limit = maxOutputBytes
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s", ErrTimeout, time.Since(start).Round(time.Millisecond))
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return nil, &ProcessError{ExitCode: exitCode, Stderr: diagnostic(stderr.String(), stdout.String())}
	}

	var result Result
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, &MalformedOutputError{Output: stdout.String()}
	}

	slog.Debug("claude run finished",
		"session_id", result.SessionID,
		"num_turns", result.NumTurns,
		"duration", time.Since(start),
	)
	return &result, nil
}

// Stream implements Runner. Events are parsed one per line; lines that are
// not JSON events are progress noise and skipped.
func (c *Client) Stream(ctx context.Context, prompt string, opts RunOptions) <-chan Event {
	events := make(chan Event)

	go func() {
		defer close(events)

		if prompt == "" {
			events <- Event{Type: EventError, Err: fmt.Errorf("claude: prompt cannot be empty")}
			return
		}
		if opts.SessionID == "" {
			events <- Event{Type: EventError, Err: fmt.Errorf("claude: session id cannot be empty")}
			return
		}

		cmd := exec.CommandContext(ctx, c.path, buildArgs(opts, true)...)
		cmd.Stdin = strings.NewReader(prompt)
		cmd.Env = cleanEnviron(os.Environ())

		var stderr boundedBuffer
		stderr.limit = maxOutputBytes
		cmd.Stderr = &stderr

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			events <- Event{Type: EventError, Err: fmt.Errorf("claude: stdout pipe: %w", err)}
			return
		}
		if err := cmd.Start(); err != nil {
			events <- Event{Type: EventError, Err: fmt.Errorf("claude: start: %w", err)}
			return
		}

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64<<10), maxLineBytes)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "{") {
				continue
			}
			var parsed streamLine
			if err := json.Unmarshal([]byte(line), &parsed); err != nil {
				continue
			}
			switch parsed.Type {
			case lineTypeStreamEvent:
				if parsed.Event != nil {
					events <- Event{Type: EventStream, Stream: parsed.Event}
				}
			case lineTypeResult:
				events <- Event{Type: EventResult, Result: &Result{
					Type:       parsed.Type,
					Subtype:    parsed.Subtype,
					IsError:    parsed.IsError,
					Result:     parsed.Result,
					SessionID:  parsed.SessionID,
					NumTurns:   parsed.NumTurns,
					DurationMS: parsed.DurationMS,
					TotalCost:  parsed.TotalCost,
					Usage:      parsed.Usage,
				}}
			}
		}
		scanErr := scanner.Err()

		// The output channel is exhausted; reap the process. An absent
		// exit status (killed externally or by ctx) is not a stream
		// failure, that is the caller's concern.
		err = cmd.Wait()
		if scanErr != nil {
			events <- Event{Type: EventError, Err: fmt.Errorf("claude: reading stream: %w", scanErr)}
			return
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
			events <- Event{
				Type: EventError,
				Err:  &ProcessError{ExitCode: exitErr.ExitCode(), Stderr: diagnostic(stderr.String(), "")},
			}
		}
	}()

	return events
}

// diagnostic picks the most useful error excerpt from captured output.
func diagnostic(stderr, stdout string) string {
	if s := strings.TrimSpace(stderr); s != "" {
		return s
	}
	return strings.TrimSpace(stdout)
}

// boundedBuffer accumulates writes up to a fixed limit and drops the rest,
// so a runaway backend cannot exhaust memory.
type boundedBuffer struct {
	buf   strings.Builder
	limit int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *boundedBuffer) String() string { return b.buf.String() }

func (b *boundedBuffer) Bytes() []byte { return []byte(b.buf.String()) }

var _ io.Writer = (*boundedBuffer)(nil)
