package agent

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TimeoutError reports that an execution exceeded its deadline. The
// subprocess has already been killed when this surfaces.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("codex CLI timed out after %s", e.Timeout)
}

// ProcessKind classifies a ProcessError.
type ProcessKind int

const (
	// KindGeneric covers non-zero exits and spawn failures.
	KindGeneric ProcessKind = iota
	// KindAuth means the codex CLI is not logged in.
	KindAuth
	// KindMCP means an MCP server failed to connect or configure.
	KindMCP
)

// ProcessError reports a failed agent process run.
type ProcessError struct {
	Kind       ProcessKind
	Message    string
	ServerName string // MCP server, when known.
}

func (e *ProcessError) Error() string {
	return e.Message
}

// ParsingError reports output the adapter could not interpret at all.
// Unknown-but-tolerated event shapes are ignored, not errors.
type ParsingError struct {
	Message string
}

func (e *ParsingError) Error() string {
	return e.Message
}

// SessionError reports a session-state inconsistency.
type SessionError struct {
	Message string
}

func (e *SessionError) Error() string {
	return e.Message
}

// ToolValidationError reports a tool call blocked by the authorization
// gate. It aborts the in-flight execution and is never retried.
type ToolValidationError struct {
	Tool    string
	Reason  string
	Allowed []string
}

func (e *ToolValidationError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("tool not allowed: %s", e.Tool)
}

// Retryable reports whether a failed resume should be retried once as a
// fresh session. Authentication and MCP failures are never retried
// (starting fresh fixes neither credentials nor infrastructure), and
// neither are timeouts or tool validation failures. Generic process
// errors are: they cover stale-session symptoms such as "no conversation
// found", "unexpected argument", "no last agent message", and bare
// non-zero exits.
func Retryable(err error) bool {
	var pe *ProcessError
	if errors.As(err, &pe) {
		return pe.Kind == KindGeneric
	}
	return false
}

// joinTail joins the last n entries of lines.
func joinTail(lines []string, n int) string {
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
