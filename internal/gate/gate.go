// Package gate enforces the runtime tool authorization policy over the
// tool calls an agent execution attempts.
package gate

import (
	"fmt"
	"strings"
	"sync"

	"github.com/wardenhq/warden/internal/observe"
	"github.com/wardenhq/warden/internal/pathsafe"
)

// fileTools carry a target path in their input and require path validation.
var fileTools = map[string]bool{
	"Read": true, "Write": true, "Edit": true,
	"read_file": true, "create_file": true, "edit_file": true,
}

// shellTools execute raw command strings.
var shellTools = map[string]bool{
	"Bash": true, "bash": true, "shell": true,
}

// dangerousShellPatterns are scanned against the lowercased command string.
// Any match denies the call outright.
var dangerousShellPatterns = []string{
	"rm -rf",
	"sudo",
	"chmod 777",
	"curl",
	"wget",
	"nc ",
	"netcat",
	">",
	">>",
	"|",
	"&",
	";",
	"$(",
	"`",
}

// Violation records one denied tool call for later reporting.
type Violation struct {
	Kind       string
	ToolName   string
	UserID     int64
	WorkingDir string
	Detail     string
}

// Stats summarizes tool usage across all executions.
type Stats struct {
	TotalCalls  int
	ByTool      map[string]int
	UniqueTools int
	Violations  int
}

// UserUsage summarizes one user's security record.
type UserUsage struct {
	UserID         int64
	Violations     int
	ViolationKinds []string
}

// Authorizer is the runtime tool authorization policy. It is safe for
// concurrent use across executions.
type Authorizer struct {
	policy    Policy
	validator *pathsafe.Validator
	obs       *observe.Observer

	mu         sync.Mutex
	usage      map[string]int
	violations []Violation
}

// New creates an Authorizer from a policy and a path validator rooted at
// the approved directory.
func New(policy Policy, validator *pathsafe.Validator, obs *observe.Observer) *Authorizer {
	return &Authorizer{
		policy:    policy,
		validator: validator,
		obs:       obs,
		usage:     make(map[string]int),
	}
}

// Authorize decides whether a proposed tool invocation may proceed.
// Checks run in fixed order; the first failure wins. On success the tool's
// usage counter is incremented.
func (a *Authorizer) Authorize(toolName string, toolInput map[string]any, workingDir string, userID int64) (bool, string) {
	a.obs.Log().Debug().
		Str("tool", toolName).
		Str("working_dir", workingDir).
		Msg("validating tool call")

	if !a.policy.DisableToolChecks && len(a.policy.AllowedTools) > 0 {
		if !contains(a.policy.AllowedTools, toolName) {
			a.recordViolation(Violation{
				Kind: "disallowed_tool", ToolName: toolName,
				UserID: userID, WorkingDir: workingDir,
			})
			return false, fmt.Sprintf("tool not allowed: %s", toolName)
		}
	}

	if !a.policy.DisableToolChecks && contains(a.policy.DisallowedTools, toolName) {
		a.recordViolation(Violation{
			Kind: "explicitly_disallowed_tool", ToolName: toolName,
			UserID: userID, WorkingDir: workingDir,
		})
		return false, fmt.Sprintf("tool explicitly disallowed: %s", toolName)
	}

	if fileTools[toolName] {
		path, _ := toolInput["path"].(string)
		if path == "" {
			path, _ = toolInput["file_path"].(string)
		}
		if path == "" {
			return false, "file path required"
		}

		if _, err := a.validator.Validate(path, workingDir); err != nil {
			a.recordViolation(Violation{
				Kind: "invalid_file_path", ToolName: toolName,
				UserID: userID, WorkingDir: workingDir, Detail: err.Error(),
			})
			return false, err.Error()
		}
	}

	if shellTools[toolName] && !a.policy.RelaxedShell {
		command, _ := toolInput["command"].(string)
		lowered := strings.ToLower(command)

		for _, pattern := range dangerousShellPatterns {
			if strings.Contains(lowered, pattern) {
				a.recordViolation(Violation{
					Kind: "dangerous_command", ToolName: toolName,
					UserID: userID, WorkingDir: workingDir, Detail: pattern,
				})
				return false, fmt.Sprintf("dangerous command pattern detected: %s", pattern)
			}
		}

		if ok, reason := CheckCommandBoundary(command, workingDir, a.validator.ApprovedDir()); !ok {
			a.recordViolation(Violation{
				Kind: "directory_boundary_violation", ToolName: toolName,
				UserID: userID, WorkingDir: workingDir, Detail: reason,
			})
			return false, reason
		}
	}

	a.mu.Lock()
	a.usage[toolName]++
	a.mu.Unlock()

	return true, ""
}

// AllowedTools returns the configured allow list, or the default tool set
// when no list is configured. Used for caller-facing remediation messages.
func (a *Authorizer) AllowedTools() []string {
	if len(a.policy.AllowedTools) > 0 {
		return a.policy.AllowedTools
	}
	return DefaultAllowedTools
}

// Stats returns aggregate tool usage statistics.
func (a *Authorizer) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	byTool := make(map[string]int, len(a.usage))
	total := 0
	for name, n := range a.usage {
		byTool[name] = n
		total += n
	}
	return Stats{
		TotalCalls:  total,
		ByTool:      byTool,
		UniqueTools: len(byTool),
		Violations:  len(a.violations),
	}
}

// UserStats returns the security record of one user.
func (a *Authorizer) UserStats(userID int64) UserUsage {
	a.mu.Lock()
	defer a.mu.Unlock()

	kinds := make(map[string]bool)
	count := 0
	for _, v := range a.violations {
		if v.UserID == userID {
			count++
			kinds[v.Kind] = true
		}
	}
	out := UserUsage{UserID: userID, Violations: count}
	for k := range kinds {
		out.ViolationKinds = append(out.ViolationKinds, k)
	}
	return out
}

func (a *Authorizer) recordViolation(v Violation) {
	a.mu.Lock()
	a.violations = append(a.violations, v)
	a.mu.Unlock()

	a.obs.Log().Warn().
		Str("kind", v.Kind).
		Str("tool", v.ToolName).
		Str("working_dir", v.WorkingDir).
		Str("detail", v.Detail).
		Msg("tool call denied")
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
