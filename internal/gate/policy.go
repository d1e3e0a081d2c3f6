package gate

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy defines the tool authorization rules for agent executions.
type Policy struct {
	// AllowedTools, when non-empty, is the closed list of permitted tools.
	AllowedTools []string `yaml:"allowed_tools"`
	// DisallowedTools are denied even when the allow list would admit them.
	DisallowedTools []string `yaml:"disallowed_tools"`
	// RelaxedShell skips shell content checks; the agent's own sandbox is
	// trusted to enforce execution boundaries.
	RelaxedShell bool `yaml:"relaxed_shell"`
	// DisableToolChecks skips the allow/deny list checks entirely.
	DisableToolChecks bool `yaml:"disable_tool_checks"`
}

// DefaultAllowedTools is the standard tool set granted when no explicit
// allow list is configured.
var DefaultAllowedTools = []string{
	"Read", "Write", "Edit", "MultiEdit", "Bash",
	"Glob", "Grep", "LS", "Task",
	"NotebookRead", "NotebookEdit",
	"WebFetch", "WebSearch", "TodoRead", "TodoWrite",
}

// LoadPolicy reads a Policy from a YAML file.
func LoadPolicy(path string) (Policy, error) {
	var p Policy
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return p, fmt.Errorf("failed to read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to parse policy file: %w", err)
	}
	return p, nil
}
