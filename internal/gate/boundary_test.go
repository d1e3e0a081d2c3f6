package gate

import (
	"strings"
	"testing"
)

func TestCheckCommandBoundary(t *testing.T) {
	const (
		workingDir  = "/root/projects/myapp"
		approvedDir = "/root/projects"
	)

	t.Run("Relative Inside", func(t *testing.T) {
		ok, _ := CheckCommandBoundary("mkdir -p newdir", workingDir, approvedDir)
		if !ok {
			t.Error("Expected mkdir of relative dir to be allowed")
		}
	})

	t.Run("Absolute Outside", func(t *testing.T) {
		ok, reason := CheckCommandBoundary("mkdir -p /root/web1", workingDir, approvedDir)
		if ok {
			t.Fatal("Expected mkdir outside root to be denied")
		}
		if !strings.Contains(reason, "/root/web1") {
			t.Errorf("Reason should name the offending path: %q", reason)
		}
	})

	t.Run("Relative Escape", func(t *testing.T) {
		ok, _ := CheckCommandBoundary("mkdir ../../evil", workingDir, approvedDir)
		if ok {
			t.Error("Expected relative escape to be denied")
		}
	})

	t.Run("Read Only Bypass", func(t *testing.T) {
		for _, cmd := range []string{"cat /etc/hosts", "ls /tmp", "head -n 5 /var/log/syslog"} {
			if ok, reason := CheckCommandBoundary(cmd, workingDir, approvedDir); !ok {
				t.Errorf("Expected %q to be allowed: %s", cmd, reason)
			}
		}
	})

	t.Run("Non Filesystem Command", func(t *testing.T) {
		ok, _ := CheckCommandBoundary("go build /tmp/elsewhere", workingDir, approvedDir)
		if !ok {
			t.Error("Expected non-fs command to bypass the boundary check")
		}
	})

	t.Run("Flags Skipped", func(t *testing.T) {
		ok, _ := CheckCommandBoundary("cp -r src dst", workingDir, approvedDir)
		if !ok {
			t.Error("Expected flag tokens to be skipped")
		}
	})

	t.Run("Find Browsing", func(t *testing.T) {
		ok, _ := CheckCommandBoundary("find /etc -name '*.conf'", workingDir, approvedDir)
		if !ok {
			t.Error("Expected non-mutating find to be allowed anywhere")
		}
	})

	t.Run("Find Mutating", func(t *testing.T) {
		for _, cmd := range []string{
			"find /etc -name '*.conf' -delete",
			"find /tmp -name x -exec rm {} +",
		} {
			if ok, _ := CheckCommandBoundary(cmd, workingDir, approvedDir); ok {
				t.Errorf("Expected %q to be denied", cmd)
			}
		}
		if ok, _ := CheckCommandBoundary("find . -name '*.go' -delete", workingDir, approvedDir); !ok {
			t.Error("Expected mutating find inside root to be allowed")
		}
	})

	t.Run("Unparseable", func(t *testing.T) {
		ok, _ := CheckCommandBoundary(`echo "unclosed`, workingDir, approvedDir)
		if !ok {
			t.Error("Expected unparseable command to be allowed")
		}
	})

	t.Run("Empty", func(t *testing.T) {
		if ok, _ := CheckCommandBoundary("", workingDir, approvedDir); !ok {
			t.Error("Expected empty command to be allowed")
		}
	})
}
