package gate

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/shlex"

	"github.com/wardenhq/warden/internal/pathsafe"
)

// fsModifyingCommands modify the filesystem and have their path arguments
// checked against the approved directory.
var fsModifyingCommands = map[string]bool{
	"mkdir":   true,
	"touch":   true,
	"cp":      true,
	"mv":      true,
	"rm":      true,
	"rmdir":   true,
	"ln":      true,
	"install": true,
	"tee":     true,
}

// readOnlyCommands are read-only or take no filesystem paths; they bypass
// the boundary check entirely.
var readOnlyCommands = map[string]bool{
	"cat": true, "ls": true, "head": true, "tail": true,
	"less": true, "more": true, "which": true, "whoami": true,
	"pwd": true, "echo": true, "printf": true, "env": true,
	"printenv": true, "date": true, "wc": true, "sort": true,
	"uniq": true, "diff": true, "file": true, "stat": true,
	"du": true, "df": true, "tree": true, "realpath": true,
	"dirname": true, "basename": true,
}

// findMutatingActions make `find` a filesystem-modifying command.
var findMutatingActions = map[string]bool{
	"-delete":  true,
	"-exec":    true,
	"-execdir": true,
	"-ok":      true,
	"-okdir":   true,
}

// CheckCommandBoundary verifies that a shell command's path arguments stay
// within the approved directory. Commands that fail to tokenize are
// allowed, deferring to process-level sandboxing.
func CheckCommandBoundary(command, workingDir, approvedDir string) (bool, string) {
	tokens, err := shlex.Split(command)
	if err != nil || len(tokens) == 0 {
		return true, ""
	}

	base := filepath.Base(tokens[0])

	if readOnlyCommands[base] {
		return true, ""
	}

	if base == "find" {
		mutating := false
		for _, t := range tokens[1:] {
			if findMutatingActions[t] {
				mutating = true
				break
			}
		}
		if !mutating {
			return true, ""
		}
	} else if !fsModifyingCommands[base] {
		return true, ""
	}

	root := filepath.Clean(approvedDir)

	for _, token := range tokens[1:] {
		if strings.HasPrefix(token, "-") {
			continue
		}

		var resolved string
		if filepath.IsAbs(token) {
			resolved = filepath.Clean(token)
		} else {
			resolved = filepath.Join(workingDir, token)
		}

		if !pathsafe.Within(resolved, root) {
			return false, fmt.Sprintf(
				"directory boundary violation: '%s' targets '%s' which is outside approved directory '%s'",
				base, token, root,
			)
		}
	}

	return true, ""
}
