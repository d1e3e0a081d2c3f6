// Package pathsafe validates user- and agent-supplied filesystem paths
// against an approved root directory.
package pathsafe

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// namedPattern pairs a detection rule with the label reported on denial.
type namedPattern struct {
	label string
	match func(string) bool
}

func substr(label string) namedPattern {
	return namedPattern{label: label, match: func(s string) bool { return strings.Contains(s, label) }}
}

// dangerousPatterns covers traversal, expansion, and shell-injection
// constructs. Evaluated in order; the first hit is reported.
var dangerousPatterns = []namedPattern{
	substr(".."),
	substr("~"),
	substr("${"),
	substr("$("),
	{label: "$VAR", match: regexp.MustCompile(`\$[A-Za-z_]`).MatchString},
	substr("`"),
	substr(";"),
	substr("&"),
	substr(">"),
	substr("<"),
	substr("|"),
	substr("\x00"),
}

// defaultForbiddenGlobs matches basenames of credential and history files
// the agent must never touch, regardless of location.
var defaultForbiddenGlobs = []string{
	".env",
	".env.*",
	".ssh",
	".aws",
	".docker",
	"id_rsa",
	"id_dsa",
	"id_ecdsa",
	"shadow",
	"sudoers",
	".*_history",
	"*.key",
	"*.pem",
	"*.p12",
	"*.pfx",
	"*_rsa",
	"*_dsa",
	"*_ecdsa",
}

// Validator checks paths against an approved directory boundary.
type Validator struct {
	approvedDir     string
	disablePatterns bool
	forbiddenGlobs  []string
}

// Option configures a Validator.
type Option func(*Validator)

// WithoutPatternChecks disables the dangerous-pattern scan, leaving only
// boundary enforcement. Used when the OS sandbox handles injection risk.
func WithoutPatternChecks() Option {
	return func(v *Validator) { v.disablePatterns = true }
}

// WithForbiddenGlobs replaces the default forbidden-basename globs.
func WithForbiddenGlobs(globs []string) Option {
	return func(v *Validator) { v.forbiddenGlobs = globs }
}

// New creates a Validator rooted at approvedDir. The directory is
// normalized to an absolute path.
func New(approvedDir string, opts ...Option) *Validator {
	abs, err := filepath.Abs(approvedDir)
	if err != nil {
		abs = filepath.Clean(approvedDir)
	}
	v := &Validator{
		approvedDir:    abs,
		forbiddenGlobs: defaultForbiddenGlobs,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ApprovedDir returns the normalized approved root.
func (v *Validator) ApprovedDir() string {
	return v.approvedDir
}

// Validate resolves userPath (relative paths against currentDir, which
// defaults to the approved root) and verifies it stays inside the approved
// directory. Returns the resolved absolute path on success.
func (v *Validator) Validate(userPath, currentDir string) (string, error) {
	userPath = strings.TrimSpace(userPath)
	if userPath == "" {
		return "", fmt.Errorf("empty path not allowed")
	}

	if !v.disablePatterns {
		for _, p := range dangerousPatterns {
			if p.match(userPath) {
				return "", fmt.Errorf("invalid path: contains forbidden pattern %q", p.label)
			}
		}
	}

	base := filepath.Base(userPath)
	for _, glob := range v.forbiddenGlobs {
		if ok, err := doublestar.Match(glob, base); err == nil && ok {
			return "", fmt.Errorf("access denied: %q matches forbidden file pattern %q", base, glob)
		}
	}

	if currentDir == "" {
		currentDir = v.approvedDir
	}

	var target string
	if filepath.IsAbs(userPath) {
		target = filepath.Clean(userPath)
	} else {
		target = filepath.Join(currentDir, userPath)
	}

	if !Within(target, v.approvedDir) {
		return "", fmt.Errorf("access denied: path outside approved directory")
	}

	return target, nil
}

// Within reports whether path is lexically inside dir (or equal to it).
// Both arguments are cleaned before comparison; symlinks are not chased,
// matching the boundary the OS sandbox enforces at execution time.
func Within(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
