// Package config loads and validates application configuration from
// environment variables, with optional .env support.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// ApprovedDir is the root directory agent executions are confined to.
	ApprovedDir string

	// Codex binary settings.
	BinaryPath   string   // Explicit path to the codex binary; discovered when empty.
	Model        string   // Model override passed via --model.
	Home         string   // CODEX_HOME override injected into the subprocess.
	ExtraArgs    []string // Additional args appended to every invocation.
	MaxBudgetUSD float64  // Per-run budget; <= 0 means unset.
	Yolo         bool     // Pass --yolo (unrestricted execution).
	Sandbox      bool     // When yolo is off: workspace-write vs danger-full-access.

	// Execution settings.
	ExecTimeout time.Duration

	// Session settings.
	SessionTimeout     time.Duration
	MaxSessionsPerUser int

	// Tool policy settings.
	AllowedTools      []string
	DisallowedTools   []string
	RelaxedShell      bool   // Skip shell content checks (sandbox enforces boundaries).
	DisableToolChecks bool   // Skip allow/deny list checks entirely.
	PolicyFile        string // Optional YAML policy file overriding the above.

	// Storage settings.
	DBPath string

	// Logging settings.
	Verbose bool
	LogJSON bool
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is honored when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	home, _ := os.UserHomeDir()

	cfg := Config{
		ApprovedDir:        envStr("WARDEN_APPROVED_DIR", ""),
		BinaryPath:         envStr("CODEX_CLI_PATH", ""),
		Model:              envStr("WARDEN_CODEX_MODEL", ""),
		Home:               envStr("WARDEN_CODEX_HOME", ""),
		ExtraArgs:          envList("WARDEN_CODEX_EXTRA_ARGS"),
		MaxBudgetUSD:       envFloat("WARDEN_MAX_BUDGET_USD", 0),
		Yolo:               envBool("WARDEN_CODEX_YOLO", true),
		Sandbox:            envBool("WARDEN_SANDBOX", false),
		ExecTimeout:        envDuration("WARDEN_EXEC_TIMEOUT", 5*time.Minute),
		SessionTimeout:     envDuration("WARDEN_SESSION_TIMEOUT", 24*time.Hour),
		MaxSessionsPerUser: envInt("WARDEN_MAX_SESSIONS_PER_USER", 5),
		AllowedTools:       envList("WARDEN_ALLOWED_TOOLS"),
		DisallowedTools:    envList("WARDEN_DISALLOWED_TOOLS"),
		RelaxedShell:       envBool("WARDEN_RELAXED_SHELL", false),
		DisableToolChecks:  envBool("WARDEN_DISABLE_TOOL_CHECKS", false),
		PolicyFile:         envStr("WARDEN_POLICY_FILE", ""),
		DBPath:             envStr("WARDEN_DB_PATH", filepath.Join(home, ".warden", "warden.db")),
		Verbose:            envBool("WARDEN_VERBOSE", false),
		LogJSON:            envBool("WARDEN_LOG_JSON", false),
	}

	if cfg.ApprovedDir == "" {
		return cfg, fmt.Errorf("WARDEN_APPROVED_DIR is required")
	}
	abs, err := filepath.Abs(cfg.ApprovedDir)
	if err != nil {
		return cfg, fmt.Errorf("invalid approved directory %q: %w", cfg.ApprovedDir, err)
	}
	cfg.ApprovedDir = abs

	if cfg.MaxSessionsPerUser < 1 {
		return cfg, fmt.Errorf("WARDEN_MAX_SESSIONS_PER_USER must be at least 1")
	}
	if cfg.MaxBudgetUSD < 0 {
		return cfg, fmt.Errorf("WARDEN_MAX_BUDGET_USD must not be negative")
	}

	return cfg, nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

// envList parses a comma-separated environment variable, trimming blanks.
func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
