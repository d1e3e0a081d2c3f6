package config

import (
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		t.Setenv("WARDEN_APPROVED_DIR", "/root/projects")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.ApprovedDir != "/root/projects" {
			t.Errorf("ApprovedDir = %q", cfg.ApprovedDir)
		}
		if !cfg.Yolo {
			t.Error("Yolo should default to true")
		}
		if cfg.ExecTimeout != 5*time.Minute {
			t.Errorf("ExecTimeout = %v", cfg.ExecTimeout)
		}
		if cfg.SessionTimeout != 24*time.Hour {
			t.Errorf("SessionTimeout = %v", cfg.SessionTimeout)
		}
		if cfg.MaxSessionsPerUser != 5 {
			t.Errorf("MaxSessionsPerUser = %d", cfg.MaxSessionsPerUser)
		}
		if cfg.DBPath == "" {
			t.Error("DBPath should have a default")
		}
	})

	t.Run("Missing Approved Dir", func(t *testing.T) {
		t.Setenv("WARDEN_APPROVED_DIR", "")
		if _, err := Load(); err == nil {
			t.Error("Expected error without approved dir")
		}
	})

	t.Run("Overrides", func(t *testing.T) {
		t.Setenv("WARDEN_APPROVED_DIR", "/root/projects")
		t.Setenv("WARDEN_CODEX_MODEL", "o4-mini")
		t.Setenv("WARDEN_CODEX_YOLO", "false")
		t.Setenv("WARDEN_EXEC_TIMEOUT", "90s")
		t.Setenv("WARDEN_MAX_SESSIONS_PER_USER", "3")
		t.Setenv("WARDEN_ALLOWED_TOOLS", "Read, Bash ,,Grep")
		t.Setenv("WARDEN_MAX_BUDGET_USD", "1.5")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Model != "o4-mini" {
			t.Errorf("Model = %q", cfg.Model)
		}
		if cfg.Yolo {
			t.Error("Yolo override not applied")
		}
		if cfg.ExecTimeout != 90*time.Second {
			t.Errorf("ExecTimeout = %v", cfg.ExecTimeout)
		}
		if cfg.MaxSessionsPerUser != 3 {
			t.Errorf("MaxSessionsPerUser = %d", cfg.MaxSessionsPerUser)
		}
		if len(cfg.AllowedTools) != 3 || cfg.AllowedTools[1] != "Bash" {
			t.Errorf("AllowedTools = %v", cfg.AllowedTools)
		}
		if cfg.MaxBudgetUSD != 1.5 {
			t.Errorf("MaxBudgetUSD = %v", cfg.MaxBudgetUSD)
		}
	})

	t.Run("Invalid Cap", func(t *testing.T) {
		t.Setenv("WARDEN_APPROVED_DIR", "/root/projects")
		t.Setenv("WARDEN_MAX_SESSIONS_PER_USER", "0")
		if _, err := Load(); err == nil {
			t.Error("Expected error for zero session cap")
		}
	})
}
