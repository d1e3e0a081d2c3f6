package cli

import (
	"fmt"
	"os"

	"github.com/wardenhq/warden/internal/agent"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/facade"
	"github.com/wardenhq/warden/internal/gate"
	"github.com/wardenhq/warden/internal/observe"
	"github.com/wardenhq/warden/internal/pathsafe"
	"github.com/wardenhq/warden/internal/session"
	"github.com/wardenhq/warden/internal/store"
)

// app bundles the wired engine for one CLI invocation.
type app struct {
	cfg    config.Config
	obs    *observe.Observer
	store  *store.SQLiteStore
	facade *facade.Facade
}

func (a *app) close() {
	_ = a.store.Close()
	_ = a.obs.Close()
}

// buildApp wires config, store, registry, gate, runner, and facade.
func buildApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	var obs *observe.Observer
	if jsonLog || cfg.LogJSON {
		obs = observe.NewJSON(os.Stderr, verbose || cfg.Verbose)
	} else {
		obs = observe.New(os.Stderr, verbose || cfg.Verbose)
	}

	storeLayer, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to init store: %w", err)
	}

	policy := gate.Policy{
		AllowedTools:      cfg.AllowedTools,
		DisallowedTools:   cfg.DisallowedTools,
		RelaxedShell:      cfg.RelaxedShell,
		DisableToolChecks: cfg.DisableToolChecks,
	}
	if cfg.PolicyFile != "" {
		policy, err = gate.LoadPolicy(cfg.PolicyFile)
		if err != nil {
			storeLayer.Close()
			return nil, err
		}
	}

	validator := pathsafe.New(cfg.ApprovedDir)
	authorizer := gate.New(policy, validator, obs)
	registry := session.NewRegistry(storeLayer, cfg.SessionTimeout, cfg.MaxSessionsPerUser, obs)
	runner := agent.NewRunner(cfg, obs)

	return &app{
		cfg:    cfg,
		obs:    obs,
		store:  storeLayer,
		facade: facade.New(runner, registry, authorizer, cfg, obs),
	}, nil
}

func getStore() (*store.SQLiteStore, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return store.NewSQLiteStore(cfg.DBPath)
}
