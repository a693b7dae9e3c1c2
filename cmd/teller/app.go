package main

import (
	"context"
	"fmt"

	"teller/internal/classify"
	"teller/internal/config"
	"teller/internal/dialogue"
	"teller/internal/extract"
	"teller/internal/guard"
	"teller/internal/processor"
	"teller/internal/resolve"
	"teller/internal/store"
	"teller/internal/txn"
)

// demoBalances seed a user's accounts on first contact so the CLI is usable
// out of the box.
var demoBalances = map[string]int64{
	"checking": 500_000, // 5,000.00
	"savings":  1_200_000,
	"credit":   250_000,
}

// app bundles the assembled components behind the CLI commands.
type app struct {
	cfg       *config.Config
	store     *store.Store
	ledger    *store.Ledger
	registry  *dialogue.Registry
	watcher   *dialogue.SchemaWatcher
	processor *processor.Processor
}

// buildApp wires the full turn pipeline from configuration.
func buildApp(cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	st, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		return nil, err
	}

	registry := dialogue.DefaultRegistry()
	var watcher *dialogue.SchemaWatcher
	if cfg.Dialogue.SchemaPath != "" {
		if err := registry.LoadFile(cfg.Dialogue.SchemaPath); err != nil {
			st.Close()
			return nil, err
		}
		if cfg.Dialogue.WatchSchema {
			watcher, err = dialogue.NewSchemaWatcher(cfg.Dialogue.SchemaPath, registry)
			if err != nil {
				st.Close()
				return nil, err
			}
			if err := watcher.Start(); err != nil {
				st.Close()
				return nil, err
			}
		}
	}

	classifier, err := classify.FromConfig(cfg.Classifier, cfg.GetClassifierTimeout())
	if err != nil {
		st.Close()
		return nil, err
	}

	ledger := store.NewLedger(st)
	resolver := resolve.New(extract.New(), ledger, cfg.Txn.CeilingMinor)
	machine := dialogue.NewMachine(registry, cfg.Dialogue.ConfidenceThreshold)
	coordinator := txn.New(st, st, cfg.GetIdempotencyTTL(), cfg.GetExecutionTimeout())

	proc := processor.New(processor.Deps{
		Guard:       guard.New(cfg.Guard),
		Classifier:  classifier,
		Resolver:    resolver,
		Machine:     machine,
		Registry:    registry,
		Coordinator: coordinator,
		Executor:    ledger,
		Sessions:    st,
		Sweeper:     st,
		SessionTTL:  cfg.GetSessionTTL(),
	})

	return &app{
		cfg:       cfg,
		store:     st,
		ledger:    ledger,
		registry:  registry,
		watcher:   watcher,
		processor: proc,
	}, nil
}

// seedUser gives a demo user starter balances if they have none.
func (a *app) seedUser(ctx context.Context, userID string) error {
	return a.ledger.SeedAccounts(ctx, userID, demoBalances)
}

func (a *app) close() {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	_ = a.store.Close()
}
