package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/edubase/rostersync/internal/orchestrator"
	"github.com/edubase/rostersync/internal/sis"
	"github.com/edubase/rostersync/internal/store/control"
	"github.com/edubase/rostersync/internal/store/factory"
)

// openControl opens the control-plane store from config. Callers close it.
func openControl(ctx context.Context) (*control.Store, error) {
	st, err := control.Open(ctx, cfg.ControlDB)
	if err != nil {
		return nil, fmt.Errorf("open control store %s: %w", cfg.ControlDB, err)
	}
	return st, nil
}

// buildOrchestrator wires the sync core from config. The returned control
// store is owned by the caller.
func buildOrchestrator(ctx context.Context) (*orchestrator.Orchestrator, *control.Store, error) {
	if cfg.SIS.BaseURL == "" {
		return nil, nil, fmt.Errorf("sis.base_url is not configured (set it in rostersync.yaml or RS_SIS_BASE_URL)")
	}
	wire, err := sis.NewHTTPClient(cfg.SIS.BaseURL, cfg.SIS.Token, cfg.SIS.Timeout)
	if err != nil {
		return nil, nil, err
	}

	ctl, err := openControl(ctx)
	if err != nil {
		return nil, nil, err
	}

	orch := &orchestrator.Orchestrator{
		Control: ctl,
		SIS:     sis.NewRetryingClient(wire, 0),
		Factory: &factory.Factory{LockDir: cfg.LockDir},
		Logger:  slog.Default(),
		Opts: orchestrator.Options{
			SchoolConcurrency:   cfg.Sync.SchoolConcurrency,
			EventBatchLimit:     cfg.Sync.EventBatchLimit,
			AttemptTimeout:      cfg.Sync.AttemptTimeout,
			FullOnMissingCursor: cfg.Sync.FullOnMissingCursor,
		},
	}
	if !quietFlag && !jsonOutput {
		orch.Progress = printProgress
	}
	return orch, ctl, nil
}

func printProgress(s orchestrator.Snapshot) {
	fmt.Printf("\r%-24s %-10s %3d%%", truncate(s.SchoolName, 24), s.Operation, s.Percent)
	if s.Percent >= 100 {
		fmt.Println()
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
