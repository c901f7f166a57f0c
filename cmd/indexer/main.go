// Command indexer mirrors gated-token program activity into the cap table
// stores by following the live log stream or replaying history, and can
// verify stored state against a fresh replay.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"captable-indexer/internal/app"
	"captable-indexer/internal/config"
	"captable-indexer/internal/ingestion"
	"captable-indexer/internal/logging"
	"captable-indexer/internal/observability"
	"captable-indexer/internal/solana"
	"captable-indexer/internal/storage"
	"captable-indexer/internal/verification"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (env CAPTABLE_* overrides)")
	mode := flag.String("mode", "live", "Mode: live, backfill, or verify (rebuild -mints from history and diff against stored state)")
	mints := flag.String("mints", "", "Comma-separated mints to backfill (backfill mode, or catch-up in live mode)")
	fromSlot := flag.Int64("from-slot", -1, "Backfill start slot (default: stored cursor, else genesis)")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(2)
	}

	logger := logging.NewLogger(cfg.Log.Level, "indexer", cfg.Env)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig.String())
			cancel()
		case <-done:
			return
		}

		select {
		case sig := <-sigCh:
			logger.Error("received second signal, forcing exit", "signal", sig.String())
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Error("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, logger, *mode, splitList(*mints), *fromSlot)
	close(done)
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("indexer stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, mode string, mints []string, fromSlot int64) error {
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close resources", "error", err)
		}
	}()

	rpc := solana.NewHTTPClient(cfg.RPC.Endpoint, solana.WithCommitment(cfg.RPC.Commitment))
	pipeline := a.Pipeline()

	backfiller := ingestion.NewBackfiller(ingestion.BackfillOptions{
		ProgramID:   cfg.Program.ID,
		RPC:         rpc,
		Handler:     pipeline,
		PageSize:    cfg.Backfill.PageSize,
		MaxPages:    cfg.Backfill.MaxPages,
		Concurrency: cfg.Backfill.Concurrency,
		Logger:      logger,
	})

	// Resolve the start before live ingestion begins advancing the cursor.
	if len(mints) > 0 && fromSlot < 0 {
		if fromSlot, err = storedCursor(ctx, a.Stores.Cursors, cfg.Program.ID); err != nil {
			return err
		}
	}

	switch mode {
	case "backfill":
		if len(mints) == 0 {
			return fmt.Errorf("-mints is required for backfill mode")
		}
		stopMetrics := serveMetrics(cfg.Metrics.Addr, logger, nil)
		defer stopMetrics()
		return backfillAll(ctx, logger, backfiller, mints, fromSlot)

	case "live":
		ws := solana.NewWSClient(cfg.RPC.WSEndpoint, nil)
		defer ws.Close()

		manager := ingestion.NewManager(ingestion.ManagerOptions{
			ProgramID:         cfg.Program.ID,
			Source:            ws,
			Probe:             rpc,
			Handler:           pipeline,
			Commitment:        cfg.RPC.Commitment,
			LivenessInterval:  cfg.Subscription.LivenessInterval,
			MaxReconnects:     cfg.Subscription.MaxReconnects,
			ReconnectDelay:    cfg.Subscription.ReconnectDelay,
			MaxReconnectDelay: cfg.Subscription.MaxReconnectDelay,
			Logger:            logger,
		})

		stopMetrics := serveMetrics(cfg.Metrics.Addr, logger, manager)
		defer stopMetrics()

		if err := manager.Start(ctx); err != nil {
			return err
		}
		defer manager.Stop()

		// Live ingestion and catch-up may overlap; projection is idempotent.
		var wg sync.WaitGroup
		if len(mints) > 0 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := backfillAll(ctx, logger, backfiller, mints, fromSlot); err != nil &&
					!errors.Is(err, context.Canceled) {
					logger.Error("catch-up backfill failed", "error", err)
				}
			}()
		}

		select {
		case <-ctx.Done():
			manager.Stop()
			wg.Wait()
			return ctx.Err()
		case <-manager.Done():
			wg.Wait()
			return manager.Err()
		}

	case "verify":
		if len(mints) == 0 {
			return fmt.Errorf("-mints is required for verify mode")
		}
		v := verification.New(verification.Options{
			Stored: a.Stores,
			Replayer: &verification.BackfillReplayer{
				ProgramID:   cfg.Program.ID,
				RPC:         rpc,
				PageSize:    cfg.Backfill.PageSize,
				MaxPages:    cfg.Backfill.MaxPages,
				Concurrency: cfg.Backfill.Concurrency,
				Logger:      logger,
			},
			Logger: logger,
		})
		return verifyAll(ctx, logger, v, mints)

	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

// backfillAll replays each mint in turn. A mint that fails validation or
// listing is logged and skipped so the others still run.
func backfillAll(ctx context.Context, logger *slog.Logger, b *ingestion.Backfiller, mints []string, fromSlot int64) error {
	var failed int
	for _, mint := range mints {
		res, err := b.Backfill(ctx, mint, fromSlot)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			logger.Error("backfill failed", "mint", mint, "error", err)
			continue
		}
		logger.Info("backfill complete",
			"mint", mint,
			"from_slot", fromSlot,
			"signatures", res.SignaturesSeen,
			"processed", res.Processed,
			"skipped", res.Skipped,
			"failed", res.Failed,
			"events", res.Events,
			"highest_slot", res.HighestSlot,
			"duration", res.Duration.String(),
		)
	}
	if failed == len(mints) {
		return fmt.Errorf("backfill failed for all %d mints", failed)
	}
	return nil
}

// verifyAll logs every divergence and fails if any mint diverged.
func verifyAll(ctx context.Context, logger *slog.Logger, v *verification.Verifier, mints []string) error {
	report, err := v.VerifyAll(ctx, mints)
	if err != nil {
		return err
	}
	for _, res := range report.Results {
		for _, d := range res.Divergences {
			logger.Warn("divergence",
				"mint", res.Mint,
				"field", d.Field,
				"stored", d.Expected,
				"replayed", d.Actual,
				"corporate_actions", res.CorporateActions,
			)
		}
	}
	logger.Info("verification complete",
		"total", report.Total,
		"matched", report.Matched,
		"divergent", report.Divergent,
	)
	if report.Divergent > 0 {
		return fmt.Errorf("%d of %d mints diverged", report.Divergent, report.Total)
	}
	return nil
}

// storedCursor returns the last fully processed slot, or 0 before the first run.
func storedCursor(ctx context.Context, cursors storage.CursorStore, programID string) (int64, error) {
	cur, err := cursors.Get(ctx, programID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}
	return cur.LastSlot, nil
}

// serveMetrics exposes /metrics and /health. The returned func shuts the
// listener down. An empty addr disables it.
func serveMetrics(addr string, logger *slog.Logger, manager *ingestion.Manager) func() {
	if addr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		healthHandler(w, manager)
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("starting metrics server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// healthHandler reports the subscription status. Without a manager (backfill
// mode) the process is healthy while it is serving.
func healthHandler(w http.ResponseWriter, manager *ingestion.Manager) {
	w.Header().Set("Content-Type", "application/json")
	if manager == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
		return
	}

	status := manager.Status()
	code := http.StatusOK
	if !status.IsRunning {
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
