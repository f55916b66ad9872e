// Package main implements the governance runtime's HTTP daemon: it wires
// the policy store, transactional store, execution pipeline, and
// pending-action lifecycle behind the C9 HTTP surface.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"governor/internal/audit"
	"governor/internal/config"
	"governor/internal/execution"
	"governor/internal/httpapi"
	"governor/internal/idempotency"
	"governor/internal/logging"
	"governor/internal/pending"
	"governor/internal/policy"
	"governor/internal/store"
)

func main() {
	// logging.Init must run before flag.Parse so it can strip --log-level
	// before the flag package sees it, mirroring the teacher's cmd/auditd.
	remaining := logging.Init(os.Args[1:])
	flag.CommandLine.Parse(remaining) //nolint:errcheck

	cfg := config.Load()

	db, isPostgres, err := store.Open(cfg.DBURL)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	policyStore, stopWatch, err := policy.NewStore(cfg.PolicyPath)
	if err != nil {
		slog.Error("failed to load policy", "error", err)
		os.Exit(1)
	}
	defer stopWatch()

	auditStore := audit.NewStore(db, isPostgres)
	idemStore := idempotency.NewStore(db, isPostgres)
	cases := store.NewCaseRepo(db, isPostgres)
	cards := store.NewCardRepo(db, isPostgres)
	materializations := store.NewMaterializationRepo(db, isPostgres)

	connectors := execution.NewConnectorRegistry(10 * time.Second)
	pipeline := execution.NewActionPipeline(policyStore, cards, cases, auditStore, connectors)

	pendingStore := pending.NewStore(db, isPostgres)
	lifecycle := pending.NewLifecycle(pendingStore, policyStore, auditStore, pipeline)

	server := httpapi.NewServer(db, isPostgres, policyStore, auditStore, idemStore,
		cases, cards, materializations, lifecycle, pipeline, connectors,
		httpapi.Config{
			DevMode:    cfg.DevMode,
			PolicyPath: cfg.PolicyPath,
			JWTSecret:  cfg.JWTSecret,
			JWTAlg:     cfg.JWTAlg,
			JWTVerify:  cfg.JWTVerify,
		})

	httpServer := &http.Server{
		Addr:         cfg.APIHost + ":" + cfg.APIPort,
		Handler:      server.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cleanupWorker := idempotency.NewCleanupWorker(db, isPostgres,
		time.Duration(cfg.IdempotencyTTLHours)*time.Hour, cfg.IdempotencyCleanupInterval)
	go cleanupWorker.Run(ctx)
	go httpapi.RunCircuitStateObserver(ctx, connectors)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down governance service...")
		cancel()
		httpServer.Shutdown(context.Background())
	}()

	slog.Info("governance service starting", "addr", httpServer.Addr, "dev_mode", cfg.DevMode)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("governance service stopped")
}
