// Rally session and raid coordination server. Provides the HTTP API and
// webhook ingress, runs the session lifecycle and raid verification loops,
// and fans events out to WebSocket subscribers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rallyhouse/rally/pkg/api"
	"github.com/rallyhouse/rally/pkg/bus"
	"github.com/rallyhouse/rally/pkg/config"
	"github.com/rallyhouse/rally/pkg/datastore"
	"github.com/rallyhouse/rally/pkg/engine"
	"github.com/rallyhouse/rally/pkg/identity"
	"github.com/rallyhouse/rally/pkg/ingress"
	"github.com/rallyhouse/rally/pkg/ingress/adapter"
	"github.com/rallyhouse/rally/pkg/logging"
	"github.com/rallyhouse/rally/pkg/memory"
	"github.com/rallyhouse/rally/pkg/models"
	"github.com/rallyhouse/rally/pkg/notify"
	"github.com/rallyhouse/rally/pkg/prompt"
	"github.com/rallyhouse/rally/pkg/raid"
	"github.com/rallyhouse/rally/pkg/session"
	"github.com/rallyhouse/rally/pkg/version"
)

// errDrainExceeded reports that a signal-triggered shutdown did not finish
// within the configured grace window.
var errDrainExceeded = errors.New("shutdown drain exceeded grace window")

func main() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Unrecoverable panic", "panic", r)
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		if errors.Is(err, errDrainExceeded) {
			slog.Error("Shutdown incomplete", "error", err)
			os.Exit(3)
		}
		slog.Error("Fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to YAML config file (optional; env RALLY_CONFIG)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, continuing with existing environment")
	}

	cfg, err := config.Initialize(*configPath)
	if err != nil {
		return err
	}
	if err := logging.Setup(cfg.Log.Level); err != nil {
		return err
	}
	slog.Info("Starting rally", "version", version.Full())

	ctx := context.Background()

	// Datastore: dual-pool router, migrations, background probes.
	router, err := datastore.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening datastore: %w", err)
	}
	defer router.Close()
	if err := router.Migrate(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	router.StartHealthProbes(ctx)

	memories := memory.NewStore(router, memory.NewHTTPEmbedder(cfg.Embedder), cfg.Memory)
	if err := memories.CheckDimension(ctx); err != nil {
		return err
	}
	ids := identity.NewResolver(router)

	b := bus.New(cfg.Bus.QueueSize, cfg.Bus.WriteTimeout)

	sessions := session.NewManager(cfg.Session, session.NewPGStore(router), b)
	if err := sessions.Warm(ctx); err != nil {
		return fmt.Errorf("warming session cache: %w", err)
	}

	notifier := notify.New(cfg.Notify)

	var verifier raid.Verifier
	if cfg.Raid.VerifierURL != "" {
		verifier = raid.NewHTTPVerifier(cfg.Raid)
	} else {
		slog.Warn("No raid verifier configured, actions verify unconditionally")
		verifier = raid.VerifierFunc(func(context.Context, models.ObjectiveType, string, string, time.Time) (raid.Verdict, error) {
			return raid.Verdict{Status: raid.VerdictVerified}, nil
		})
	}

	// notify.New returns a typed nil when no webhook is configured; only a
	// real notifier may cross into the interface.
	var raidNotifier raid.Notifier
	if notifier != nil {
		raidNotifier = notifier
	}
	coord := raid.NewCoordinator(cfg.Raid, sessions, raid.NewPGActionStore(router), verifier, b, raidNotifier)

	personas, err := prompt.LoadLibrary(cfg.Prompt)
	if err != nil {
		return fmt.Errorf("loading personalities: %w", err)
	}

	discord, err := adapter.NewDiscord(cfg.Ingress.DiscordPublicKey)
	if err != nil {
		return err
	}
	adapters := adapter.NewRegistry(
		adapter.NewTelegram(cfg.Ingress.TelegramSecret),
		discord,
		adapter.NewWeb(cfg.Ingress.WebhookHMACSecret),
	)

	dispatcher := engine.NewDispatcher(cfg.Engine, engine.NewHTTPEngine(cfg.Engine), memories, sessions, b)
	pipeline := ingress.New(cfg.Ingress, cfg.Redis, cfg.Server.AgentID, adapters,
		sessions, coord, ids, memories, personas, dispatcher)

	server := api.NewServer(cfg.Server, cfg.Auth, sessions, coord, pipeline, memories, router, b)

	sessions.SetDegradedHook(func(loop string, err error) {
		server.MarkLoopDegraded(loop, err)
		notifier.LoopDegraded(ctx, loop, err)
	})

	sessions.Start(ctx)
	coord.Start(ctx)
	coord.Recover(ctx)
	dispatcher.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Server.ListenAddr, "agent_id", cfg.Server.AgentID)
		if err := server.Start(cfg.Server.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// Drain in dependency order: no new work, loops, subscribers, listener,
	// pools. The whole sequence shares one grace budget.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownGrace)
	defer cancel()

	done := make(chan struct{})
	go func() {
		dispatcher.Stop()
		coord.Stop()
		sessions.Stop()
		b.Shutdown(shutdownCtx)
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		return errDrainExceeded
	}
}
