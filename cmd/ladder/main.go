// Ladder - sequential multi-tier loyalty program engine.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/ladder/internal/api"
	"github.com/opensource-finance/ladder/internal/builder"
	"github.com/opensource-finance/ladder/internal/bus"
	"github.com/opensource-finance/ladder/internal/cache"
	"github.com/opensource-finance/ladder/internal/domain"
	"github.com/opensource-finance/ladder/internal/repository"
	"github.com/opensource-finance/ladder/internal/rules"
	"github.com/opensource-finance/ladder/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// A missing .env is fine; the environment wins over the file either way.
	_ = godotenv.Load()

	cfg, err := domain.LoadConfig(os.LookupEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting ladder",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"strategy", cfg.Validation.Strategy,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize save preconditions
	preconditions, err := rules.NewPreconditionEngine(nil)
	if err != nil {
		slog.Error("failed to initialize precondition engine", "error", err)
		os.Exit(1)
	}
	slog.Info("precondition engine initialized", "checks", len(preconditions.Checks()))

	svc, err := builder.NewService(builder.Options{
		Store:         repo,
		Cache:         cacheImpl,
		Bus:           busImpl,
		Preconditions: preconditions,
		Validation:    cfg.Validation,
		ProgramTTL:    cfg.Cache.ProgramTTL,
	})
	if err != nil {
		slog.Error("failed to initialize program service", "error", err)
		os.Exit(1)
	}

	// Cache invalidation worker
	cacheWorker := worker.NewWorker(busImpl, cacheImpl, repo)
	workerCfg := worker.Config{
		MerchantIDs: merchantList(os.Getenv("LADDER_MERCHANTS")),
		ProgramTTL:  cfg.Cache.ProgramTTL,
	}
	if err := cacheWorker.Start(workerCfg); err != nil {
		slog.Error("failed to start cache worker", "error", err)
		os.Exit(1)
	}

	srv := api.NewServer(cfg.Server, svc, repo, cacheImpl, busImpl, Version)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("ladder is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	if err := cacheWorker.Stop(); err != nil {
		slog.Error("failed to stop cache worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("ladder shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// merchantList parses a comma-separated LADDER_MERCHANTS value. Empty means
// the worker listens for every merchant.
func merchantList(v string) []string {
	var out []string
	for _, id := range strings.Split(v, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  +-------------------------------------------+")
	fmt.Println("  |                  LADDER                   |")
	fmt.Println("  |     Sequential Loyalty Program Engine     |")
	fmt.Println("  +-------------------------------------------+")
	fmt.Printf("  |  Version:    %-28s |\n", version)
	fmt.Printf("  |  Tier:       %-28s |\n", cfg.Tier)
	fmt.Printf("  |  Strategy:   %-28s |\n", cfg.Validation.Strategy)
	fmt.Printf("  |  Listening:  %-28s |\n", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
	fmt.Println("  +-------------------------------------------+")
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET    /templates                     - Template catalog")
	fmt.Println("    POST   /templates/{id}/apply          - Build a program from a template")
	fmt.Println("    POST   /programs/validate             - Validate a reward sequence")
	fmt.Println("    POST   /programs/minimum              - Minimum condition value")
	fmt.Println("    POST   /programs                      - Create or update a program")
	fmt.Println("    GET    /programs                      - List programs")
	fmt.Println("    GET    /programs/{id}                 - Get a program")
	fmt.Println("    POST   /programs/{id}/rewards         - Append rewards")
	fmt.Println("    POST   /programs/{id}/delete-request  - Request a delete token")
	fmt.Println("    DELETE /programs/{id}?confirm=token   - Delete a program")
	fmt.Println("    GET    /health                        - Health check")
	fmt.Println()
}
