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

	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"

	"github.com/runeforge/server/internal/auth"
	"github.com/runeforge/server/internal/config"
	"github.com/runeforge/server/internal/coordinator"
	"github.com/runeforge/server/internal/db"
	"github.com/runeforge/server/internal/hub"
	"github.com/runeforge/server/internal/model"
	"github.com/runeforge/server/internal/registry"
)

const configPath = "config/server.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	slog.SetDefault(slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: slog.LevelDebug,
	})))

	slog.Info("rune forge server starting")

	cfgPath := configPath
	if p := os.Getenv("RUNEFORGE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	slog.Info("config loaded", "bind", cfg.BindAddress, "port", cfg.Port)

	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()
	slog.Info("database connected")

	if err := db.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	slog.Info("database migrations applied")

	store := db.NewStore(database)

	provider, err := auth.NewProvider(ctx, cfg.Auth)
	if err != nil {
		return fmt.Errorf("configuring oidc provider: %w", err)
	}
	sealer, err := auth.NewTokenSealer(cfg.Auth.SessionSecret, cfg.Auth.SessionTTL)
	if err != nil {
		return fmt.Errorf("configuring session tokens: %w", err)
	}
	secureCookies := strings.HasPrefix(cfg.Auth.RedirectURL, "https://")
	authSvc := auth.NewService(provider, sealer, store.Users, secureCookies)

	rooms := registry.New()
	coord := coordinator.New(cfg, store, rooms)
	wsHub := hub.New(cfg, authSvc, coord)

	mux := http.NewServeMux()
	authSvc.Register(mux)
	wsHub.Register(mux)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		rooms.RunJanitor(gctx, cfg.SessionIdle, func(id string) {
			evictCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := store.UpdateSessionStatus(evictCtx, id, model.StatusEnded); err != nil {
				slog.Error("ending idle session failed", "sessionID", id, "error", err)
				return
			}
			slog.Info("idle session ended", "sessionID", id)
		})
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
