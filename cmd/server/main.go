package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/cliff-de-tech/Post-Bot/internal/auth"
	"github.com/cliff-de-tech/Post-Bot/internal/config"
	"github.com/cliff-de-tech/Post-Bot/internal/crypto"
	"github.com/cliff-de-tech/Post-Bot/internal/database"
	"github.com/cliff-de-tech/Post-Bot/internal/linkedin"
	"github.com/cliff-de-tech/Post-Bot/internal/logging"
	"github.com/cliff-de-tech/Post-Bot/internal/server"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := database.RunMigrations(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

// setupCrypto selects the token encryption service. Config validation has
// already rejected a missing key outside development, so the noop fallback
// only ever runs on a developer laptop.
func setupCrypto(cfg *config.Config) crypto.Service {
	if cfg.EncryptionKey == "" {
		slog.Warn("ENCRYPTION_KEY not set, tokens will be stored in plaintext (development only)")
		return crypto.NoopService{}
	}

	svc, err := crypto.NewAesGcmService(cfg.EncryptionKey)
	if err != nil {
		slog.Error("Failed to create crypto service", "error", err)
		os.Exit(1)
	}
	return svc
}

func runGracefulShutdown(srv *server.Server) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	pool := setupDB(cfg)
	defer pool.Close()

	cryptoSvc := setupCrypto(cfg)
	accounts := database.NewAccountRepo(pool, cryptoSvc)

	flow := auth.NewService(accounts, linkedin.NewClient(), auth.ServiceConfig{
		Credentials: auth.ClientCredentials{
			ID:     cfg.LinkedInClientID,
			Secret: cfg.LinkedInClientSecret,
		},
		RedirectURI:   cfg.LinkedInRedirectURI,
		Scopes:        cfg.LinkedInScopes,
		RefreshBuffer: cfg.RefreshBuffer,
	}, clock)
	validator := auth.NewValidator(flow, accounts)

	srv := server.New(cfg, flow, validator, accounts, pool)

	done := runGracefulShutdown(srv)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
