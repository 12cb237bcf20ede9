package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/florenceegi/egi-hub/hub"
	"github.com/florenceegi/egi-hub/internal/config"
	httpserver "github.com/florenceegi/egi-hub/internal/http"
	"github.com/florenceegi/egi-hub/migrations"
	"github.com/florenceegi/egi-hub/pkg/repository"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("egi-hub stopped", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, dialect, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("connected to database", "driver", dialect)

	if err := repository.ApplyMigrations(ctx, db, dialect, migrations.FS); err != nil {
		return err
	}

	membersCanInvite := cfg.Federation.MembersCanInvite
	hubCfg := hub.Config{
		DB:                db,
		Dialect:           dialect,
		JWTSecret:         cfg.JWTSecret,
		JWTIssuer:         cfg.JWTIssuer,
		InvitationExpiry:  cfg.Federation.InvitationExpiry,
		MembersCanInvite:  &membersCanInvite,
		DefaultMaxMembers: cfg.Federation.AggregationMaxMembers,
		Logger:            logger,
	}
	if cfg.HasSMTP() {
		hubCfg.SMTP = &hub.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			User:     cfg.SMTP.User,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			FromName: cfg.SMTP.FromName,
			Timeout:  cfg.SMTP.Timeout,
		}
	}

	h, err := hub.New(hubCfg)
	if err != nil {
		return err
	}

	router := httpserver.NewRouter(httpserver.RouterConfig{
		Logger:          logger,
		Federation:      h.Federation(),
		TokenService:    h.TokenService(),
		RateLimitConfig: cfg.RateLimit,
		SecurityHeaders: cfg.SecurityHeaders,
		Validation:      cfg.Validation,
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return h.Sweeper(cfg.Federation.ExpirySweepInterval).Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down server")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func openDatabase(cfg *config.Config) (*sql.DB, repository.Dialect, error) {
	dialect := repository.Dialect(cfg.DBDriver)
	if dialect == repository.DialectSQLite {
		db, err := repository.OpenSQLite(cfg.SQLitePath)
		return db, dialect, err
	}

	db, err := repository.NewDB(repository.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
	return db, repository.DialectPostgres, err
}
