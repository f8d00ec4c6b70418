package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"

	"accountd/internal/auth"
	"accountd/internal/config"
	"accountd/internal/database"
	"accountd/internal/email"
	httpServer "accountd/internal/http"
	"accountd/internal/logging"
	"accountd/internal/reqlog"
	"accountd/internal/session"
	"accountd/internal/user"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.NewLogger(cfg.Server.IsDevelopment())
	logger.Info("starting application",
		"env", cfg.Server.Env,
		"port", cfg.Server.Port,
	)

	db, err := initDB(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	if err := database.CreateSchema(context.Background(), db); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	// Stores
	userRepo := user.NewRepository(db)
	sessionRepo := session.NewRepository(db)
	artifactStore := auth.NewStore(db)

	sessionManager := session.NewManager(sessionRepo, cfg.Auth.SessionTTL)

	mailer := email.NewService(
		cfg.Email.SMTPHost,
		cfg.Email.SMTPPort,
		cfg.Email.SMTPUser,
		cfg.Email.SMTPPassword,
		cfg.Email.FrontendURL,
	)

	authService := auth.NewService(
		userRepo,
		artifactStore,
		sessionManager,
		mailer,
		logger,
		cfg.Auth,
	)

	authHandler := auth.NewHandler(
		authService,
		!cfg.Server.IsDevelopment(), // isProduction
		cfg.Auth.SessionTTL,
	)
	authMiddleware := auth.NewMiddleware(sessionManager, userRepo)

	// Request log: in-memory ring buffer plus daily file appends
	logBuffer := reqlog.NewBuffer(cfg.Log.BufferCapacity)
	logSink, err := reqlog.NewFileSink(cfg.Log.Dir)
	if err != nil {
		return fmt.Errorf("failed to initialize log sink: %w", err)
	}

	router := httpServer.NewRouter(cfg, authHandler, authMiddleware, logBuffer, logSink, logger)

	serverAddr := ":" + cfg.Server.Port
	server := httpServer.NewServer(
		serverAddr,
		router,
		cfg.Server.ReadTimeout,
		cfg.Server.WriteTimeout,
		logger,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("received shutdown signal", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// initDB initializes the database connection and returns a Bun DB instance
func initDB(cfg config.DatabaseConfig) (*bun.DB, error) {
	sqlDB, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)

	return database.NewBunDB(sqlDB), nil
}
