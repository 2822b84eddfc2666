package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/audience-sync/internal/api"
	"github.com/ignite/audience-sync/internal/app"
	"github.com/ignite/audience-sync/internal/config"
	"github.com/ignite/audience-sync/internal/pkg/logger"
)

func main() {
	cfg, err := config.LoadFromEnv(configPath())
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	app.ConfigureLogging(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	server := api.NewServer(api.RouterConfig{
		Handlers:       api.NewHandlers(a.Audiences, a.Sync, a.Gate),
		Health:         api.NewHealthChecker(a.DB, a.Redis),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AdminToken:     cfg.Auth.AdminToken,
		CronSecret:     cfg.Auth.CronSecret,
	})
	if cfg.Auth.AdminToken == "" {
		logger.Warn("ADMIN_API_TOKEN is not set; admin endpoints will reject every request")
	}
	if cfg.Auth.CronSecret == "" {
		logger.Warn("CRON_SECRET is not set; the cron endpoint will reject every request")
	}

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
		logger.Info("Starting server", "addr", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}

// configPath returns CONFIG_PATH, or config/config.yaml when it exists.
// An empty result runs on defaults plus environment.
func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	if _, err := os.Stat("config/config.yaml"); err == nil {
		return "config/config.yaml"
	}
	return ""
}
