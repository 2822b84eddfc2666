// Package app wires configuration, connections and services shared by the
// server and worker binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/audience-sync/internal/api"
	"github.com/ignite/audience-sync/internal/config"
	"github.com/ignite/audience-sync/internal/metaads"
	"github.com/ignite/audience-sync/internal/pkg/logger"
	"github.com/ignite/audience-sync/internal/repository/postgres"
	"github.com/ignite/audience-sync/internal/service/audience"
	"github.com/ignite/audience-sync/internal/service/audiencesync"
)

// App holds the long-lived dependencies of a process.
type App struct {
	Config    *config.Config
	DB        *sql.DB
	Redis     *redis.Client
	Gate      api.MetaGate
	Store     *postgres.AudienceRepo
	Audiences *audience.Service
	Sync      *audiencesync.Service
}

// ConfigureLogging applies the logging section.
func ConfigureLogging(cfg config.LoggingConfig) {
	logger.SetLevel(logger.ParseLevel(cfg.Level))
	if cfg.RedactPII != nil {
		logger.SetRedactPII(*cfg.RedactPII)
	}
}

// New connects to PostgreSQL and (when enabled) Redis, resolves the ad
// platform credentials and builds the services. Redis failures are logged
// and leave Redis nil; the sweep lock then falls back to Postgres.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database url is required")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if lt := cfg.Database.Lifetime(); lt > 0 {
		db.SetConnMaxLifetime(lt)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	logger.Info("[app] connected to database")

	a := &App{Config: cfg, DB: db}
	if cfg.Redis.Enabled && cfg.Redis.URL != "" {
		a.Redis = connectRedis(ctx, cfg.Redis.URL)
	}

	creds := config.ResolveMetaCredentials(cfg.Meta, os.Getenv)
	a.Gate = api.NewMetaGate(creds, cfg.Meta.RequiredAdAccount)
	if missing := creds.Missing(); len(missing) > 0 {
		logger.Warn("[app] ad platform not configured", "missing", missing)
	} else if !a.Gate.AccountMatches {
		logger.Warn("[app] ad account does not match the required account",
			"ad_account_id", creds.AdAccountID, "required", cfg.Meta.RequiredAdAccount)
	}

	client := metaads.NewClient(cfg.Meta, metaads.Credentials{
		AccessToken: creds.AccessToken,
		AdAccountID: creds.AdAccountID,
		PixelID:     creds.PixelID,
		BusinessID:  creds.BusinessID,
	})

	a.Store = postgres.NewAudienceRepo(db)

	var remote audience.Remote
	if a.Gate.Available() {
		remote = client
	}
	a.Audiences = audience.NewService(a.Store, remote, config.NormalizeAdAccountID(creds.AdAccountID))
	a.Sync = audiencesync.NewService(a.Store, postgres.NewLeadRepo(db), client, audiencesync.Options{
		CandidateCap:      cfg.Sync.CandidateCap,
		ClaimLimit:        cfg.Sync.ClaimLimit,
		MaxUploadAttempts: cfg.Sync.MaxUploadAttempts,
		OverviewLogLimit:  cfg.Sync.OverviewLogLimit,
	})
	return a, nil
}

func connectRedis(ctx context.Context, url string) *redis.Client {
	opts, err := redis.ParseURL(url)
	if err != nil {
		logger.Warn("[app] invalid redis url, continuing without redis", "error", err)
		return nil
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("[app] redis unreachable, continuing without redis", "error", err)
		client.Close()
		return nil
	}
	logger.Info("[app] connected to redis")
	return client
}

// Close releases connections.
func (a *App) Close() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
