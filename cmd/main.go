/**
 * @description
 * This is the main entry point for the net-worth service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, the Plaid API client, the message broker, the repository, the core
 * application service, and the HTTP server. It wires everything together and
 * starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/jobs, internal/store: Internal packages for the service.
 * - pkg/plaidclient: Client for the Plaid API.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/dwondim/networth-tracking-mvp/internal/api"
	"github.com/dwondim/networth-tracking-mvp/internal/app"
	"github.com/dwondim/networth-tracking-mvp/internal/config"
	"github.com/dwondim/networth-tracking-mvp/internal/jobs"
	"github.com/dwondim/networth-tracking-mvp/internal/store"
	"github.com/dwondim/networth-tracking-mvp/pkg/plaidclient"
	"github.com/dwondim/networth-tracking-mvp/pkg/rabbitmq"
)

// schema is applied idempotently at startup. Deletion of accounts is logical
// only; the partial unique index is what makes repeated Plaid imports upsert
// instead of duplicate.
const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id UUID NOT NULL,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    current_balance NUMERIC(18,2) NOT NULL DEFAULT 0,
    is_asset BOOLEAN NOT NULL DEFAULT FALSE,
    provider TEXT NOT NULL DEFAULT 'manual',
    external_account_id TEXT,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS accounts_user_external_account_idx
    ON accounts (user_id, external_account_id)
    WHERE external_account_id IS NOT NULL;
CREATE TABLE IF NOT EXISTS plaid_items (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id UUID NOT NULL,
    item_id TEXT NOT NULL UNIQUE,
    access_token TEXT NOT NULL,
    institution_id TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

func main() {
	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found, using environment variables\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}

	log.Printf("level=info component=bootstrap msg=\"starting networth-service\" port=%s plaid_env=%s", cfg.ServerPort, cfg.PlaidEnv)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Ensure required tables exist (idempotent).
	if _, err := dbpool.Exec(context.Background(), schema); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"failed ensuring tables (may already exist)\" err=%v", err)
	}

	// Initialize the RabbitMQ producer to publish events. The broker is
	// optional; without it events are skipped.
	var producer rabbitmq.Publisher
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"rabbitmq url missing; events disabled\" env=RABBITMQ_URL")
		producer = &rabbitmq.EventProducerFallback{}
	} else if p, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rabbitmq.EventProducerFallback{}
	} else {
		producer = p
		defer p.Close()
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the Plaid client. Missing credentials should not prevent the
	// service from booting; account linking will fail with a configuration
	// error while the manual ledger keeps working.
	var plaidClient app.PlaidAPI
	if !cfg.PlaidConfigured() {
		log.Println("level=warn component=bootstrap msg=\"plaid credentials not configured; account linking disabled\" env=PLAID_CLIENT_ID,PLAID_SECRET")
	} else {
		plaidClient = plaidclient.NewClient(
			cfg.PlaidEnv,
			cfg.PlaidClientID,
			cfg.PlaidSecret,
			cfg.PlaidInstitutionID,
			time.Duration(cfg.PlaidTimeoutSeconds)*time.Second,
			cfg.PlaidMaxRetries,
		)
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	netWorthService := app.NewService(repository, plaidClient, producer, cfg.PlaidInstitutionID)

	// Optional Redis-backed rate limiting of Plaid-facing operations.
	if cfg.PlaidLinkRateLimitPerMinute > 0 && cfg.RedisURL != "" {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				netWorthService.SetPlaidRateLimiter(
					app.NewRedisPlaidRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
					cfg.PlaidLinkRateLimitPerMinute,
				)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the API handlers and router.
	accountHandlers := api.NewAccountHandlers(netWorthService)
	router := api.NewRouter(accountHandlers, cfg.AuthJWKSURL)

	// Start the periodic balance refresh job if enabled and Plaid is usable.
	if cfg.BalanceRefreshIntervalHours > 0 && plaidClient != nil {
		refreshJob := jobs.NewBalanceRefreshJob(netWorthService, cfg.BalanceRefreshIntervalHours)
		go refreshJob.Process()
		log.Printf("level=info component=bootstrap msg=\"balance refresh job scheduled\" interval_hours=%d", cfg.BalanceRefreshIntervalHours)
	}

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
