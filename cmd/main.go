/**
 * @description
 * This is the main entry point for the settlement-service. It is responsible for
 * initializing all components of the service, including configuration, database connection
 * and migrations, gateway clients, message brokers, the Redis-backed guards, the core
 * settlement engine, the cron scheduler and the HTTP server. It wires everything together
 * and starts the service.
 *
 * @dependencies
 * - log, log/slog, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/joho/godotenv: Loads a local .env file during development.
 * - github.com/redis/go-redis/v9: Rate limiting and reconciliation guards.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/paystackclient, pkg/monnifyclient: Gateway adapters.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fundflow/settlement-service/internal/api"
	"github.com/fundflow/settlement-service/internal/app"
	"github.com/fundflow/settlement-service/internal/codegen"
	"github.com/fundflow/settlement-service/internal/config"
	"github.com/fundflow/settlement-service/internal/store"
	"github.com/fundflow/settlement-service/pkg/monnifyclient"
	"github.com/fundflow/settlement-service/pkg/paystackclient"
	rmrabbit "github.com/fundflow/settlement-service/pkg/rabbitmq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; relying on environment\"")
	}

	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url must be configured\" env=DATABASE_URL")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=JWT_SECRET")
	}
	if strings.TrimSpace(cfg.PaystackSecretKey) == "" {
		log.Printf("level=warn component=bootstrap msg=\"paystack secret key missing; every webhook will be rejected\" env=PAYSTACK_SECRET_KEY")
	}
	log.Printf("level=info component=bootstrap msg=\"starting settlement-service\" port=%s", cfg.ServerPort)

	if cfg.RunMigrations {
		if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database migration failed\" err=%v", err)
		}
		log.Println("level=info component=bootstrap msg=\"database migrations applied\"")
	}

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer; notifications degrade to log-and-drop without it.
	var publisher rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL, cfg.EventExchange)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		publisher = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		publisher = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	redisClient := connectRedis(cfg.RedisURL)
	if redisClient != nil {
		defer redisClient.Close()
	}

	paystackClient := paystackclient.NewClient(cfg.PaystackBaseURL, cfg.PaystackSecretKey, cfg.PaystackCallbackURL, cfg.GatewayTimeout())
	monnifyClient := monnifyclient.NewClient(cfg.MonnifyBaseURL, cfg.MonnifyAPIKey, cfg.MonnifySecretKey, cfg.MonnifySourceAccountNumber, cfg.GatewayTimeout())

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	settlementService := app.NewService(
		repository,
		paystackClient,
		monnifyClient,
		publisher,
		codegen.New(),
		app.Options{
			AccountNumberMaxAttempts:   cfg.AccountNumberMaxAttempts,
			TransferRateLimitPerMinute: cfg.TransferRateLimitPerMinute,
		},
	)
	if redisClient != nil {
		settlementService.SetRateLimiter(app.NewRedisRateLimiter(redisClient, cfg.RedisKeyPrefix))
		settlementService.SetReferenceGuard(app.NewRedisReferenceGuard(redisClient, cfg.RedisKeyPrefix, cfg.WebhookGuardTTL()))
	}

	catalogCtx, cancelCatalog := context.WithTimeout(context.Background(), cfg.GatewayTimeout()+10*time.Second)
	if err := settlementService.EnsureBankCatalog(catalogCtx); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"initial bank catalog sync failed; cron will retry\" err=%v", err)
	}
	cancelCatalog()

	// Scheduled jobs log through slog like the rest of the cron tooling.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	jobs := app.NewJobs(settlementService, repository, logger, cfg)
	scheduler := app.NewScheduler(jobs, logger, cfg)
	scheduler.Start()

	// Default accounts are opened from registration events.
	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; default accounts will not be opened\" err=%v", err)
	} else {
		subscription := rmrabbit.Subscription{
			Exchange: cfg.EventExchange,
			Queue:    cfg.UserEventQueue,
			Handlers: map[string]rmrabbit.Handler{
				rmrabbit.RoutingKeyUserRegistered: settlementService.HandleUserRegistered,
			},
		}
		if err := rabbitConsumer.Subscribe(subscription); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"user event consumer start failed\" err=%v", err)
		}
	}

	handlers := api.NewHandlers(settlementService)
	router := api.NewRouter(handlers, cfg.JWTSecret, cfg.CORSAllowedOrigins)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}
	<-scheduler.Stop().Done()
	if rabbitConsumer != nil {
		rabbitConsumer.Close()
		select {
		case <-rabbitConsumer.Done():
		case <-ctx.Done():
			log.Println("level=warn component=rabbitmq_consumer msg=\"consumer did not drain before shutdown deadline\"")
		}
	}
	settlementService.WaitForBackground(ctx)

	log.Println("level=info component=http msg=\"shutdown complete\"")
}

// connectRedis returns nil when Redis is not configured or unreachable; rate limiting and
// the reconciliation guard are then disabled.
func connectRedis(redisURL string) *redis.Client {
	if strings.TrimSpace(redisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; rate limiting and reconciliation guard disabled\" env=REDIS_URL")
		return nil
	}
	redisOptions, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate limiting and reconciliation guard disabled\" err=%v", err)
		return nil
	}

	client := redis.NewClient(redisOptions)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate limiting and reconciliation guard disabled\" err=%v", err)
		client.Close()
		return nil
	}
	log.Println("level=info component=bootstrap msg=\"redis connected\"")
	return client
}
