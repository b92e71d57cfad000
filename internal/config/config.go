/**
 * @description
 * This package handles the configuration management for the settlement service. It uses the
 * Viper library to read configuration from environment variables and an optional .env file.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultServerPort               = "8080"
	defaultRedisKeyPrefix           = "fundflow"
	defaultEventExchange            = "fundflow.events"
	defaultUserEventQueue           = "settlement_service.user_events"
	defaultPaystackBaseURL          = "https://api.paystack.co"
	defaultMonnifyBaseURL           = "https://sandbox.monnify.com"
	defaultGatewayTimeoutSeconds    = 30
	defaultAccountNumberMaxAttempts = 10
	defaultTransferRateLimit        = 20
	defaultWebhookGuardTTLSeconds   = 30
	defaultBankSyncSchedule         = "@every 24h"
	defaultStalePendingSchedule     = "@every 1h"
	defaultStalePendingAgeMinutes   = 60
)

// Config holds all the configuration variables for the settlement service.
type Config struct {
	ServerPort                 string `mapstructure:"SERVER_PORT"`
	DatabaseURL                string `mapstructure:"DATABASE_URL"`
	RunMigrations              bool   `mapstructure:"RUN_MIGRATIONS"`
	RedisURL                   string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix             string `mapstructure:"REDIS_KEY_PREFIX"`
	RabbitMQURL                string `mapstructure:"RABBITMQ_URL"`
	EventExchange              string `mapstructure:"EVENT_EXCHANGE"`
	UserEventQueue             string `mapstructure:"USER_EVENT_QUEUE"`
	JWTSecret                  string `mapstructure:"JWT_SECRET"`
	CORSAllowedOriginsRaw      string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	PaystackBaseURL            string `mapstructure:"PAYSTACK_BASE_URL"`
	PaystackSecretKey          string `mapstructure:"PAYSTACK_SECRET_KEY"`
	PaystackCallbackURL        string `mapstructure:"PAYSTACK_CALLBACK_URL"`
	MonnifyBaseURL             string `mapstructure:"MONNIFY_BASE_URL"`
	MonnifyAPIKey              string `mapstructure:"MONNIFY_API_KEY"`
	MonnifySecretKey           string `mapstructure:"MONNIFY_SECRET_KEY"`
	MonnifySourceAccountNumber string `mapstructure:"MONNIFY_SOURCE_ACCOUNT_NUMBER"`
	GatewayTimeoutSeconds      int    `mapstructure:"GATEWAY_TIMEOUT_SECONDS"`
	AccountNumberMaxAttempts   int    `mapstructure:"ACCOUNT_NUMBER_MAX_ATTEMPTS"`
	TransferRateLimitPerMinute int    `mapstructure:"TRANSFER_RATE_LIMIT_PER_MINUTE"`
	WebhookGuardTTLSeconds     int    `mapstructure:"WEBHOOK_GUARD_TTL_SECONDS"`
	BankSyncSchedule           string `mapstructure:"BANK_SYNC_SCHEDULE"`
	StalePendingSchedule       string `mapstructure:"STALE_PENDING_SCHEDULE"`
	StalePendingAgeMinutes     int    `mapstructure:"STALE_PENDING_AGE_MINUTES"`

	CORSAllowedOrigins []string `mapstructure:"-"`
}

// GatewayTimeout bounds every outbound gateway call.
func (c Config) GatewayTimeout() time.Duration {
	return time.Duration(c.GatewayTimeoutSeconds) * time.Second
}

// WebhookGuardTTL is how long a reconciliation reference stays claimed in Redis.
func (c Config) WebhookGuardTTL() time.Duration {
	return time.Duration(c.WebhookGuardTTLSeconds) * time.Second
}

// StalePendingAge is the minimum age of a pending row reported by the stale-pending job.
func (c Config) StalePendingAge() time.Duration {
	return time.Duration(c.StalePendingAgeMinutes) * time.Minute
}

// LoadConfig reads configuration from environment variables and the optional .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", defaultServerPort)
	viper.SetDefault("RUN_MIGRATIONS", true)
	viper.SetDefault("REDIS_KEY_PREFIX", defaultRedisKeyPrefix)
	viper.SetDefault("EVENT_EXCHANGE", defaultEventExchange)
	viper.SetDefault("USER_EVENT_QUEUE", defaultUserEventQueue)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	viper.SetDefault("PAYSTACK_BASE_URL", defaultPaystackBaseURL)
	viper.SetDefault("MONNIFY_BASE_URL", defaultMonnifyBaseURL)
	viper.SetDefault("GATEWAY_TIMEOUT_SECONDS", defaultGatewayTimeoutSeconds)
	viper.SetDefault("ACCOUNT_NUMBER_MAX_ATTEMPTS", defaultAccountNumberMaxAttempts)
	viper.SetDefault("TRANSFER_RATE_LIMIT_PER_MINUTE", defaultTransferRateLimit)
	viper.SetDefault("WEBHOOK_GUARD_TTL_SECONDS", defaultWebhookGuardTTLSeconds)
	viper.SetDefault("BANK_SYNC_SCHEDULE", defaultBankSyncSchedule)
	viper.SetDefault("STALE_PENDING_SCHEDULE", defaultStalePendingSchedule)
	viper.SetDefault("STALE_PENDING_AGE_MINUTES", defaultStalePendingAgeMinutes)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RUN_MIGRATIONS")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "SETTLEMENT_REDIS_URL")
	_ = viper.BindEnv("REDIS_KEY_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("USER_EVENT_QUEUE")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("PAYSTACK_BASE_URL")
	_ = viper.BindEnv("PAYSTACK_SECRET_KEY")
	_ = viper.BindEnv("PAYSTACK_CALLBACK_URL")
	_ = viper.BindEnv("MONNIFY_BASE_URL")
	_ = viper.BindEnv("MONNIFY_API_KEY")
	_ = viper.BindEnv("MONNIFY_SECRET_KEY")
	_ = viper.BindEnv("MONNIFY_SOURCE_ACCOUNT_NUMBER")
	_ = viper.BindEnv("GATEWAY_TIMEOUT_SECONDS")
	_ = viper.BindEnv("ACCOUNT_NUMBER_MAX_ATTEMPTS")
	_ = viper.BindEnv("TRANSFER_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("WEBHOOK_GUARD_TTL_SECONDS")
	_ = viper.BindEnv("BANK_SYNC_SCHEDULE")
	_ = viper.BindEnv("STALE_PENDING_SCHEDULE")
	_ = viper.BindEnv("STALE_PENDING_AGE_MINUTES")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisKeyPrefix = strings.TrimSuffix(strings.TrimSpace(config.RedisKeyPrefix), ":")
	if config.RedisKeyPrefix == "" {
		config.RedisKeyPrefix = defaultRedisKeyPrefix
	}
	config.PaystackSecretKey = strings.TrimSpace(config.PaystackSecretKey)
	config.CORSAllowedOrigins = splitList(config.CORSAllowedOriginsRaw)
	if len(config.CORSAllowedOrigins) == 0 {
		config.CORSAllowedOrigins = []string{"*"}
	}

	config.GatewayTimeoutSeconds = positiveOrDefault("GATEWAY_TIMEOUT_SECONDS", config.GatewayTimeoutSeconds, defaultGatewayTimeoutSeconds)
	config.AccountNumberMaxAttempts = positiveOrDefault("ACCOUNT_NUMBER_MAX_ATTEMPTS", config.AccountNumberMaxAttempts, defaultAccountNumberMaxAttempts)
	config.TransferRateLimitPerMinute = positiveOrDefault("TRANSFER_RATE_LIMIT_PER_MINUTE", config.TransferRateLimitPerMinute, defaultTransferRateLimit)
	config.WebhookGuardTTLSeconds = positiveOrDefault("WEBHOOK_GUARD_TTL_SECONDS", config.WebhookGuardTTLSeconds, defaultWebhookGuardTTLSeconds)
	config.StalePendingAgeMinutes = positiveOrDefault("STALE_PENDING_AGE_MINUTES", config.StalePendingAgeMinutes, defaultStalePendingAgeMinutes)

	if strings.TrimSpace(config.BankSyncSchedule) == "" {
		config.BankSyncSchedule = defaultBankSyncSchedule
	}
	if strings.TrimSpace(config.StalePendingSchedule) == "" {
		config.StalePendingSchedule = defaultStalePendingSchedule
	}

	return
}

func positiveOrDefault(key string, value, fallback int) int {
	if value > 0 {
		return value
	}
	log.Printf("level=warn component=config msg=\"non-positive value configured; using default\" key=%s value=%d default=%d", key, value, fallback)
	return fallback
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
