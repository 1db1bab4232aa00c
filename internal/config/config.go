/**
 * @description
 * This package handles the configuration management for the wallet-service. It
 * uses the Viper library to read configuration from environment variables and an
 * optional .env file, providing a centralized way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 * - github.com/shopspring/decimal: Exact parsing of the starting balance.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	defaultRateLimitPrefix    = "wallet:rate_limit"
	defaultEventsExchange     = "wallet.events"
	defaultMaxAccountsPerUser = 3
	defaultHistoryLimit       = 20
)

// Config holds all the configuration variables for the wallet-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                 string `mapstructure:"SERVER_PORT"`
	DatabaseURL                string `mapstructure:"DATABASE_URL"`
	RedisURL                   string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix       string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	TransferRateLimitPerMinute int    `mapstructure:"TRANSFER_RATE_LIMIT_PER_MINUTE"`
	RabbitMQURL                string `mapstructure:"RABBITMQ_URL"`
	EventsExchange             string `mapstructure:"EVENTS_EXCHANGE"`
	JWTSecret                  string `mapstructure:"JWT_SECRET"`
	JWTIssuer                  string `mapstructure:"JWT_ISSUER"`
	JWTAudience                string `mapstructure:"JWT_AUDIENCE"`
	MaxAccountsPerUser         int    `mapstructure:"MAX_ACCOUNTS_PER_USER"`
	StartingBalanceRaw         string `mapstructure:"STARTING_BALANCE"`
	HistoryLimit               int    `mapstructure:"HISTORY_LIMIT"`
	CORSAllowedOriginsRaw      string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	StartingBalance    decimal.Decimal `mapstructure:"-"`
	CORSAllowedOrigins []string        `mapstructure:"-"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("TRANSFER_RATE_LIMIT_PER_MINUTE", 0)
	viper.SetDefault("EVENTS_EXCHANGE", defaultEventsExchange)
	viper.SetDefault("MAX_ACCOUNTS_PER_USER", defaultMaxAccountsPerUser)
	viper.SetDefault("STARTING_BALANCE", "0.00")
	viper.SetDefault("HISTORY_LIMIT", defaultHistoryLimit)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "WALLET_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("TRANSFER_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("JWT_ISSUER")
	_ = viper.BindEnv("JWT_AUDIENCE")
	_ = viper.BindEnv("MAX_ACCOUNTS_PER_USER")
	_ = viper.BindEnv("STARTING_BALANCE")
	_ = viper.BindEnv("HISTORY_LIMIT")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")

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
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = defaultRateLimitPrefix
	}
	config.EventsExchange = strings.TrimSpace(config.EventsExchange)
	if config.EventsExchange == "" {
		config.EventsExchange = defaultEventsExchange
	}
	config.JWTSecret = strings.TrimSpace(config.JWTSecret)

	if config.MaxAccountsPerUser <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive account cap configured; using default\" max_accounts=%d", config.MaxAccountsPerUser)
		config.MaxAccountsPerUser = defaultMaxAccountsPerUser
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = defaultHistoryLimit
	}
	if config.TransferRateLimitPerMinute < 0 {
		config.TransferRateLimitPerMinute = 0
	}

	config.StartingBalance = decimal.Zero
	if raw := strings.TrimSpace(config.StartingBalanceRaw); raw != "" {
		balance, parseErr := decimal.NewFromString(raw)
		switch {
		case parseErr != nil:
			log.Printf("level=warn component=config msg=\"invalid STARTING_BALANCE\" value=%q err=%v", raw, parseErr)
		case balance.IsNegative():
			log.Printf("level=warn component=config msg=\"negative starting balance configured; coercing to zero\" value=%q", raw)
		default:
			config.StartingBalance = balance.Round(2)
		}
	}

	config.CORSAllowedOrigins = splitList(config.CORSAllowedOriginsRaw)
	return
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
