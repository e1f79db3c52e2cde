/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the net-worth service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                  string `mapstructure:"SERVER_PORT"`
	DatabaseURL                 string `mapstructure:"DATABASE_URL"`
	AuthJWKSURL                 string `mapstructure:"AUTH_JWKS_URL"`
	PlaidClientID               string `mapstructure:"PLAID_CLIENT_ID"`
	PlaidSecret                 string `mapstructure:"PLAID_SECRET"`
	PlaidEnv                    string `mapstructure:"PLAID_ENV"`
	PlaidInstitutionID          string `mapstructure:"PLAID_INSTITUTION_ID"`
	PlaidTimeoutSeconds         int    `mapstructure:"PLAID_TIMEOUT_SECONDS"`
	PlaidMaxRetries             int    `mapstructure:"PLAID_MAX_RETRIES"`
	PlaidLinkRateLimitPerMinute int    `mapstructure:"PLAID_LINK_RATE_LIMIT_PER_MINUTE"`
	RabbitMQURL                 string `mapstructure:"RABBITMQ_URL"`
	RedisURL                    string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix        string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	BalanceRefreshIntervalHours int    `mapstructure:"BALANCE_REFRESH_INTERVAL_HOURS"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("PLAID_ENV", "sandbox")
	// American Express institution ID in Plaid.
	viper.SetDefault("PLAID_INSTITUTION_ID", "ins_3")
	viper.SetDefault("PLAID_TIMEOUT_SECONDS", 30)
	viper.SetDefault("PLAID_MAX_RETRIES", 2)
	viper.SetDefault("PLAID_LINK_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "networth:rate_limit")
	viper.SetDefault("BALANCE_REFRESH_INTERVAL_HOURS", 0)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("PLAID_CLIENT_ID")
	_ = viper.BindEnv("PLAID_SECRET")
	_ = viper.BindEnv("PLAID_ENV")
	_ = viper.BindEnv("PLAID_INSTITUTION_ID")
	_ = viper.BindEnv("PLAID_TIMEOUT_SECONDS")
	_ = viper.BindEnv("PLAID_MAX_RETRIES")
	_ = viper.BindEnv("PLAID_LINK_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("BALANCE_REFRESH_INTERVAL_HOURS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	// A platform-provided PORT (e.g. Railway/Render) takes precedence.
	if port := strings.TrimSpace(viper.GetString("PORT")); port != "" {
		config.ServerPort = port
	}

	config.PlaidEnv = strings.ToLower(strings.TrimSpace(config.PlaidEnv))
	switch config.PlaidEnv {
	case "sandbox", "development", "production":
	case "":
		config.PlaidEnv = "sandbox"
	default:
		log.Printf("level=warn component=config msg=\"unknown PLAID_ENV; falling back to sandbox\" value=%q", config.PlaidEnv)
		config.PlaidEnv = "sandbox"
	}

	config.PlaidInstitutionID = strings.TrimSpace(config.PlaidInstitutionID)
	if config.PlaidInstitutionID == "" {
		config.PlaidInstitutionID = "ins_3"
	}

	if config.PlaidTimeoutSeconds <= 0 {
		config.PlaidTimeoutSeconds = 30
	}
	if config.PlaidMaxRetries < 0 {
		log.Printf("level=warn component=config msg=\"negative PLAID_MAX_RETRIES; coercing to zero\" value=%d", config.PlaidMaxRetries)
		config.PlaidMaxRetries = 0
	}
	if config.PlaidLinkRateLimitPerMinute < 0 {
		config.PlaidLinkRateLimitPerMinute = 0
	}
	if config.BalanceRefreshIntervalHours < 0 {
		config.BalanceRefreshIntervalHours = 0
	}

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "networth:rate_limit"
	}

	return
}

// PlaidConfigured reports whether the Plaid credentials required for account
// linking are present. Their absence is a deployment-level configuration
// error, not a per-request condition.
func (c Config) PlaidConfigured() bool {
	return strings.TrimSpace(c.PlaidClientID) != "" && strings.TrimSpace(c.PlaidSecret) != ""
}
