package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values.
type Config struct {
	AppPort           string `mapstructure:"APP_PORT"`
	DatabaseURL       string `mapstructure:"DATABASE_URL"`
	Env               string `mapstructure:"ENV"`
	JWTSecret         string `mapstructure:"JWT_SECRET"`
	LogLevel          string `mapstructure:"LOG_LEVEL"`
	MaxRequestsPerMin int    `mapstructure:"MAX_REQUESTS_PER_MIN"`

	// Redis configuration.
	RedisAddr      string `mapstructure:"REDIS_ADDR"`
	RedisPassword  string `mapstructure:"REDIS_PASSWORD"`
	RedisLeaseDB   int    `mapstructure:"REDIS_LEASE_DB"`
	RedisSessionDB int    `mapstructure:"REDIS_SESSION_DB"`
	RedisTaskDB    int    `mapstructure:"REDIS_TASK_DB"`

	// Lease tuning. The local staleness threshold is deliberately shorter
	// than the remote TTL: same-browser detection has no network latency
	// to absorb.
	LeaseTTLMS         int `mapstructure:"LEASE_TTL_MS"`
	LocalStalenessMS   int `mapstructure:"LOCAL_STALENESS_MS"`
	RemoteHeartbeatMS  int `mapstructure:"REMOTE_HEARTBEAT_MS"`
	LocalHeartbeatMS   int `mapstructure:"LOCAL_HEARTBEAT_MS"`
	MaxHeartbeatMisses int `mapstructure:"MAX_HEARTBEAT_MISSES"`

	// Payment session window.
	PaymentWindowSec    int `mapstructure:"PAYMENT_WINDOW_SEC"`
	ExpiryWarningSec    int `mapstructure:"EXPIRY_WARNING_SEC"`
	SessionSweepMinutes int `mapstructure:"SESSION_SWEEP_MINUTES"`
}

var AppConfig Config

func LoadConfig() {
	// Look for a config file named "config.yaml" in the current and "config" directory.
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	// Automatically use environment variables where available.
	viper.AutomaticEnv()

	// Set default values.
	viper.SetDefault("APP_PORT", "8080")
	viper.SetDefault("ENV", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("MAX_REQUESTS_PER_MIN", 100)
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_LEASE_DB", 0)
	viper.SetDefault("REDIS_SESSION_DB", 1)
	viper.SetDefault("REDIS_TASK_DB", 2)
	viper.SetDefault("DATABASE_URL", "mongodb://localhost:27017")
	viper.SetDefault("LEASE_TTL_MS", 10000)
	viper.SetDefault("LOCAL_STALENESS_MS", 5000)
	viper.SetDefault("REMOTE_HEARTBEAT_MS", 3000)
	viper.SetDefault("LOCAL_HEARTBEAT_MS", 1000)
	viper.SetDefault("MAX_HEARTBEAT_MISSES", 3)
	viper.SetDefault("PAYMENT_WINDOW_SEC", 600)
	viper.SetDefault("EXPIRY_WARNING_SEC", 60)
	viper.SetDefault("SESSION_SWEEP_MINUTES", 15)

	if err := viper.ReadInConfig(); err != nil {
		log.Println("No config file found, using environment variables only")
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
}

func GetEnv() string {
	return AppConfig.Env
}

func IsProduction() bool {
	return GetEnv() == "production"
}

// LeaseTTL returns the remote lease validity window.
func LeaseTTL() time.Duration {
	return time.Duration(AppConfig.LeaseTTLMS) * time.Millisecond
}

// LocalStaleness returns the same-browser lease staleness threshold.
func LocalStaleness() time.Duration {
	return time.Duration(AppConfig.LocalStalenessMS) * time.Millisecond
}

// PaymentWindow returns the default payment session validity window.
func PaymentWindow() time.Duration {
	return time.Duration(AppConfig.PaymentWindowSec) * time.Second
}
