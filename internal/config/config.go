package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DBConnStr string
	APIToken  string
	GRPCPort  int

	RedisAddress string // Empty means in-process locks
	LockTTL      time.Duration

	LogLevel  string
	LogPretty bool

	DueExecutionsSchedule  string // cron spec, seconds field first
	PauseReconcileSchedule string
	PendingBatchSize       int
}

// Load reads configuration from environment variables, after loading a .env file if one exists
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBConnStr:              getEnv("DB_CONN_STR", ""),
		APIToken:               getEnv("API_TOKEN", "dev-token"),
		GRPCPort:               getEnvAsInt("GRPC_PORT", 8080),
		RedisAddress:           getEnv("REDIS_ADDRESS", ""),
		LockTTL:                time.Duration(getEnvAsInt("LOCK_TTL_SECONDS", 30)) * time.Second,
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		LogPretty:              getEnvAsBool("LOG_PRETTY", false),
		DueExecutionsSchedule:  getEnv("DUE_EXECUTIONS_SCHEDULE", "0 */5 * * * *"),
		PauseReconcileSchedule: getEnv("PAUSE_RECONCILE_SCHEDULE", "0 0 * * * *"),
		PendingBatchSize:       getEnvAsInt("PENDING_BATCH_SIZE", 100),
	}

	// If explicit string is missing, build it from individual vars (Docker friendly)
	if cfg.DBConnStr == "" {
		cfg.DBConnStr = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_PORT", "5432"),
			getEnv("DB_USER", "postgres"),
			getEnv("DB_PASSWORD", "postgres"),
			getEnv("DB_NAME", "autoinvest"),
		)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.APIToken == "" {
		return fmt.Errorf("API_TOKEN is required")
	}
	if c.GRPCPort <= 0 || c.GRPCPort > 65535 {
		return fmt.Errorf("GRPC_PORT must be a valid port, got %d", c.GRPCPort)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("LOCK_TTL_SECONDS must be positive")
	}
	if c.PendingBatchSize <= 0 {
		return fmt.Errorf("PENDING_BATCH_SIZE must be positive")
	}
	return nil
}

// GRPCAddress returns the listen address of the gRPC server
func (c *Config) GRPCAddress() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
