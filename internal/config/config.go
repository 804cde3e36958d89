// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the engine database and backups (always absolute)
	Port     int
	LogLevel string
	Pretty   bool // Human-readable console logging

	// Quote feed
	QuoteFeedURL       string // HTTP quote endpoint base URL
	QuoteFeedStreamURL string // Websocket tick stream URL; empty disables streaming

	// Background jobs
	SweepSchedule    string // Pending-order sweep cron spec
	SnapshotSchedule string // Daily NAV snapshot cron spec
	BackupSchedule   string // Nightly backup cron spec; empty disables backups

	// Backup object store (S3-compatible); BackupBucket empty keeps
	// backups local only
	BackupEndpoint      string
	BackupRegion        string
	BackupBucket        string
	BackupAccessKey     string
	BackupSecretKey     string
	BackupRetentionDays int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("KAGAZ_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("KAGAZ_PORT", 8001),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Pretty:   getEnvAsBool("LOG_PRETTY", false),

		QuoteFeedURL:       getEnv("QUOTE_FEED_URL", "http://localhost:9100"),
		QuoteFeedStreamURL: getEnv("QUOTE_FEED_STREAM_URL", ""),

		SweepSchedule:    getEnv("SWEEP_SCHEDULE", "@every 15s"),
		SnapshotSchedule: getEnv("SNAPSHOT_SCHEDULE", "0 45 18 * * *"),
		BackupSchedule:   getEnv("BACKUP_SCHEDULE", "0 0 2 * * *"),

		BackupEndpoint:      getEnv("BACKUP_S3_ENDPOINT", ""),
		BackupRegion:        getEnv("BACKUP_S3_REGION", ""),
		BackupBucket:        getEnv("BACKUP_S3_BUCKET", ""),
		BackupAccessKey:     getEnv("BACKUP_S3_ACCESS_KEY", ""),
		BackupSecretKey:     getEnv("BACKUP_S3_SECRET_KEY", ""),
		BackupRetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.BackupBucket != "" && c.BackupAccessKey == "" {
		return fmt.Errorf("BACKUP_S3_ACCESS_KEY is required when BACKUP_S3_BUCKET is set")
	}
	return nil
}

// DatabasePath returns the engine database file path
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "engine.db")
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
