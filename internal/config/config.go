package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	// Server
	ServerPort int

	// Entry store
	EntryStore      string // "memory" or "mongo"
	MongoURI        string
	MongoDB         string
	MongoCollection string

	// History sink
	HistoryEnabled       bool
	InfluxURL            string
	InfluxToken          string
	InfluxDatabase       string
	HistoryBatchSize     int
	HistoryFlushInterval time.Duration

	// Polling
	DefaultPollInterval time.Duration
	CallTimeout         time.Duration

	// Logging
	LogLevel string
	LogDir   string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServerPort: getEnvInt("SERVER_PORT", 8080),

		EntryStore:      getEnv("ENTRY_STORE", "memory"),
		MongoURI:        getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:         getEnv("MONGO_DATABASE", "fleet_monitoring"),
		MongoCollection: getEnv("MONGO_COLLECTION", "fleet_entries"),

		HistoryEnabled:       getEnvBool("HISTORY_ENABLED", false),
		InfluxURL:            getEnv("INFLUXDB_URL", "http://localhost:8086"),
		InfluxToken:          getEnv("INFLUXDB_TOKEN", ""),
		InfluxDatabase:       getEnv("INFLUXDB_DATABASE", "fleet_monitoring"),
		HistoryBatchSize:     getEnvInt("HISTORY_BATCH_SIZE", 100),
		HistoryFlushInterval: time.Duration(getEnvInt("HISTORY_FLUSH_INTERVAL", 200)) * time.Millisecond,

		DefaultPollInterval: time.Duration(getEnvInt("POLL_INTERVAL", 30)) * time.Second,
		CallTimeout:         time.Duration(getEnvInt("CALL_TIMEOUT", 15)) * time.Second,

		LogLevel: getEnv("LOG_LEVEL", "INFO"),
		LogDir:   getEnv("LOG_DIRECTORY", "./logs"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.EntryStore != "memory" && c.EntryStore != "mongo" {
		return fmt.Errorf("invalid ENTRY_STORE: %s (use 'memory' or 'mongo')", c.EntryStore)
	}

	if c.HistoryBatchSize < 1 || c.HistoryBatchSize > 10000 {
		return fmt.Errorf("invalid HISTORY_BATCH_SIZE: %d (must be 1-10000)", c.HistoryBatchSize)
	}

	if c.DefaultPollInterval < time.Second {
		return fmt.Errorf("invalid POLL_INTERVAL: %v (must be at least 1s)", c.DefaultPollInterval)
	}

	if c.CallTimeout < time.Second {
		return fmt.Errorf("invalid CALL_TIMEOUT: %v (must be at least 1s)", c.CallTimeout)
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
