// Package common provides shared configuration and telemetry for the DEM
// pipeline applications.
package common

import (
	"os"
	"path/filepath"
)

// Config holds common configuration for all applications.
type Config struct {
	ClickHouseHost     string
	ClickHousePort     int
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string
	DataDir            string
	LogLevel           string
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ClickHouseHost:     getEnv("CLICKHOUSE_HOST", "localhost"),
		ClickHousePort:     9000,
		ClickHouseDatabase: getEnv("CLICKHOUSE_DATABASE", "dem"),
		ClickHouseUser:     getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePassword: getEnv("CLICKHOUSE_PASSWORD", ""),
		DataDir:            getEnv("DEM_DATA_DIR", "/var/lib/dem-pipeline"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}
}

// FrameDataDir returns the level-1 frame directory path.
func (c *Config) FrameDataDir() string {
	return filepath.Join(c.DataDir, "data_aia_lvl1")
}

// MapDataDir returns the combined map output directory path.
func (c *Config) MapDataDir() string {
	return filepath.Join(c.DataDir, "dem_maps")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
