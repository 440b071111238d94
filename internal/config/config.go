// Package config loads the per-deployment knobs an operator sets for the
// replay service (checkpoint locations and the sample response-size limit),
// in the style of the sibling orchestrator service's internal/config
// package: typed getters over environment variables and a single Load().
package config

import (
	"os"
	"strconv"
)

// Config holds replay service configuration sourced from the environment.
// cmd/server binds cobra/viper flags over these same fields; flags win when
// both are set.
type Config struct {
	Checkpoint CheckpointConfig
	Limits     LimitsConfig
}

// CheckpointConfig controls where checkpoints are read from and written to.
type CheckpointConfig struct {
	Dir         string
	FallbackDir string
}

// LimitsConfig bounds resource usage independent of any one RPC call.
type LimitsConfig struct {
	MaxSampleResponseBytes int
}

// Load reads configuration from environment variables, falling back to
// built-in defaults where the environment is silent.
func Load() (*Config, error) {
	cfg := &Config{
		Checkpoint: CheckpointConfig{
			Dir:         getEnvString("REVERB_CHECKPOINT_DIR", "./checkpoints"),
			FallbackDir: getEnvString("REVERB_FALLBACK_CHECKPOINT_DIR", ""),
		},
		Limits: LimitsConfig{
			MaxSampleResponseBytes: getEnvInt("REVERB_MAX_SAMPLE_RESPONSE_BYTES", 40*1024*1024),
		},
	}

	return cfg, nil
}

func getEnvString(key, defaultValue string) string {
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
