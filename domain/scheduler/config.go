package scheduler

import (
	"os"
	"strconv"
)

// Config holds scheduler configuration. Task cadences come from the central
// config; this only decides whether the scheduler runs at all, so one process
// can serve the API while another carries the background work.
type Config struct {
	// Enabled controls whether the scheduler runs
	Enabled bool
}

// NewConfig creates a new Config from environment variables
func NewConfig() *Config {
	return &Config{
		Enabled: getEnvBool("SCHEDULER_ENABLED", true),
	}
}

// getEnvBool returns a boolean from an environment variable
func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
