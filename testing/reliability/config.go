package reliability

import (
	"os"
	"strconv"
	"time"
)

// ReliabilityConfig holds configuration for reliability testing
type ReliabilityConfig struct {
	Level          string        // "basic" or "stress"
	Duration       time.Duration // Test duration for stress tests
	MaxThreads     int           // Maximum traced threads for concurrent tests
	BufferCapacity int           // Per-thread buffer capacity
}

// getReliabilityConfig reads configuration from environment variables
func getReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		Level:          getEnv("AUTOTRACE_RELIABILITY_LEVEL", ""),
		Duration:       parseDuration(getEnv("AUTOTRACE_RELIABILITY_DURATION", "10s")),
		MaxThreads:     parseInt(getEnv("AUTOTRACE_RELIABILITY_MAX_THREADS", "32"), 32),
		BufferCapacity: parseInt(getEnv("AUTOTRACE_RELIABILITY_BUFFER_CAPACITY", "256"), 256),
	}
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseInt parses integer from string with default fallback
func parseInt(s string, fallback int) int {
	if value, err := strconv.Atoi(s); err == nil && value > 0 {
		return value
	}
	return fallback
}

// parseDuration parses duration from string with default fallback
func parseDuration(s string) time.Duration {
	if duration, err := time.ParseDuration(s); err == nil {
		return duration
	}
	return 10 * time.Second
}

// isStressTestEnabled checks if stress testing is enabled
func isStressTestEnabled() bool {
	return os.Getenv("AUTOTRACE_RELIABILITY_LEVEL") == "stress"
}

// shouldSkipReliabilityTests determines if reliability tests should be skipped
func shouldSkipReliabilityTests() bool {
	return os.Getenv("AUTOTRACE_RELIABILITY_LEVEL") == ""
}
