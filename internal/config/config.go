// Package config provides configuration management for the matching engine.
package config

import (
	"os"
	"runtime"
	"strconv"

	"github.com/joho/godotenv"
)

// Defaults for the matching options.
const (
	DefaultAddressMaxDistanceM  = 50.0
	DefaultFallbackMaxDistanceM = 1500.0
	DefaultInsideEpsM           = 1e-6
	DefaultBatchSize            = 100000
	DefaultMinFallbackRadiusM   = 16.0
)

// Options holds all tunables of one matching run.
type Options struct {
	// Matching thresholds
	AddressMaxDistanceM  float64 // Stage 2 upper bound
	FallbackMaxDistanceM float64 // Stage 3 upper bound, hard reject above
	InsideEpsM           float64 // containment tolerance
	// InitialFallbackRadiusM seeds the Stage 3 expanding window. Zero means
	// auto: max(16, half the longest AABB side of the parcel).
	InitialFallbackRadiusM float64

	// Driver
	NumWorkers int
	BatchSize  int

	// Debug input restrictions
	FilterCodeInsee string
	LimitAddresses  int

	// Sinks
	DatabaseURL string

	// S3 staging
	AWSRegion string

	// Application
	LogLevel string
}

// Load builds Options from environment variables, falling back to defaults.
func Load() (*Options, error) {
	// Load .env file if it exists (for local development)
	_ = godotenv.Load()

	opts := &Options{
		AddressMaxDistanceM:    getEnvFloat("ADDRESS_MAX_DISTANCE_M", DefaultAddressMaxDistanceM),
		FallbackMaxDistanceM:   getEnvFloat("FALLBACK_MAX_DISTANCE_M", DefaultFallbackMaxDistanceM),
		InsideEpsM:             getEnvFloat("INSIDE_EPS_M", DefaultInsideEpsM),
		InitialFallbackRadiusM: getEnvFloat("INITIAL_FALLBACK_RADIUS_M", 0),

		NumWorkers: getEnvInt("NUM_WORKERS", runtime.NumCPU()),
		BatchSize:  getEnvInt("BATCH_SIZE", DefaultBatchSize),

		FilterCodeInsee: getEnv("FILTER_CODE_INSEE", ""),
		LimitAddresses:  getEnvInt("LIMIT_ADDRESSES", 0),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		AWSRegion: getEnv("AWS_REGION", "eu-west-3"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return opts, nil
}

// Workers returns the effective worker count, at least one.
func (o *Options) Workers() int {
	if o.NumWorkers < 1 {
		return 1
	}
	return o.NumWorkers
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as int or returns a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat retrieves an environment variable as float64 or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
