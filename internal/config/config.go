// Package config loads the gateway's environment-variable configuration
// surface: validate-then-expose-a-package-global, sourced from env vars
// plus an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the gateway's full runtime configuration.
type Config struct {
	DataDir    string
	SerialPort string
	DryRun     bool

	GPSValidationDisabled bool
	GPSFallbackLat        float64
	GPSFallbackLon        float64

	LogLevel string
	TZ       string

	DailyBroadcastEnabled bool
	Language              string

	NotesAPIURL string
	GeocoderURL string
	NATSURL     string // empty disables EventBus (C13)
	MetricsAddr string // empty disables Metrics (C12)

	RateLimitWindow    time.Duration
	RateLimitMaxEvents int
	WorkerInterval     time.Duration
	OSMMaxRetries      int
	OSMRetryDelay      time.Duration
}

// Keys holds the process-wide configuration once Load succeeds.
var Keys Config

// Load reads ENV_FILE (default "./.env") if present, then populates Keys
// from the environment and validates it. On failure cmd/gateway exits
// non-zero.
func Load() error {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = "./.env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	cfg := Config{
		DataDir:               getString("DATA_DIR", "./var/gateway.db"),
		SerialPort:            getString("SERIAL_PORT", ""),
		DryRun:                getBool("DRY_RUN", false),
		GPSValidationDisabled: getBool("GPS_VALIDATION_DISABLED", false),
		GPSFallbackLat:        getFloat("GPS_FALLBACK_LAT", 0),
		GPSFallbackLon:        getFloat("GPS_FALLBACK_LON", 0),
		LogLevel:              getString("LOG_LEVEL", "info"),
		TZ:                    getString("TZ", "UTC"),
		DailyBroadcastEnabled: getBool("DAILY_BROADCAST_ENABLED", true),
		Language:              getString("LANGUAGE", "es"),
		NotesAPIURL:           getString("NOTES_API_URL", "https://api.openstreetmap.org/api/0.6/notes"),
		GeocoderURL:           getString("GEOCODER_URL", "https://nominatim.openstreetmap.org/reverse"),
		NATSURL:               getString("NATS_URL", ""),
		MetricsAddr:           getString("METRICS_ADDR", ""),
		RateLimitWindow:       getDuration("RATE_LIMIT_WINDOW", 60*time.Second),
		RateLimitMaxEvents:    getInt("RATE_LIMIT_MAX_EVENTS", 5),
		WorkerInterval:        getDuration("WORKER_INTERVAL", 30*time.Second),
		OSMMaxRetries:         getInt("OSM_MAX_RETRIES", 3),
		OSMRetryDelay:         getDuration("OSM_RETRY_DELAY_SECONDS", 60*time.Second),
	}

	if err := validate(&cfg); err != nil {
		return err
	}

	Keys = cfg
	return nil
}

// validate enforces invariants that must hold before the gateway starts,
// chiefly that a GPS-bypass fallback can never be (0,0) — an unset
// fallback used with bypass enabled would poison duplicate detection
//.
func validate(cfg *Config) error {
	if cfg.GPSValidationDisabled {
		if cfg.GPSFallbackLat == 0 && cfg.GPSFallbackLon == 0 {
			return fmt.Errorf("config: GPS_VALIDATION_DISABLED requires a non-(0,0) GPS_FALLBACK_LAT/GPS_FALLBACK_LON")
		}
		if cfg.GPSFallbackLat < -90 || cfg.GPSFallbackLat > 90 {
			return fmt.Errorf("config: GPS_FALLBACK_LAT out of range: %f", cfg.GPSFallbackLat)
		}
		if cfg.GPSFallbackLon < -180 || cfg.GPSFallbackLon > 180 {
			return fmt.Errorf("config: GPS_FALLBACK_LON out of range: %f", cfg.GPSFallbackLon)
		}
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("config: DATA_DIR must not be empty")
	}
	if cfg.RateLimitMaxEvents <= 0 {
		return fmt.Errorf("config: RATE_LIMIT_MAX_EVENTS must be positive")
	}
	return nil
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
