package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ENV_FILE", "DATA_DIR", "DRY_RUN", "GPS_VALIDATION_DISABLED",
		"GPS_FALLBACK_LAT", "GPS_FALLBACK_LON", "RATE_LIMIT_MAX_EVENTS",
	} {
		os.Unsetenv(k)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV_FILE", "./testdata-does-not-exist.env")

	if err := Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if Keys.DataDir == "" {
		t.Error("expected a default DataDir")
	}
	if Keys.RateLimitMaxEvents != 5 {
		t.Errorf("expected default RateLimitMaxEvents 5, got %d", Keys.RateLimitMaxEvents)
	}
	if Keys.Language != "es" {
		t.Errorf("expected default Language es, got %q", Keys.Language)
	}
}

func TestLoadRejectsGPSBypassAtOrigin(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV_FILE", "./testdata-does-not-exist.env")
	t.Setenv("GPS_VALIDATION_DISABLED", "true")

	if err := Load(); err == nil {
		t.Error("expected an error when GPS bypass is enabled without a non-origin fallback")
	}
}

func TestLoadAcceptsGPSBypassWithFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV_FILE", "./testdata-does-not-exist.env")
	t.Setenv("GPS_VALIDATION_DISABLED", "true")
	t.Setenv("GPS_FALLBACK_LAT", "40.4168")
	t.Setenv("GPS_FALLBACK_LON", "-3.7038")

	if err := Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !Keys.GPSValidationDisabled {
		t.Error("expected GPSValidationDisabled to be true")
	}
}

func TestLoadRejectsNonPositiveRateLimit(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV_FILE", "./testdata-does-not-exist.env")
	t.Setenv("RATE_LIMIT_MAX_EVENTS", "0")

	if err := Load(); err == nil {
		t.Error("expected an error for a non-positive RATE_LIMIT_MAX_EVENTS")
	}
}
