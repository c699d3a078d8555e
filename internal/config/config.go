package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration for the checkout core.
type Config struct {
	Port               int
	LogLevel           string
	SweepInterval      time.Duration
	LockTTL            time.Duration
	PriceTolerance     int64 // cents
	AllowPriceDecrease bool
	StatsWindow        time.Duration
	WebhookTimeout     time.Duration
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	ShutdownTimeout    time.Duration
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. It returns an error for any invalid value.
func Load() (*Config, error) {
	port, err := getInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	logLevel := getStr("LOG_LEVEL", "info")
	if !isValidLogLevel(logLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", logLevel)
	}

	sweepInterval, err := getDuration("SWEEP_INTERVAL", 1*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SWEEP_INTERVAL: %w", err)
	}

	lockTTL, err := getDuration("LOCK_TTL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid LOCK_TTL: %w", err)
	}
	if lockTTL <= 0 {
		return nil, fmt.Errorf("invalid LOCK_TTL: must be positive")
	}

	priceTolerance, err := getInt64("PRICE_TOLERANCE", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid PRICE_TOLERANCE: %w", err)
	}
	if priceTolerance < 0 {
		return nil, fmt.Errorf("invalid PRICE_TOLERANCE: must be >= 0")
	}

	allowPriceDecrease, err := getBool("ALLOW_PRICE_DECREASE", true)
	if err != nil {
		return nil, fmt.Errorf("invalid ALLOW_PRICE_DECREASE: %w", err)
	}

	statsWindow, err := getDuration("STATS_WINDOW", 1*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("invalid STATS_WINDOW: %w", err)
	}

	webhookTimeout, err := getDuration("WEBHOOK_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WEBHOOK_TIMEOUT: %w", err)
	}

	readTimeout, err := getDuration("READ_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid READ_TIMEOUT: %w", err)
	}

	writeTimeout, err := getDuration("WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WRITE_TIMEOUT: %w", err)
	}

	idleTimeout, err := getDuration("IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid IDLE_TIMEOUT: %w", err)
	}

	shutdownTimeout, err := getDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	return &Config{
		Port:               port,
		LogLevel:           logLevel,
		SweepInterval:      sweepInterval,
		LockTTL:            lockTTL,
		PriceTolerance:     priceTolerance,
		AllowPriceDecrease: allowPriceDecrease,
		StatsWindow:        statsWindow,
		WebhookTimeout:     webhookTimeout,
		ReadTimeout:        readTimeout,
		WriteTimeout:       writeTimeout,
		IdleTimeout:        idleTimeout,
		ShutdownTimeout:    shutdownTimeout,
	}, nil
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getInt64(key string, defaultVal int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func getBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseBool(v)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
