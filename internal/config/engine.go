package config

import (
	"os"
	"time"

	"github.com/shopspring/decimal"
)

type EngineConfig struct {
	LockTimeout        time.Duration
	HighValueThreshold decimal.Decimal
	DefaultCurrency    string
	NotificationQueue  string
}

func LoadEngineConfig() *EngineConfig {
	return &EngineConfig{
		LockTimeout:        getEnvAsDuration("LEDGER_LOCK_TIMEOUT", 5*time.Second),
		HighValueThreshold: getEnvAsDecimal("LEDGER_HIGH_VALUE_THRESHOLD", decimal.NewFromInt(50_000)),
		DefaultCurrency:    getEnv("LEDGER_DEFAULT_CURRENCY", "INR"),
		NotificationQueue:  getEnv("LEDGER_NOTIFICATION_QUEUE", "notifications"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsDecimal(key string, defaultVal decimal.Decimal) decimal.Decimal {
	if val := os.Getenv(key); val != "" {
		if d, err := decimal.NewFromString(val); err == nil {
			return d
		}
	}
	return defaultVal
}
