package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LedgerConfig tunes the engine. Values come straight from the environment.
type LedgerConfig struct {
	Store          string // "postgres" or "memory"
	Locker         string // "redis" or "memory"
	LockTTL        time.Duration
	LockRetry      time.Duration
	LockWait       time.Duration
	NotifyQueue    int
	NotifyWorkers  int
	NotifyTimeout  time.Duration
	ReconcileOnRun bool

	// BootstrapAdminID, when set, is created as an admin on startup if missing.
	BootstrapAdminID   string
	BootstrapAdminName string
	AllowedOrigins     []string
}

func LoadLedgerConfig() *LedgerConfig {
	return &LedgerConfig{
		Store:          getEnv("LEDGER_STORE", "postgres"),
		Locker:         getEnv("LEDGER_LOCKER", "redis"),
		LockTTL:        getEnvAsDuration("LEDGER_LOCK_TTL", 30*time.Second),
		LockRetry:      getEnvAsDuration("LEDGER_LOCK_RETRY", 25*time.Millisecond),
		LockWait:       getEnvAsDuration("LEDGER_LOCK_WAIT", 10*time.Second),
		NotifyQueue:    getEnvAsInt("LEDGER_NOTIFY_QUEUE", 1024),
		NotifyWorkers:  getEnvAsInt("LEDGER_NOTIFY_WORKERS", 4),
		NotifyTimeout:  getEnvAsDuration("LEDGER_NOTIFY_TIMEOUT", 5*time.Second),
		ReconcileOnRun: getEnvAsBool("LEDGER_RECONCILE_ON_START", true),

		BootstrapAdminID:   getEnv("LEDGER_BOOTSTRAP_ADMIN", ""),
		BootstrapAdminName: getEnv("LEDGER_BOOTSTRAP_ADMIN_NAME", "Head Office"),
		AllowedOrigins:     getEnvAsSlice("LEDGER_ALLOWED_ORIGINS", []string{"https://*", "http://*"}),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
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

func getEnvAsSlice(key string, defaultVal []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
