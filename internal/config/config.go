// Package config reads the desk's runtime knobs from the environment, with an
// optional .env-style file for local runs.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr      string // admin/event listener
	DBPath    string // sqlite snapshot store
	BridgeURL string // platform sidecar

	AccountID      string
	IdentitySecret string

	MaxAttempts int
	RetryStep   time.Duration
	Retention   time.Duration

	// EventTokenHash is a bcrypt hash; empty disables the event token check.
	EventTokenHash string
}

// Load applies OFFERDESK_ENV_FILE (if set) and then reads the environment.
func Load() (Config, error) {
	if path := getEnv("OFFERDESK_ENV_FILE", ""); path != "" {
		if err := LoadEnvFile(path); err != nil {
			return Config{}, err
		}
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	cfg := Config{
		Addr:           getEnv("OFFERDESK_ADDR", ":8080"),
		DBPath:         getEnv("OFFERDESK_DB", "./offerdesk.db"),
		BridgeURL:      strings.TrimRight(getEnv("BRIDGE_URL", "http://127.0.0.1:8787"), "/"),
		AccountID:      getEnv("ACCOUNT_ID", ""),
		IdentitySecret: getEnv("IDENTITY_SECRET", ""),
		MaxAttempts:    getEnvInt("MAX_ATTEMPTS", 5),
		RetryStep:      time.Duration(getEnvInt("RETRY_STEP_MS", 5000)) * time.Millisecond,
		Retention:      time.Duration(getEnvInt("POLL_RETENTION_SEC", 3600)) * time.Second,
		EventTokenHash: getEnv("EVENT_TOKEN_HASH", ""),
	}
	if cfg.MaxAttempts <= 0 {
		return Config{}, fmt.Errorf("MAX_ATTEMPTS must be positive, got %d", cfg.MaxAttempts)
	}
	if cfg.RetryStep < 0 {
		return Config{}, fmt.Errorf("RETRY_STEP_MS must not be negative")
	}
	if cfg.Retention <= 0 {
		return Config{}, fmt.Errorf("POLL_RETENTION_SEC must be positive")
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// LoadEnvFile sets KEY=VALUE pairs from path. Variables already present in
// the process environment win.
func LoadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("env file: %w", err)
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if len(val) >= 2 && ((val[0] == '"' && val[len(val)-1] == '"') || (val[0] == '\'' && val[len(val)-1] == '\'')) {
			val = val[1 : len(val)-1]
		} else if idx := strings.Index(val, " #"); idx >= 0 {
			val = strings.TrimSpace(val[:idx])
		}
		if _, ok := os.LookupEnv(key); !ok {
			_ = os.Setenv(key, val)
		}
	}
	return s.Err()
}
