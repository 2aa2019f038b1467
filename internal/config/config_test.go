package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var keys = []string{
	"OFFERDESK_ADDR", "OFFERDESK_DB", "BRIDGE_URL", "ACCOUNT_ID", "IDENTITY_SECRET",
	"MAX_ATTEMPTS", "RETRY_STEP_MS", "POLL_RETENTION_SEC", "EVENT_TOKEN_HASH", "OFFERDESK_ENV_FILE",
}

// clearEnv unsets every key for the test and restores it afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.DBPath != "./offerdesk.db" || cfg.BridgeURL != "http://127.0.0.1:8787" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.MaxAttempts != 5 || cfg.RetryStep != 5*time.Second || cfg.Retention != time.Hour {
		t.Fatalf("unexpected retry defaults: %+v", cfg)
	}
	if cfg.EventTokenHash != "" {
		t.Fatalf("token check must be off by default")
	}
}

func TestOverridesAndValidation(t *testing.T) {
	clearEnv(t)
	t.Setenv("BRIDGE_URL", "http://bridge:9000/")
	t.Setenv("MAX_ATTEMPTS", "3")
	t.Setenv("RETRY_STEP_MS", "250")
	t.Setenv("POLL_RETENTION_SEC", "60")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.BridgeURL != "http://bridge:9000" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.BridgeURL)
	}
	if cfg.MaxAttempts != 3 || cfg.RetryStep != 250*time.Millisecond || cfg.Retention != time.Minute {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}

	t.Setenv("MAX_ATTEMPTS", "0")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error for zero attempts")
	}
}

func TestEnvFileDoesNotOverrideProcessEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "desk.env")
	body := `# local run
export ACCOUNT_ID=76561198000000000
IDENTITY_SECRET="c2VjcmV0="
OFFERDESK_ADDR=:9999 # comment
MAX_ATTEMPTS=7
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("MAX_ATTEMPTS", "2")
	t.Setenv("OFFERDESK_ENV_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AccountID != "76561198000000000" || cfg.IdentitySecret != "c2VjcmV0=" || cfg.Addr != ":9999" {
		t.Fatalf("env file values not applied: %+v", cfg)
	}
	if cfg.MaxAttempts != 2 {
		t.Fatalf("process env must win, got %d", cfg.MaxAttempts)
	}
}

func TestMissingEnvFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("OFFERDESK_ENV_FILE", filepath.Join(t.TempDir(), "nope.env"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing env file")
	}
}
