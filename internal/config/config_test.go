package config

import "testing"

func TestDefaults(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("PRESENCE_TTL_SEC", "")
	t.Setenv("MAX_MESSAGE_CHARS", "")

	cfg := MustLoad()
	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.PresenceTTLSec != 90 {
		t.Errorf("PresenceTTLSec = %d, want 90", cfg.PresenceTTLSec)
	}
	if cfg.MaxMessageChars != 5000 {
		t.Errorf("MaxMessageChars = %d, want 5000", cfg.MaxMessageChars)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("PRESENCE_TTL_SEC", "30")
	t.Setenv("SQLITE_DSN", "file:override.db")

	cfg := MustLoad()
	if cfg.Addr != ":9090" {
		t.Errorf("Addr = %q, want :9090", cfg.Addr)
	}
	if cfg.PresenceTTLSec != 30 {
		t.Errorf("PresenceTTLSec = %d, want 30", cfg.PresenceTTLSec)
	}
	if cfg.SQLiteDSN != "file:override.db" {
		t.Errorf("SQLiteDSN = %q, want file:override.db", cfg.SQLiteDSN)
	}
}

func TestBadIntFallsBack(t *testing.T) {
	t.Setenv("PRESENCE_TTL_SEC", "not-a-number")
	cfg := MustLoad()
	if cfg.PresenceTTLSec != 90 {
		t.Errorf("PresenceTTLSec = %d, want default 90", cfg.PresenceTTLSec)
	}
}
