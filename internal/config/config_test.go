package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.MatchDuration != 300*time.Second {
		t.Errorf("MatchDuration = %v", cfg.MatchDuration)
	}
	if cfg.DisconnectGrace != 30*time.Second {
		t.Errorf("DisconnectGrace = %v", cfg.DisconnectGrace)
	}
}

func TestFileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
listen_addr: ":9090"
redis_addr: "redis:6379"
match_duration_seconds: 120
disconnect_grace_seconds: 15
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Errorf("RedisAddr = %q", cfg.RedisAddr)
	}
	if cfg.MatchDuration != 2*time.Minute {
		t.Errorf("MatchDuration = %v", cfg.MatchDuration)
	}
	if cfg.DisconnectGrace != 15*time.Second {
		t.Errorf("DisconnectGrace = %v", cfg.DisconnectGrace)
	}
	// Untouched fields keep their defaults.
	if cfg.PairingInterval != 2*time.Second {
		t.Errorf("PairingInterval = %v", cfg.PairingInterval)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, `
listen_addr: ":9090"
match_duration_seconds: 120
`)
	t.Setenv("LISTEN_ADDR", ":7070")
	t.Setenv("MATCH_DURATION_SECONDS", "60")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":7070" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.MatchDuration != time.Minute {
		t.Errorf("MatchDuration = %v", cfg.MatchDuration)
	}
}

func TestBadEnvSecondsIgnored(t *testing.T) {
	t.Setenv("MATCH_DURATION_SECONDS", "banana")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MatchDuration != 300*time.Second {
		t.Errorf("MatchDuration = %v, want default", cfg.MatchDuration)
	}
}

func TestZeroDurationFallsBackToDefault(t *testing.T) {
	path := writeFile(t, "match_duration_seconds: 0\n")
	t.Setenv("MATCH_DURATION_SECONDS", "0")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MatchDuration != 300*time.Second {
		t.Errorf("MatchDuration = %v, want default", cfg.MatchDuration)
	}
}

func TestGraceMustFitPresenceWindow(t *testing.T) {
	// A grace past the presence TTL can never be honored: the stamp key
	// expires first and the player reads as stale at the TTL.
	path := writeFile(t, `
presence_ttl_seconds: 60
disconnect_grace_seconds: 90
`)
	if _, err := Load(path); err == nil {
		t.Fatal("grace beyond presence ttl should error")
	}

	t.Setenv("DISCONNECT_GRACE_SECONDS", "120")
	if _, err := Load(""); err == nil {
		t.Fatal("env grace beyond presence ttl should error")
	}

	// Equal is the boundary and is allowed.
	t.Setenv("DISCONNECT_GRACE_SECONDS", "60")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DisconnectGrace != cfg.PresenceTTL {
		t.Errorf("grace = %v, ttl = %v", cfg.DisconnectGrace, cfg.PresenceTTL)
	}
}

func TestUnreadableFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file should error")
	}
}

func TestMalformedYAML(t *testing.T) {
	path := writeFile(t, "listen_addr: [oops\n")
	if _, err := Load(path); err == nil {
		t.Fatal("malformed yaml should error")
	}
}
