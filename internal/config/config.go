package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds settings shared by the gateway and worker processes.
type Config struct {
	ListenAddr  string
	RedisAddr   string
	DatabaseDSN string
	WordsFile   string

	MatchDuration     time.Duration
	HeartbeatInterval time.Duration
	PresenceTTL       time.Duration
	DisconnectGrace   time.Duration
	PairingInterval   time.Duration
}

// fileConfig is the yaml schema. Durations are plain seconds so the file
// stays readable.
type fileConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	RedisAddr   string `yaml:"redis_addr"`
	DatabaseDSN string `yaml:"database_dsn"`
	WordsFile   string `yaml:"words_file"`

	MatchDurationSeconds     int `yaml:"match_duration_seconds"`
	HeartbeatIntervalSeconds int `yaml:"heartbeat_interval_seconds"`
	PresenceTTLSeconds       int `yaml:"presence_ttl_seconds"`
	DisconnectGraceSeconds   int `yaml:"disconnect_grace_seconds"`
	PairingIntervalSeconds   int `yaml:"pairing_interval_seconds"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:        ":8080",
		RedisAddr:         "localhost:6379",
		MatchDuration:     300 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		PresenceTTL:       60 * time.Second,
		DisconnectGrace:   30 * time.Second,
		PairingInterval:   2 * time.Second,
	}
}

// Load reads the yaml file at path (if non-empty) on top of the defaults,
// then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.merge(fc)
	}

	cfg.applyEnv()

	if cfg.MatchDuration < time.Second {
		return cfg, fmt.Errorf("config: match duration %v is below one second", cfg.MatchDuration)
	}
	// Presence stamps expire after PresenceTTL, and an expired stamp reads as
	// stale regardless of its age. A grace longer than the TTL would therefore
	// forfeit at the TTL, not at the grace.
	if cfg.DisconnectGrace > cfg.PresenceTTL {
		return cfg, fmt.Errorf("config: disconnect grace %v exceeds presence ttl %v", cfg.DisconnectGrace, cfg.PresenceTTL)
	}
	return cfg, nil
}

// FromEnv returns the defaults with environment overrides applied, reading
// the config file named by WORDBATTLE_CONFIG when set.
func FromEnv() (Config, error) {
	return Load(os.Getenv("WORDBATTLE_CONFIG"))
}

func (c *Config) merge(fc fileConfig) {
	if fc.ListenAddr != "" {
		c.ListenAddr = fc.ListenAddr
	}
	if fc.RedisAddr != "" {
		c.RedisAddr = fc.RedisAddr
	}
	if fc.DatabaseDSN != "" {
		c.DatabaseDSN = fc.DatabaseDSN
	}
	if fc.WordsFile != "" {
		c.WordsFile = fc.WordsFile
	}
	if fc.MatchDurationSeconds > 0 {
		c.MatchDuration = time.Duration(fc.MatchDurationSeconds) * time.Second
	}
	if fc.HeartbeatIntervalSeconds > 0 {
		c.HeartbeatInterval = time.Duration(fc.HeartbeatIntervalSeconds) * time.Second
	}
	if fc.PresenceTTLSeconds > 0 {
		c.PresenceTTL = time.Duration(fc.PresenceTTLSeconds) * time.Second
	}
	if fc.DisconnectGraceSeconds > 0 {
		c.DisconnectGrace = time.Duration(fc.DisconnectGraceSeconds) * time.Second
	}
	if fc.PairingIntervalSeconds > 0 {
		c.PairingInterval = time.Duration(fc.PairingIntervalSeconds) * time.Second
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.DatabaseDSN = v
	}
	if v := os.Getenv("WORDS_FILE"); v != "" {
		c.WordsFile = v
	}
	if secs, ok := envSeconds("MATCH_DURATION_SECONDS"); ok {
		c.MatchDuration = secs
	}
	if secs, ok := envSeconds("DISCONNECT_GRACE_SECONDS"); ok {
		c.DisconnectGrace = secs
	}
	if secs, ok := envSeconds("PRESENCE_TTL_SECONDS"); ok {
		c.PresenceTTL = secs
	}
}

func envSeconds(name string) (time.Duration, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}
