// Package config loads kratos-ai's runtime configuration from the
// environment (optionally via a .env file) and keeps a subset of it
// hot-reloadable while the process runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Mu guards the hot-reloadable fields of a Config against concurrent
// reads from the brain loops and writes from the config watcher.
var Mu sync.RWMutex

// defaultDataDir is a var (not const) so tests can point it at a tempdir.
var defaultDataDir = "/var/lib/kratos-ai"

// Config is the process-wide configuration. Fields are grouped by the
// component that consumes them; DataDir/ConfigPath/LogLevel are only
// consumed at startup, the rest may be changed by a .env file edit while
// running.
type Config struct {
	ConfigPath string
	DataDir    string
	LogLevel   zerolog.Level

	MetricsPort int
	HealthPort  int

	Mode                   string
	ObserveInterval        time.Duration
	PredictInterval        time.Duration
	PredictionThreshold    float64
	AutoRemediateThreshold float64
	Namespaces             []string

	ApprovalTimeout       time.Duration
	ProtectedNamespaces   []string
	MaxActionsPerHour     int
	CooldownSeconds       int
}

// Load reads configuration from the process environment, after first
// loading a .env file from the directory named by KRATOS_CONFIG_DIR
// (default defaultDataDir) if one is present. Missing variables fall back to defaults matching
// the brain and safety packages' own DefaultConfig values.
func Load() (*Config, error) {
	configPath := os.Getenv("KRATOS_CONFIG_DIR")
	if configPath == "" {
		configPath = defaultDataDir
	}

	envPath := configPath + "/.env"
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", envPath, err)
		}
	}

	cfg := &Config{ConfigPath: configPath}
	applyEnv(cfg)
	return cfg, nil
}

// applyEnv reads environment variables into cfg. Every field is rewritten:
// a field whose variable is unset (or unparsable) gets its default, not its
// current value.
func applyEnv(cfg *Config) {
	Mu.Lock()
	defer Mu.Unlock()

	cfg.DataDir = envOrDefault("KRATOS_DATA_DIR", defaultDataDir)
	cfg.LogLevel = parseLevel(envOrDefault("KRATOS_LOG_LEVEL", "info"))

	cfg.MetricsPort = envInt("KRATOS_METRICS_PORT", 9090)
	cfg.HealthPort = envInt("KRATOS_HEALTH_PORT", 8081)

	cfg.Mode = envOrDefault("KRATOS_MODE", "recommend")
	cfg.ObserveInterval = envDuration("KRATOS_OBSERVE_INTERVAL", 30*time.Second)
	cfg.PredictInterval = envDuration("KRATOS_PREDICT_INTERVAL", 60*time.Second)
	cfg.PredictionThreshold = envFloat("KRATOS_PREDICTION_THRESHOLD", 0.7)
	cfg.AutoRemediateThreshold = envFloat("KRATOS_AUTO_REMEDIATE_THRESHOLD", 0.85)
	cfg.Namespaces = envList("KRATOS_NAMESPACES")

	cfg.ApprovalTimeout = envDuration("KRATOS_APPROVAL_TIMEOUT", time.Hour)
	cfg.ProtectedNamespaces = envList("KRATOS_PROTECTED_NAMESPACES")
	cfg.MaxActionsPerHour = envInt("KRATOS_MAX_ACTIONS_PER_HOUR", 20)
	cfg.CooldownSeconds = envInt("KRATOS_COOLDOWN_SECONDS", 60)
}

// Reload re-reads the .env file under cfg.ConfigPath, if present, letting
// its values override the process environment, and then re-reads the
// environment into an existing Config in place. A .env file that fails to
// parse leaves the environment as it was.
func Reload(cfg *Config) {
	envPath := cfg.ConfigPath + "/.env"
	if _, err := os.Stat(envPath); err == nil {
		_ = godotenv.Overload(envPath)
	}
	applyEnv(cfg)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
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

func envFloat(key string, def float64) float64 {
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

func envDuration(key string, def time.Duration) time.Duration {
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

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
