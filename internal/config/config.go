// Package config assembles the single AppConfig struct the worker process
// is wired from, following the donor's internal/config/app.go shape: JSON
// on disk as the base, then environment overrides loaded through
// godotenv, with a typed sub-config per subsystem.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/linkpellow/scrapegoat/internal/runlog"
)

// OrchestratorConfig bounds C7's escalation loop (§6 "default_max_attempts").
type OrchestratorConfig struct {
	DefaultMaxAttempts int `json:"default_max_attempts"`
}

// EngineConfig carries the per-engine timeout budgets and provider wiring
// of §6 ("http_timeout_seconds", "browser_nav_timeout_ms", provider keys
// and preference order).
type EngineConfig struct {
	HTTPTimeoutSeconds   int      `json:"http_timeout_seconds"`
	BrowserNavTimeoutMs  int      `json:"browser_nav_timeout_ms"`
	ProviderEndpoint     string   `json:"provider_endpoint"`
	ProviderAPIKey       string   `json:"provider_api_key"`
	ProviderPreferenceOrder []string `json:"provider_preference_order"`
}

func (e EngineConfig) HTTPTimeout() time.Duration {
	return time.Duration(e.HTTPTimeoutSeconds) * time.Second
}

func (e EngineConfig) BrowserNavTimeout() time.Duration {
	return time.Duration(e.BrowserNavTimeoutMs) * time.Millisecond
}

// SessionPoolConfig carries C5's persistence switch and directory (§6
// "session_persistence_dir", "session_persistence_enabled").
type SessionPoolConfig struct {
	PersistenceEnabled bool   `json:"session_persistence_enabled"`
	PersistenceDir     string `json:"session_persistence_dir"`
}

// AdaptiveConfig carries C4's read-through cache TTL; the thresholds
// themselves are fixed constants (internal/constants), not configuration.
type AdaptiveConfig struct {
	StatsCacheTTLSeconds int `json:"stats_cache_ttl_seconds"`
}

func (a AdaptiveConfig) StatsCacheTTL() time.Duration {
	return time.Duration(a.StatsCacheTTLSeconds) * time.Second
}

// DatabaseConfig carries the Postgres DSN the store and broker connect
// with.
type DatabaseConfig struct {
	DSN string `json:"dsn"`
}

// AppConfig aggregates every subsystem's configuration, following the
// donor's AppConfig aggregate-struct pattern.
type AppConfig struct {
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Engine       EngineConfig       `json:"engine"`
	SessionPool  SessionPoolConfig  `json:"session_pool"`
	Adaptive     AdaptiveConfig     `json:"adaptive"`
	Database     DatabaseConfig     `json:"database"`
}

// Defaults returns the baseline configuration before any file or
// environment overrides are applied.
func Defaults() AppConfig {
	return AppConfig{
		Orchestrator: OrchestratorConfig{DefaultMaxAttempts: 3},
		Engine: EngineConfig{
			HTTPTimeoutSeconds:  20,
			BrowserNavTimeoutMs: 30000,
		},
		SessionPool: SessionPoolConfig{
			PersistenceEnabled: true,
			PersistenceDir:     "./data/sessions",
		},
		Adaptive: AdaptiveConfig{StatsCacheTTLSeconds: 300},
	}
}

// Load reads configPath (JSON) over the defaults, then applies a .env
// file (if present) and process environment overrides, matching the
// donor's Load: file first, then env, never failing hard on a missing
// file.
func Load(configPath string) (*AppConfig, error) {
	cfg := Defaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
			runlog.Printf(runlog.LevelInfo, "config: %s not found, using defaults", configPath)
		} else if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	_ = godotenv.Load() // optional; missing .env is not an error

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := os.Getenv("SCRAPEGOAT_POSTGRES_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("SCRAPEGOAT_DEFAULT_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Orchestrator.DefaultMaxAttempts = n
		}
	}
	if v := os.Getenv("SCRAPEGOAT_HTTP_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.HTTPTimeoutSeconds = n
		}
	}
	if v := os.Getenv("SCRAPEGOAT_BROWSER_NAV_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.BrowserNavTimeoutMs = n
		}
	}
	if v := os.Getenv("SCRAPEGOAT_SESSION_PERSISTENCE_DIR"); v != "" {
		cfg.SessionPool.PersistenceDir = v
	}
	if v := os.Getenv("SCRAPEGOAT_SESSION_PERSISTENCE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SessionPool.PersistenceEnabled = b
		}
	}
	if v := os.Getenv("SCRAPEGOAT_PROVIDER_ENDPOINT"); v != "" {
		cfg.Engine.ProviderEndpoint = v
	}
	if v := os.Getenv("SCRAPEGOAT_PROVIDER_API_KEY"); v != "" {
		cfg.Engine.ProviderAPIKey = v
	}
}
