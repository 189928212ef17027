package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the companion agent.
type Config struct {
	// CDP connection settings
	CDPAddress string
	CDPPort    int

	// HTTP API bind settings
	BindAddr         string
	BindCandidates   []string
	BindAutoFallback bool

	// Product scope
	ScopeDomain string

	// Page executor
	EvalTimeout time.Duration

	// Sidepanel handoff
	HandoffTTL time.Duration

	// Local state (prefs, activity log)
	DataDir string

	// Logging
	LogLevel string
	LogFile  string

	// Browser launcher
	LaunchBrowser bool
	StartURL      string
	ProfileDir    string
}

// Load reads configuration from environment variables and an optional .env
// file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:       getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:          getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		BindAddr:         getEnvOrDefault("ATLAS_BIND_ADDR", ""),
		BindCandidates:   splitList(getEnvOrDefault("ATLAS_BIND_CANDIDATES", "127.0.0.1:8190,127.0.0.1:8191,127.0.0.1:8192")),
		BindAutoFallback: getEnvBoolOrDefault("ATLAS_BIND_AUTO_FALLBACK", true),
		ScopeDomain:      getEnvOrDefault("ATLAS_SCOPE_DOMAIN", "acme.example"),
		EvalTimeout:      time.Duration(getEnvIntOrDefault("ATLAS_EVAL_TIMEOUT_MS", 10000)) * time.Millisecond,
		HandoffTTL:       time.Duration(getEnvIntOrDefault("ATLAS_HANDOFF_TTL_MS", 10000)) * time.Millisecond,
		DataDir:          getEnvOrDefault("ATLAS_DATA_DIR", "./companion_data"),
		LogLevel:         strings.ToLower(getEnvOrDefault("ATLAS_LOG_LEVEL", "info")),
		LogFile:          getEnvOrDefault("ATLAS_LOG_FILE", "logs/companion.log"),
		LaunchBrowser:    getEnvBoolOrDefault("ATLAS_LAUNCH_BROWSER", false),
		StartURL:         getEnvOrDefault("ATLAS_START_URL", ""),
		ProfileDir:       getEnvOrDefault("ATLAS_PROFILE_DIR", "./browser_profile"),
	}

	if cfg.EvalTimeout < time.Second {
		cfg.EvalTimeout = time.Second
	}
	if cfg.ScopeDomain == "" {
		return nil, fmt.Errorf("ATLAS_SCOPE_DOMAIN must not be empty")
	}
	if cfg.StartURL == "" {
		cfg.StartURL = "https://" + cfg.ScopeDomain
	}
	return cfg, nil
}

// CDPURL returns the CDP HTTP endpoint.
func (c *Config) CDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

// PrefsPath is the location of the persisted settings file.
func (c *Config) PrefsPath() string {
	return filepath.Join(c.DataDir, "prefs.json")
}

// ActivityDBPath is the location of the activity log database.
func (c *Config) ActivityDBPath() string {
	return filepath.Join(c.DataDir, "activity.db")
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
