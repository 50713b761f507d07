// Package config loads AgentGuard's environment-variable configuration.
package config

import (
	"log/slog"
	"os"
	"strconv"
)

// Config holds process configuration read once at startup.
type Config struct {
	DatabaseFile          string
	EnforcementHMACKey    string
	AutoSeed              bool
	SkipBackgroundService bool
	GeminiAPIKey          string
	GeminiModel           string
	PolicyGeneratorPath   string
	Port                  string
}

const defaultHMACKey = "dev-secret"

// Load reads configuration from the environment, applying the documented
// defaults from the wire surface spec.
func Load() *Config {
	cfg := &Config{
		DatabaseFile:          envOr("DATABASE_FILE", "agentguard.db"),
		EnforcementHMACKey:    envOr("ENFORCEMENT_HMAC_KEY", defaultHMACKey),
		AutoSeed:              boolEnvOr("AUTO_SEED", true),
		SkipBackgroundService: boolEnvOr("SKIP_BACKGROUND_SERVICES", false),
		GeminiAPIKey:          os.Getenv("GEMINI_API_KEY"),
		GeminiModel:           envOr("GEMINI_MODEL", "models/gemini-2.5-pro"),
		PolicyGeneratorPath:   envOr("POLICY_GENERATOR_PATH", "scripts/generate_policy.py"),
		Port:                  envOr("AGENTGUARD_PORT", envOr("PORT", "5073")),
	}

	if os.Getenv("ENFORCEMENT_HMAC_KEY") == "" {
		slog.Warn("ENFORCEMENT_HMAC_KEY not set; signing tool definitions with the documented development default", "default", defaultHMACKey)
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func boolEnvOr(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}
