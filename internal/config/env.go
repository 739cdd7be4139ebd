package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override config.yaml.
const (
	EnvOrchestratorURL = "AGENTLOCK_ORCHESTRATOR_URL"
	EnvLockTTLSeconds  = "AGENTLOCK_LOCK_TTL_SECONDS"
	EnvLogLevel        = "AGENTLOCK_LOG_LEVEL"
)

const envFile = ".env"

// ApplyEnv loads .agentlock/.env (if present) without overriding variables
// already set in the process environment, then applies the AGENTLOCK_*
// overrides to cfg.
func ApplyEnv(dir string, cfg *Config) error {
	envPath := filepath.Join(dir, Dir, envFile)
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("loading %s: %w", envPath, err)
		}
	}

	if v := strings.TrimSpace(os.Getenv(EnvOrchestratorURL)); v != "" {
		cfg.Orchestrator.URL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLockTTLSeconds)); v != "" {
		ttl, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", EnvLockTTLSeconds, err)
		}
		cfg.Locks.TTLSeconds = ttl
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Log.Level = v
	}
	return nil
}
