// Package config resolves runtime configuration from environment variables
// (optionally loaded from a .env file), per spec.md §6.2.
//
// # Environment variables
//
//	ARCH_POSTBOX_ROOT          - root directory, one subdirectory per agent (default: "./postbox")
//	ARCH_ARCHIVE_ROOT          - root directory for the router's archive store (default: "./archive")
//	ARCH_LOG_DIR               - directory for task logs and the execution trace (default: "./logs")
//	ARCH_PLAN_TIMEOUT          - default overall plan timeout (default: "1h")
//	ARCH_MAX_CONCURRENT_TASKS  - default max_concurrent_tasks (default: 10)
//	ARCH_ALERT_POLICY         - path to the alert policy YAML file (default: unset, alerting disabled)
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the resolved set of defaults a cmd/arch invocation starts from.
// CLI flags take precedence over these values; see cmd/arch.
type Config struct {
	PostboxRoot        string
	ArchiveRoot        string
	LogDir             string
	PlanTimeout        time.Duration
	MaxConcurrentTasks int
	AlertPolicyPath    string
}

// Load reads .env (if present, silently ignored otherwise) and resolves a
// Config from the environment, applying spec.md §6.2's defaults for any
// variable left unset.
func Load() Config {
	_ = godotenv.Load()
	return Config{
		PostboxRoot:        envOr("ARCH_POSTBOX_ROOT", "./postbox"),
		ArchiveRoot:        envOr("ARCH_ARCHIVE_ROOT", "./archive"),
		LogDir:             envOr("ARCH_LOG_DIR", "./logs"),
		PlanTimeout:        envDurationOr("ARCH_PLAN_TIMEOUT", time.Hour),
		MaxConcurrentTasks: envIntOr("ARCH_MAX_CONCURRENT_TASKS", 10),
		AlertPolicyPath:    os.Getenv("ARCH_ALERT_POLICY"),
	}
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
