// Package config handles environment-based configuration loading and the
// persistent settings file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConfig holds all environment-variable-driven settings (not hot-updatable).
type EnvConfig struct {
	// Directories
	DataDir string

	// Identity
	ClientType string

	// Notifications
	TelegramBotToken string
	TelegramChatID   string

	// History journal
	HistoryFlushInterval time.Duration
}

var validClientTypes = []string{"android_app", "web", "mobile_web", "smartbox"}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error if any value is invalid.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	cfg.DataDir = envStr("DRIFTWATCH_DATA_DIR", ".")
	cfg.ClientType = envStr("DRIFTWATCH_CLIENT_TYPE", "android_app")
	cfg.TelegramBotToken = strings.TrimSpace(envStr("DRIFTWATCH_TELEGRAM_BOT_TOKEN", ""))
	cfg.TelegramChatID = strings.TrimSpace(envStr("DRIFTWATCH_TELEGRAM_CHAT_ID", ""))
	cfg.HistoryFlushInterval = envDuration("DRIFTWATCH_HISTORY_FLUSH_INTERVAL", 30*time.Second, &errs)

	// --- Validation ---
	if cfg.DataDir == "" {
		errs = append(errs, "DRIFTWATCH_DATA_DIR must not be empty")
	}
	valid := false
	for _, t := range validClientTypes {
		if cfg.ClientType == t {
			valid = true
			break
		}
	}
	if !valid {
		errs = append(errs, fmt.Sprintf(
			"DRIFTWATCH_CLIENT_TYPE: invalid value %q (allowed: %s)",
			cfg.ClientType, strings.Join(validClientTypes, ", "),
		))
	}
	if cfg.HistoryFlushInterval <= 0 {
		errs = append(errs, "DRIFTWATCH_HISTORY_FLUSH_INTERVAL must be positive")
	}
	if (cfg.TelegramBotToken == "") != (cfg.TelegramChatID == "") {
		errs = append(errs, "DRIFTWATCH_TELEGRAM_BOT_TOKEN and DRIFTWATCH_TELEGRAM_CHAT_ID must be set together")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}
