// Package config loads botctl settings from defaults, an optional config file
// and BOTCTL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. BOTCTL_API_URL.
const EnvPrefix = "BOTCTL"

// appDir is the directory name under the user config dir.
const appDir = "botctl"

// Config holds all configuration values.
type Config struct {
	// Remote platform
	APIURL  string
	PushURL string
	Timeout time.Duration

	// Training-job monitor
	PollInterval time.Duration

	// Chat console
	RevealInterval time.Duration

	// Logging
	LogFile  string
	LogLevel slog.Level

	// Client-local state (token, last bot, auto-save)
	StateFile string

	// ConfigFile is the file that was read, empty when none was found.
	ConfigFile string
}

// Load reads configuration. An explicit path must exist; otherwise
// config.yaml in the user config dir is read if present.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if dir := configDir(); dir != "" {
		v.SetConfigName("config")
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		APIURL:         strings.TrimRight(v.GetString("api_url"), "/"),
		PushURL:        v.GetString("push_url"),
		Timeout:        v.GetDuration("timeout"),
		PollInterval:   v.GetDuration("poll_interval"),
		RevealInterval: v.GetDuration("reveal_interval"),
		LogFile:        v.GetString("log_file"),
		LogLevel:       parseLogLevel(v.GetString("log_level")),
		StateFile:      v.GetString("state_file"),
		ConfigFile:     v.ConfigFileUsed(),
	}
	if cfg.PushURL == "" {
		cfg.PushURL = derivePushURL(cfg.APIURL)
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll_interval must be positive, got %s", cfg.PollInterval)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Remote platform
	v.SetDefault("api_url", "http://localhost:8000")
	v.SetDefault("push_url", "")
	v.SetDefault("timeout", 30*time.Second)

	// Monitor and chat cadence
	v.SetDefault("poll_interval", 2*time.Second)
	v.SetDefault("reveal_interval", 20*time.Millisecond)

	// Logging
	v.SetDefault("log_file", filepath.Join(os.TempDir(), "botctl.log"))
	v.SetDefault("log_level", "INFO")

	// State
	v.SetDefault("state_file", filepath.Join(configDir(), "state.yaml"))
}

// configDir returns the botctl directory under the user config dir, or "" if
// the platform has none.
func configDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, appDir)
}

// derivePushURL maps the API root onto its WebSocket endpoint.
func derivePushURL(apiURL string) string {
	switch {
	case strings.HasPrefix(apiURL, "https://"):
		return "wss://" + strings.TrimPrefix(apiURL, "https://") + "/ws"
	case strings.HasPrefix(apiURL, "http://"):
		return "ws://" + strings.TrimPrefix(apiURL, "http://") + "/ws"
	}
	return apiURL + "/ws"
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
