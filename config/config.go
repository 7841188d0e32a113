package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	AppName     = "menu-visualizer"
	EnvFileName = "config.env"
)

// Environment variable names.
const (
	EnvBotToken      = "BOT_TOKEN"
	EnvAdminID       = "ADMIN_TELEGRAM_ID"
	EnvAPIURL        = "MENU_API_URL"
	EnvDBPath        = "MENU_DB_PATH"
	EnvUploadTimeout = "MENU_UPLOAD_TIMEOUT"
	EnvPollInterval  = "MENU_POLL_INTERVAL"
	EnvPollTimeout   = "MENU_POLL_TIMEOUT"
)

const (
	DefaultAPIURL        = "http://localhost:8000"
	DefaultDBPath        = "menu-visualizer.db"
	DefaultUploadTimeout = 60 * time.Second
	DefaultPollInterval  = 2 * time.Second
	DefaultPollTimeout   = 10 * time.Second

	MinUploadTimeout = 30 * time.Second
	MaxUploadTimeout = 60 * time.Second
)

// RequiredEnvVars lists the variables that have no default.
var RequiredEnvVars = []string{EnvBotToken, EnvAdminID}

// Config is the bot's runtime configuration.
type Config struct {
	BotToken      string
	AdminID       int64
	APIURL        string
	DBPath        string
	UploadTimeout time.Duration
	PollInterval  time.Duration
	PollTimeout   time.Duration
}

// Dir returns the application's config directory, creating it if needed.
func Dir() (string, error) {
	configBase, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}

	configDir := filepath.Join(configBase, AppName)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return configDir, nil
}

// FilePath returns the full path to the env file.
func FilePath() (string, error) {
	configDir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, EnvFileName), nil
}

// LoadEnvFile loads environment variables from the config file in the user's
// config directory. Variables already set in the environment win. Errors are
// ignored since the file may not exist.
func LoadEnvFile() {
	configPath, err := FilePath()
	if err != nil {
		return
	}
	_ = godotenv.Load(configPath)
}

// MissingRequired returns the names of required variables that are unset.
func MissingRequired() []string {
	var missing []string
	for _, v := range RequiredEnvVars {
		if os.Getenv(v) == "" {
			missing = append(missing, v)
		}
	}
	return missing
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		BotToken: os.Getenv(EnvBotToken),
		APIURL:   envOr(EnvAPIURL, DefaultAPIURL),
		DBPath:   envOr(EnvDBPath, DefaultDBPath),
	}
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("%s is not set", EnvBotToken)
	}

	adminID := os.Getenv(EnvAdminID)
	if adminID == "" {
		return nil, fmt.Errorf("%s is not set", EnvAdminID)
	}
	id, err := strconv.ParseInt(adminID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s must be a valid integer: %w", EnvAdminID, err)
	}
	cfg.AdminID = id

	if cfg.UploadTimeout, err = durationEnv(EnvUploadTimeout, DefaultUploadTimeout); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = durationEnv(EnvPollInterval, DefaultPollInterval); err != nil {
		return nil, err
	}
	if cfg.PollTimeout, err = durationEnv(EnvPollTimeout, DefaultPollTimeout); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.UploadTimeout < MinUploadTimeout || c.UploadTimeout > MaxUploadTimeout {
		return fmt.Errorf("%s must be between %s and %s, got %s",
			EnvUploadTimeout, MinUploadTimeout, MaxUploadTimeout, c.UploadTimeout)
	}
	if c.PollInterval <= 0 {
		return errors.New(EnvPollInterval + " must be positive")
	}
	if c.PollTimeout <= 0 {
		return errors.New(EnvPollTimeout + " must be positive")
	}
	return nil
}

// WriteEnvFile writes values to the config file with restrictive
// permissions, since it contains secrets. Keys are written in the given
// order. Returns the path where the config was written.
func WriteEnvFile(values map[string]string, order []string) (string, error) {
	configPath, err := FilePath()
	if err != nil {
		return "", err
	}

	f, err := os.OpenFile(configPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return "", fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	// Quote values to handle special characters
	for _, key := range order {
		if val, ok := values[key]; ok {
			if _, err := fmt.Fprintf(f, "%s=%q\n", key, val); err != nil {
				return "", fmt.Errorf("failed to write %s: %w", key, err)
			}
		}
	}
	return configPath, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// durationEnv parses a Go duration ("45s"). A bare number is taken as
// seconds.
func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, v, err)
	}
	return d, nil
}
