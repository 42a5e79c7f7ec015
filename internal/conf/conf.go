// Package conf loads application configuration from the environment.
package conf

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration
type Config struct {
	// Panel HTTP/websocket gateway
	Gateway GatewayConfig

	// Bot fleet behavior
	Fleet FleetConfig

	// Storage paths
	Store StoreConfig

	// AI reply drafting (optional)
	AI AIConfig

	// Debug mode
	Debug bool
}

// GatewayConfig contains the panel server settings
type GatewayConfig struct {
	Port int
}

// FleetConfig contains supervisor tuning
type FleetConfig struct {
	CommandPrefix string
	RestartDelay  time.Duration
	StopGrace     time.Duration
	LogCapacity   int
	HistoryLimit  int
	Admins        []string
}

// StoreConfig contains database locations
type StoreConfig struct {
	DataDir     string
	BotsDBPath  string
	ArchivePath string
}

// AIConfig contains the suggestion endpoint settings
type AIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		homeDir, _ := os.UserHomeDir()
		dataDir = filepath.Join(homeDir, ".xpe-bot")
	}

	port := 8321
	if val := os.Getenv("PANEL_PORT"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			port = parsed
		}
	}

	prefix := os.Getenv("COMMAND_PREFIX")
	if prefix == "" {
		prefix = "."
	}

	restartDelay := 2 * time.Second
	if val := os.Getenv("RESTART_DELAY_MS"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			restartDelay = time.Duration(parsed) * time.Millisecond
		}
	}

	stopGrace := 5 * time.Second
	if val := os.Getenv("STOP_GRACE_MS"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			stopGrace = time.Duration(parsed) * time.Millisecond
		}
	}

	logCapacity := 200
	if val := os.Getenv("LOG_CAPACITY"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			logCapacity = parsed
		}
	}

	historyLimit := 500
	if val := os.Getenv("HISTORY_LIMIT"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			historyLimit = parsed
		}
	}

	var admins []string
	if val := os.Getenv("BOT_ADMINS"); val != "" {
		for _, id := range strings.Split(val, ",") {
			if id = strings.TrimSpace(id); id != "" {
				admins = append(admins, id)
			}
		}
	}

	return &Config{
		Gateway: GatewayConfig{
			Port: port,
		},
		Fleet: FleetConfig{
			CommandPrefix: prefix,
			RestartDelay:  restartDelay,
			StopGrace:     stopGrace,
			LogCapacity:   logCapacity,
			HistoryLimit:  historyLimit,
			Admins:        admins,
		},
		Store: StoreConfig{
			DataDir:     dataDir,
			BotsDBPath:  filepath.Join(dataDir, "bots.db"),
			ArchivePath: filepath.Join(dataDir, "archive.db"),
		},
		AI: AIConfig{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
			Model:   os.Getenv("OPENAI_MODEL"),
		},
		Debug: os.Getenv("DEBUG") == "true",
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return &ConfigError{Field: "PANEL_PORT", Message: "must be a valid port"}
	}
	if c.Fleet.CommandPrefix == "" {
		return &ConfigError{Field: "COMMAND_PREFIX", Message: "must not be empty"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
