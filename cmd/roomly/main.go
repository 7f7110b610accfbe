package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.roomly/config.toml.
type Config struct {
	Default ConfigDefault `toml:"default"`
	Storage ConfigStorage `toml:"storage"`
}

// ConfigDefault holds general SDK settings.
type ConfigDefault struct {
	Token       string `toml:"token"`
	Environment string `toml:"environment"`
	BaseURL     string `toml:"base_url"`
	LogLevel    string `toml:"log_level"`
}

// ConfigStorage holds local persistence settings. An empty data dir keeps
// state in memory only.
type ConfigStorage struct {
	DataDir string `toml:"data_dir"`
}

// EnvOverrides are read from the environment (and a .env file) and win over
// the config file.
type EnvOverrides struct {
	Token       string `env:"ROOMLY_TOKEN"`
	Environment string `env:"ROOMLY_ENVIRONMENT"`
	BaseURL     string `env:"ROOMLY_BASE_URL"`
	LogLevel    string `env:"ROOMLY_LOG_LEVEL"`
	DataDir     string `env:"ROOMLY_DATA_DIR"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.roomly, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".roomly")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// loadEffectiveConfig is the config file with environment overrides applied.
func loadEffectiveConfig() (*Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	_ = godotenv.Load()
	var overrides EnvOverrides
	if _, err := env.UnmarshalFromEnviron(&overrides); err != nil {
		return nil, fmt.Errorf("cannot read environment: %w", err)
	}
	applyOverrides(cfg, overrides)
	return cfg, nil
}

func applyOverrides(cfg *Config, o EnvOverrides) {
	if o.Token != "" {
		cfg.Default.Token = o.Token
	}
	if o.Environment != "" {
		cfg.Default.Environment = o.Environment
	}
	if o.BaseURL != "" {
		cfg.Default.BaseURL = o.BaseURL
	}
	if o.LogLevel != "" {
		cfg.Default.LogLevel = o.LogLevel
	}
	if o.DataDir != "" {
		cfg.Storage.DataDir = o.DataDir
	}
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "default.token").
func setConfigValue(cfg *Config, key, value string) error {
	section, field, ok := strings.Cut(key, ".")
	if !ok {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.token)")
	}

	switch section {
	case "default":
		switch field {
		case "token":
			cfg.Default.Token = value
		case "environment":
			cfg.Default.Environment = value
		case "base_url":
			cfg.Default.BaseURL = value
		case "log_level":
			cfg.Default.LogLevel = value
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "storage":
		switch field {
		case "data_dir":
			cfg.Storage.DataDir = value
		default:
			return fmt.Errorf("unknown field %q in section [storage]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, storage)", section)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:          "roomly",
	Short:        "Roomly SDK CLI",
	Long:         "Command-line interface for the Roomly rental marketplace.\nChat with landlords, pay and manage bookings, and watch live updates.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output raw JSON")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
