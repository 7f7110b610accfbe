package main

import (
	"testing"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/require"
)

func TestSetConfigValue(t *testing.T) {
	req := require.New(t)
	cfg := &Config{}

	req.NoError(setConfigValue(cfg, "default.token", "tok"))
	req.NoError(setConfigValue(cfg, "default.environment", "staging"))
	req.NoError(setConfigValue(cfg, "default.log_level", "DEBUG"))
	req.NoError(setConfigValue(cfg, "storage.data_dir", "/tmp/roomly"))

	req.Equal("tok", cfg.Default.Token)
	req.Equal("staging", cfg.Default.Environment)
	req.Equal("DEBUG", cfg.Default.LogLevel)
	req.Equal("/tmp/roomly", cfg.Storage.DataDir)

	req.Error(setConfigValue(cfg, "token", "x"))
	req.Error(setConfigValue(cfg, "default.unknown", "x"))
	req.Error(setConfigValue(cfg, "auth.token", "x"))
}

func TestConfig_TOMLLayout(t *testing.T) {
	req := require.New(t)
	cfg := Config{
		Default: ConfigDefault{Token: "tok", BaseURL: "http://localhost:3000"},
		Storage: ConfigStorage{DataDir: "/data"},
	}

	data, err := toml.Marshal(cfg)
	req.NoError(err)

	var back Config
	req.NoError(toml.Unmarshal(data, &back))
	req.Equal(cfg, back)
	req.Contains(string(data), "[storage]")
}

func TestApplyOverrides(t *testing.T) {
	req := require.New(t)
	cfg := &Config{Default: ConfigDefault{Token: "file", Environment: "production", LogLevel: "INFO"}}

	// Given only some variables are set, the rest of the file survives
	applyOverrides(cfg, EnvOverrides{Token: "env", DataDir: "/env"})

	req.Equal("env", cfg.Default.Token)
	req.Equal("production", cfg.Default.Environment)
	req.Equal("INFO", cfg.Default.LogLevel)
	req.Equal("/env", cfg.Storage.DataDir)
}

func TestLoadEffectiveConfig_Environment(t *testing.T) {
	req := require.New(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ROOMLY_TOKEN", "from-env")
	t.Setenv("ROOMLY_BASE_URL", "http://localhost:3000")

	cfg, err := loadEffectiveConfig()

	req.NoError(err)
	req.Equal("from-env", cfg.Default.Token)
	req.Equal("http://localhost:3000", cfg.Default.BaseURL)
}

func TestFormatting(t *testing.T) {
	req := require.New(t)
	req.Equal("12.50", formatAmount(1250))
	req.Equal("-0.05", formatAmount(-5))
	req.Equal("****", maskKey("short"))
	req.Equal("abcdefgh...6789", maskKey("abcdefghij0123456789"))
	req.Equal("fallback", valueOrDefault("", "fallback"))
}

func TestConfigKeys_AllSettable(t *testing.T) {
	req := require.New(t)
	cfg := &Config{}
	for _, k := range configKeys {
		req.NoError(setConfigValue(cfg, k[0], "v"), k[0])
	}
	req.Equal(Config{
		Default: ConfigDefault{Token: "v", Environment: "v", BaseURL: "v", LogLevel: "v"},
		Storage: ConfigStorage{DataDir: "v"},
	}, *cfg)
	req.Contains(keysHelp(), "ROOMLY_DATA_DIR")
}
