package core

import (
	"log/slog"
	"os"
)

// SetupLogging installs the default slog logger at the configured level
func SetupLogging(config *ServiceConfig) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.SlogLevel()})
	slog.SetDefault(slog.New(handler))
}

// ResolveConfig loads the config file at CONFIG_PATH or ./config.yaml.
// Without CONFIG_PATH a missing default file yields the built-in defaults.
func ResolveConfig() (*ServiceConfig, string, error) {
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		config, err := LoadConfig(configPath)
		return config, configPath, err
	}
	if _, err := os.Stat(DefaultConfigPath); os.IsNotExist(err) {
		config := DefaultConfig()
		return config, "", config.Validate()
	}
	config, err := LoadConfig(DefaultConfigPath)
	return config, DefaultConfigPath, err
}
