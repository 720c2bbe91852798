package core

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator"
	"github.com/jo-hoe/buracos/internal/backend/imageprocessing"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath    = "config.yaml"
	defaultPort          = 8080
	defaultAdminUsername = "admin"
)

// CommandConfig represents a generic command configuration
type CommandConfig struct {
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:",inline"`
}

type Database struct {
	Type             string `yaml:"type" validate:"required,oneof=sqlite"`
	ConnectionString string `yaml:"connectionString" validate:"required"`
}

type Uploads struct {
	Directory    string          `yaml:"directory" validate:"required"`
	MaxBytes     int64           `yaml:"maxBytes" validate:"min=1"`
	MaxPixels    int             `yaml:"maxPixels" validate:"min=1"`
	MaxDimension int             `yaml:"maxDimension" validate:"min=0"`
	JPEGQuality  int             `yaml:"jpegQuality" validate:"min=1,max=100"`
	Commands     []CommandConfig `yaml:"commands"`
}

type Auth struct {
	AdminUsername string `yaml:"adminUsername" validate:"required"`
	AdminPassword string `yaml:"adminPassword"`
	// AllowAnonymousSubmissions defaults to true when unset.
	AllowAnonymousSubmissions *bool         `yaml:"allowAnonymousSubmissions"`
	SessionTTL                time.Duration `yaml:"sessionTTL" validate:"min=0"`
}

type Redis struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db" validate:"min=0"`
	KeyPrefix string `yaml:"keyPrefix"`
}

type Session struct {
	Type  string `yaml:"type" validate:"omitempty,oneof=sqlite redis"`
	Redis Redis  `yaml:"redis"`
}

type ServiceConfig struct {
	Port     int      `yaml:"port" validate:"min=0,max=65535"`
	LogLevel string   `yaml:"logLevel" validate:"omitempty,oneof=debug info warn error"`
	Database Database `yaml:"database"`
	Uploads  Uploads  `yaml:"uploads"`
	Auth     Auth     `yaml:"auth"`
	Session  Session  `yaml:"session"`
}

// DefaultConfig returns the configuration used when no config file is present
func DefaultConfig() *ServiceConfig {
	config := &ServiceConfig{}
	config.applyDefaults()
	config.applyEnvironment()
	return config
}

// LoadConfig loads configuration from the specified YAML file
func LoadConfig(configPath string) (*ServiceConfig, error) {
	// Read the config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	// Parse YAML
	var config ServiceConfig
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	config.applyDefaults()
	config.applyEnvironment()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", configPath, err)
	}

	return &config, nil
}

func (c *ServiceConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.ConnectionString == "" {
		c.Database.ConnectionString = "buracos.db"
	}
	if c.Uploads.Directory == "" {
		c.Uploads.Directory = "uploads"
	}
	if c.Uploads.MaxBytes == 0 {
		c.Uploads.MaxBytes = imageprocessing.DefaultMaxBytes
	}
	if c.Uploads.MaxPixels == 0 {
		c.Uploads.MaxPixels = imageprocessing.DefaultMaxPixels
	}
	if c.Uploads.MaxDimension == 0 {
		c.Uploads.MaxDimension = imageprocessing.DefaultMaxDimension
	}
	if c.Uploads.JPEGQuality == 0 {
		c.Uploads.JPEGQuality = imageprocessing.DefaultJPEGQuality
	}
	if c.Auth.AdminUsername == "" {
		c.Auth.AdminUsername = defaultAdminUsername
	}
	if c.Auth.AllowAnonymousSubmissions == nil {
		allow := true
		c.Auth.AllowAnonymousSubmissions = &allow
	}
	if c.Auth.SessionTTL == 0 {
		c.Auth.SessionTTL = 7 * 24 * time.Hour
	}
	if c.Session.Type == "" {
		c.Session.Type = "sqlite"
	}
}

// applyEnvironment lets deployments keep the admin credentials out of the config file
func (c *ServiceConfig) applyEnvironment() {
	if username := strings.TrimSpace(os.Getenv("ADMIN_USERNAME")); username != "" {
		c.Auth.AdminUsername = username
	}
	if password := os.Getenv("ADMIN_PASSWORD"); password != "" {
		c.Auth.AdminPassword = password
	}
}

// Validate checks field constraints and the configured commands
func (c *ServiceConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Session.Type == "redis" && c.Session.Redis.Address == "" {
		return fmt.Errorf("session.redis.address is required for the redis session store")
	}
	if err := validateCommands(c.Uploads.Commands); err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}
	return nil
}

// AnonymousSubmissionsAllowed reports whether logged out users may submit holes
func (c *ServiceConfig) AnonymousSubmissionsAllowed() bool {
	return c.Auth.AllowAnonymousSubmissions == nil || *c.Auth.AllowAnonymousSubmissions
}

// SlogLevel maps the configured log level, defaulting to info
func (c *ServiceConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *ServiceConfig) ingestorConfig() imageprocessing.IngestorConfig {
	commands := make([]imageprocessing.CommandConfig, 0, len(c.Uploads.Commands))
	for _, cmd := range c.Uploads.Commands {
		commands = append(commands, imageprocessing.CommandConfig{Name: cmd.Name, Params: cmd.Params})
	}
	return imageprocessing.IngestorConfig{
		Directory:    c.Uploads.Directory,
		MaxBytes:     c.Uploads.MaxBytes,
		MaxPixels:    c.Uploads.MaxPixels,
		MaxDimension: c.Uploads.MaxDimension,
		JPEGQuality:  c.Uploads.JPEGQuality,
		Commands:     commands,
	}
}

// validateCommands ensures all command configurations have required fields
func validateCommands(commands []CommandConfig) error {
	seenNames := make(map[string]bool)

	for i, cmd := range commands {
		// Validate name is not empty
		if cmd.Name == "" {
			return fmt.Errorf("command at index %d has empty name", i)
		}

		// Validate name is unique
		if seenNames[cmd.Name] {
			return fmt.Errorf("duplicate command name: %s", cmd.Name)
		}
		seenNames[cmd.Name] = true

		if !imageprocessing.DefaultRegistry.IsRegistered(cmd.Name) {
			return fmt.Errorf("unknown command: %s", cmd.Name)
		}
	}

	return nil
}
