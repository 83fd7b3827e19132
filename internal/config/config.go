package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration for the MarkAI assistant.
// It is loaded from ~/.markai/config.yaml and can be overridden by environment variables.
type Config struct {
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Memory   MemoryConfig   `mapstructure:"memory" yaml:"memory"`
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Persona  PersonaConfig  `mapstructure:"persona" yaml:"persona"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// DatabaseConfig contains configuration for the conversation store.
type DatabaseConfig struct {
	// Path is the directory holding the SQLite conversation database
	Path string `mapstructure:"path" yaml:"path"`
}

// MemoryConfig contains configuration for context assembly and working memory.
type MemoryConfig struct {
	// MaxContextLength is the character budget for assembled conversation context
	MaxContextLength int `mapstructure:"max_context_length" yaml:"max_context_length"`
	// ConsolidationThreshold is the minimum strength (importance x access count)
	// for a working-memory item to be promoted to long-term storage
	ConsolidationThreshold float64 `mapstructure:"consolidation_threshold" yaml:"consolidation_threshold"`
	// RetentionDays is how long inactive conversations are kept before cleanup (0 = forever)
	RetentionDays int `mapstructure:"retention_days" yaml:"retention_days"`
}

// LLMConfig contains configuration for Language Model providers.
type LLMConfig struct {
	// DefaultProvider specifies which provider to use by default (e.g., "gemini", "ollama")
	DefaultProvider string `mapstructure:"default_provider" yaml:"default_provider"`
	// Providers maps provider names to their specific configuration
	Providers map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
}

// ProviderConfig contains configuration for a specific LLM provider.
type ProviderConfig struct {
	// Endpoint is the API endpoint URL (primarily used for local providers like Ollama)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	// APIKey is the authentication key for the provider
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	// Model is the specific model to use with this provider
	Model string `mapstructure:"model" yaml:"model,omitempty"`
	// MaxTokens caps response length (0 uses the provider default)
	MaxTokens int `mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`
	// Temperature controls response randomness (0 uses the provider default)
	Temperature float64 `mapstructure:"temperature" yaml:"temperature,omitempty"`
	// TimeoutSec is the HTTP timeout in seconds for provider calls
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec,omitempty"`
}

// PersonaConfig controls the assistant's persona.
type PersonaConfig struct {
	// SystemPrompt overrides the built-in persona when non-empty
	SystemPrompt string `mapstructure:"system_prompt" yaml:"system_prompt,omitempty"`
}

// LoggingConfig contains configuration for application logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error")
	Level string `mapstructure:"level" yaml:"level"`
	// File is the path to the log file (empty logs to stderr)
	File string `mapstructure:"file" yaml:"file"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	markaiDir := filepath.Join(homeDir, ".markai")

	return &Config{
		Database: DatabaseConfig{
			Path: filepath.Join(markaiDir, "data"),
		},
		Memory: MemoryConfig{
			MaxContextLength:       4000,
			ConsolidationThreshold: 2.0,
			RetentionDays:          90,
		},
		LLM: LLMConfig{
			DefaultProvider: "gemini",
			Providers: map[string]ProviderConfig{
				"gemini": {
					APIKey: "",
					Model:  "gemini-1.5-flash",
				},
				"ollama": {
					Endpoint: "http://127.0.0.1:11434",
					Model:    "llama3.2",
				},
			},
		},
		Persona: PersonaConfig{
			SystemPrompt: "",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(markaiDir, "logs", "markai.log"),
		},
	}
}

// Load reads configuration from the default location (~/.markai/config.yaml)
// and merges with environment variables. If no config file exists, it creates
// one with default values.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, ".markai", "config.yaml")
	return LoadFromPath(configPath)
}

// LoadFromPath reads configuration from a specific file path and merges with
// environment variables. If the file doesn't exist, it creates one with default values.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := writeConfigFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Enable environment variable overrides
	// Example: MARKAI_LLM_PROVIDERS_GEMINI_API_KEY
	v.SetEnvPrefix("MARKAI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Database.Path = expandPath(cfg.Database.Path)
	cfg.Logging.File = expandPath(cfg.Logging.File)

	return &cfg, nil
}

// Save writes the current configuration to the default location.
func (c *Config) Save() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, ".markai", "config.yaml")
	return c.SaveToPath(configPath)
}

// SaveToPath writes the current configuration to a specific file path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return writeConfigFile(path, c)
}

// GetDataDir returns the MarkAI data directory path (~/.markai).
func (c *Config) GetDataDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".markai")
}

// EnsureDirectories creates all directories the application needs at runtime.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.GetDataDir(),
		c.Database.Path,
	}
	if c.Logging.File != "" {
		dirs = append(dirs, filepath.Dir(c.Logging.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// Validate checks the configuration for common errors and inconsistencies.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path cannot be empty")
	}

	if c.Memory.MaxContextLength <= 0 {
		return fmt.Errorf("memory.max_context_length must be positive")
	}

	if c.Memory.ConsolidationThreshold < 0 {
		return fmt.Errorf("memory.consolidation_threshold cannot be negative")
	}

	if c.Memory.RetentionDays < 0 {
		return fmt.Errorf("memory.retention_days cannot be negative")
	}

	if c.LLM.DefaultProvider == "" {
		return fmt.Errorf("llm.default_provider cannot be empty")
	}

	if _, exists := c.LLM.Providers[c.LLM.DefaultProvider]; !exists {
		return fmt.Errorf("default provider '%s' not found in providers map", c.LLM.DefaultProvider)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

// writeConfigFile writes a Config struct to a YAML file.
// Uses gopkg.in/yaml.v3 directly to ensure proper tag-based serialization.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
