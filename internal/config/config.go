// Package config loads the Eigensight configuration from defaults, an
// optional TOML file, and EIGENSIGHT_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the application configuration.
type Config struct {
	Server struct {
		// Endpoint is the narrator service address the client channel
		// dials. Defaults to the local narrator.
		Endpoint string `koanf:"endpoint"`
		// Port is where the narrator service listens when serving.
		Port int `koanf:"port"`
	} `koanf:"server"`

	AI struct {
		Provider    string  `koanf:"provider"`
		APIKey      string  `koanf:"api_key"`
		Model       string  `koanf:"model"`
		BaseURL     string  `koanf:"base_url"`
		Temperature float64 `koanf:"temperature"`
		MaxTokens   int     `koanf:"max_tokens"`
		// RequestsPerMinute caps LLM call rate; zero disables limiting.
		RequestsPerMinute int `koanf:"requests_per_minute"`
	} `koanf:"ai"`
}

// LoadConfig loads the configuration from a file, falling back to default
// search paths when none is given.
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// Set up default configuration
	k.Load(confmap.Provider(map[string]interface{}{
		"server.endpoint":        "ws://localhost:8000/ws",
		"server.port":            8000,
		"ai.provider":            "openai",
		"ai.model":               "gpt-4o-mini",
		"ai.temperature":         0.6,
		"ai.max_tokens":          1000,
		"ai.requests_per_minute": 30,
	}, "."), nil)

	// Load from TOML file if it exists
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		defaultPaths := []string{"./eigensight.toml", "$HOME/.eigensight.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// Load from environment variables with prefix EIGENSIGHT_
	k.Load(env.Provider("EIGENSIGHT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "EIGENSIGHT_")), "_", ".", -1)
	}), nil)

	// The narrator key commonly comes from the provider's own variable.
	if k.String("ai.api_key") == "" {
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			k.Load(confmap.Provider(map[string]interface{}{
				"ai.api_key": key,
			}, "."), nil)
		}
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

// InitConfig initializes a new configuration file.
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# Eigensight Configuration

[server]
endpoint = "ws://localhost:8000/ws"
port = 8000

[ai]
provider = "openai"
api_key = "your-openai-api-key"
model = "gpt-4o-mini"
temperature = 0.6
max_tokens = 1000
requests_per_minute = 30
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration.
func Validate(config *Config) error {
	if config.Server.Endpoint == "" {
		return fmt.Errorf("server endpoint is required")
	}
	if config.Server.Port <= 0 {
		return fmt.Errorf("server port must be positive")
	}
	if config.AI.Provider == "" {
		return fmt.Errorf("ai provider is required")
	}
	if config.AI.APIKey == "" {
		return fmt.Errorf("ai api_key is required (set ai.api_key or OPENAI_API_KEY)")
	}
	return nil
}
