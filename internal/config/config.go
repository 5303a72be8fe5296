package config

import (
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed example.yaml
var exampleConfig embed.FS

// Config represents the complete briefd configuration
type Config struct {
	Identity Identity        `yaml:"identity"`
	Stream   Stream          `yaml:"stream"`
	Unread   Unread          `yaml:"unread"`
	Notify   Notify          `yaml:"notify"`
	Compose  Compose         `yaml:"compose"`
	Logging  Logging         `yaml:"logging"`
	Sections []SectionConfig `yaml:"sections"`
}

// Identity describes the current user as seen by the chat feed
type Identity struct {
	UserID   string `yaml:"user_id"`
	Username string `yaml:"username"`
}

// Stream contains the push connection settings
type Stream struct {
	Endpoint string `yaml:"endpoint"`
	// Credential is the bearer token presented during the websocket
	// handshake. Supports "${ENV_VAR}" expansion so tokens stay out of
	// the config file.
	Credential string  `yaml:"credential"`
	Backoff    Backoff `yaml:"backoff"`
	// SinkBuffer is the capacity of the normalized event channel handed
	// to the UI layer. Events are dropped (and logged) when it is full.
	SinkBuffer int `yaml:"sink_buffer"`
}

// Backoff controls the reconnect policy
type Backoff struct {
	BaseMs      int `yaml:"base_ms"`
	CapMs       int `yaml:"cap_ms"`
	MaxAttempts int `yaml:"max_attempts"` // 0 means retry forever
}

// Unread contains the unread counter refresh settings
type Unread struct {
	BatchSize int `yaml:"batch_size"`
}

// Notify contains mention alert settings
type Notify struct {
	Enabled  bool     `yaml:"enabled"`
	Keywords []string `yaml:"keywords"`
}

// Compose contains composite briefing settings
type Compose struct {
	Separator      string `yaml:"separator"`
	SectionPreview int    `yaml:"section_preview"` // max runes of nested content per item
	ListCap        int    `yaml:"list_cap"`        // max list items per section before "…and N more"
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SectionConfig declares one composite briefing section
type SectionConfig struct {
	Key   string `yaml:"key"`
	Title string `yaml:"title"`
	Order int    `yaml:"order"`
}

// Load reads, defaults, expands and validates a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvExpansion(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Stream.Backoff.BaseMs == 0 {
		cfg.Stream.Backoff.BaseMs = 500
	}
	if cfg.Stream.Backoff.CapMs == 0 {
		cfg.Stream.Backoff.CapMs = 30000
	}
	if cfg.Stream.SinkBuffer == 0 {
		cfg.Stream.SinkBuffer = 256
	}
	if cfg.Unread.BatchSize == 0 {
		cfg.Unread.BatchSize = 10
	}
	if len(cfg.Notify.Keywords) == 0 {
		cfg.Notify.Keywords = []string{"channel", "all", "here"}
	}
	if cfg.Compose.Separator == "" {
		cfg.Compose.Separator = "\n---\n"
	}
	if cfg.Compose.SectionPreview == 0 {
		cfg.Compose.SectionPreview = 400
	}
	if cfg.Compose.ListCap == 0 {
		cfg.Compose.ListCap = 10
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// applyEnvExpansion expands ${VAR} references in credential-bearing fields
func applyEnvExpansion(cfg *Config) {
	cfg.Stream.Credential = os.Expand(cfg.Stream.Credential, os.Getenv)
}

// Validate checks the configuration for consistency
func Validate(cfg *Config) error {
	if cfg.Identity.Username == "" {
		return fmt.Errorf("identity.username is required")
	}

	if cfg.Stream.Endpoint == "" {
		return fmt.Errorf("stream.endpoint is required")
	}

	if cfg.Stream.Backoff.BaseMs < 0 || cfg.Stream.Backoff.CapMs < 0 {
		return fmt.Errorf("stream.backoff values must not be negative")
	}

	if cfg.Stream.Backoff.CapMs < cfg.Stream.Backoff.BaseMs {
		return fmt.Errorf("stream.backoff.cap_ms must be >= base_ms")
	}

	if cfg.Unread.BatchSize < 1 {
		return fmt.Errorf("unread.batch_size must be at least 1")
	}

	seen := make(map[string]struct{})
	for _, section := range cfg.Sections {
		if section.Key == "" {
			return fmt.Errorf("sections entries require a key")
		}
		if _, dup := seen[section.Key]; dup {
			return fmt.Errorf("duplicate section key: %s", section.Key)
		}
		seen[section.Key] = struct{}{}
	}

	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	return nil
}

// GetExampleConfig returns the embedded example configuration
func GetExampleConfig() ([]byte, error) {
	return exampleConfig.ReadFile("example.yaml")
}

// Default returns a configuration with all defaults applied
func Default() *Config {
	cfg := &Config{
		Identity: Identity{Username: "me"},
		Stream:   Stream{Endpoint: "wss://chat.example.com/api/v4/websocket"},
	}
	applyDefaults(cfg)
	return cfg
}
