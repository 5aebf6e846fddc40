package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 对应 config.yaml，描述模型凭据、引擎阈值和服务参数。
type Config struct {
	Providers      []Provider    `yaml:"providers"`
	Secondary      *Secondary    `yaml:"secondary,omitempty"`
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`
	Engine         EngineConfig  `yaml:"engine"`
	Stream         StreamConfig  `yaml:"stream"`
	ServerAddr     string        `yaml:"server_addr,omitempty"`
	DBPath         string        `yaml:"db_path,omitempty"`
}

// Provider is one credential tried in priority order, with its own model preference.
type Provider struct {
	ID        string   `yaml:"id"`
	APIKey    string   `yaml:"api_key,omitempty"`
	APIKeyEnv string   `yaml:"api_key_env,omitempty"`
	BaseURL   string   `yaml:"base_url,omitempty"`
	Models    []string `yaml:"models"`
}

// Secondary 是矩阵全部失败后调用一次的固定备用模型。
type Secondary struct {
	ID        string `yaml:"id"`
	APIKey    string `yaml:"api_key,omitempty"`
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
	BaseURL   string `yaml:"base_url,omitempty"`
	Model     string `yaml:"model"`
}

type EngineConfig struct {
	MaxIterations    int `yaml:"max_iterations,omitempty"`
	SubstantialChars int `yaml:"substantial_chars,omitempty"`
	WordsPerPage     int `yaml:"words_per_page,omitempty"`
	DefaultTaskWords int `yaml:"default_task_words,omitempty"`
	MaxOutputTokens  int `yaml:"max_output_tokens,omitempty"`
}

type StreamConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval,omitempty"`
	ChunkSize         int           `yaml:"chunk_size,omitempty"`
	ChunkDelay        time.Duration `yaml:"chunk_delay,omitempty"`
}

const (
	DefaultPath       = "config/config.yaml"
	DefaultServerAddr = ":8080"
	DefaultDBPath     = ".docwriter/docwriter.db"
)

// Load reads, defaults and validates the config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; copy config/config.example.yaml and fill in providers", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML decodes raw YAML, applies defaults and validates.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with every default applied and no providers, for offline runs.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 90 * time.Second
	}
	if c.Engine.MaxIterations <= 0 {
		c.Engine.MaxIterations = 100
	}
	if c.Engine.SubstantialChars <= 0 {
		c.Engine.SubstantialChars = 500
	}
	if c.Engine.WordsPerPage <= 0 {
		c.Engine.WordsPerPage = 250
	}
	if c.Engine.DefaultTaskWords <= 0 {
		c.Engine.DefaultTaskWords = 250
	}
	if c.Engine.MaxOutputTokens <= 0 {
		c.Engine.MaxOutputTokens = 8000
	}
	if c.Stream.HeartbeatInterval <= 0 {
		c.Stream.HeartbeatInterval = 5 * time.Second
	}
	if c.Stream.ChunkSize <= 0 {
		c.Stream.ChunkSize = 40
	}
	if c.Stream.ChunkDelay < 0 {
		c.Stream.ChunkDelay = 0
	}
	if c.ServerAddr == "" {
		c.ServerAddr = DefaultServerAddr
	}
	if c.DBPath == "" {
		c.DBPath = DefaultDBPath
	}
}

// Validate ensures the provider matrix is usable.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 && c.Secondary == nil {
		return errors.New("config.providers is required (or config.secondary)")
	}
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("config.providers[%d].id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("config.providers has duplicate id %s", p.ID)
		}
		seen[p.ID] = true
		if len(p.Models) == 0 {
			return fmt.Errorf("provider %s has no models", p.ID)
		}
		for _, m := range p.Models {
			if strings.TrimSpace(m) == "" {
				return fmt.Errorf("provider %s has empty model id", p.ID)
			}
		}
	}
	if c.Secondary != nil {
		if c.Secondary.ID == "" {
			return errors.New("config.secondary.id is required")
		}
		if c.Secondary.Model == "" {
			return fmt.Errorf("secondary provider %s requires model", c.Secondary.ID)
		}
	}
	return nil
}

// Key resolves the API key, preferring the inline value over the env var.
func (p Provider) Key() string {
	return resolveKey(p.APIKey, p.APIKeyEnv)
}

func (s Secondary) Key() string {
	return resolveKey(s.APIKey, s.APIKeyEnv)
}

func resolveKey(inline, env string) string {
	if inline != "" {
		return inline
	}
	if env == "" {
		return ""
	}
	return os.Getenv(env)
}
