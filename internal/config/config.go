// Package config loads and validates converse configuration from YAML.
// The core packages consume these values as plain fields; nothing below
// internal/config reads the environment or the filesystem for settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"converse/internal/types"
)

// Config holds all converse configuration.
type Config struct {
	// Agent identity and behavior.
	Agent AgentConfig `yaml:"agent"`

	// LLM collaborator.
	LLM LLMConfig `yaml:"llm"`

	// Embedding engine for semantic retrieval.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Knowledge loading and retrieval.
	Knowledge KnowledgeConfig `yaml:"knowledge"`

	// Persistence.
	Storage StorageConfig `yaml:"storage"`

	// Logging.
	Logging LoggingConfig `yaml:"logging"`
}

// AgentConfig configures the conversation pipeline.
type AgentConfig struct {
	Name                string                      `yaml:"name"`
	Personality         string                      `yaml:"personality"`
	Categories          []string                    `yaml:"categories"`
	Requirements        []types.CategoryRequirement `yaml:"requirements"`
	Tools               []string                    `yaml:"tools"`
	ConfidenceThreshold float64                     `yaml:"confidence_threshold"`
	LengthCeiling       int                         `yaml:"length_ceiling"`
}

// LLMConfig configures the LLM collaborator.
type LLMConfig struct {
	Provider string `yaml:"provider"` // gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // ollama or genai; empty disables semantic retrieval
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	GenAIAPIKey    string `yaml:"genai_api_key"`
	GenAIModel     string `yaml:"genai_model"`
}

// KnowledgeConfig configures loading, chunking, and retrieval limits.
type KnowledgeConfig struct {
	Sources      []string `yaml:"sources"`
	ChunkSize    int      `yaml:"chunk_size"`
	ChunkOverlap int      `yaml:"chunk_overlap"`
	MaxResults   int      `yaml:"max_results"`
	MaxFileBytes int      `yaml:"max_file_bytes"`
	MaxDirFiles  int      `yaml:"max_dir_files"`
	URLTimeout   string   `yaml:"url_timeout"`
	Watch        bool     `yaml:"watch"`
}

// StorageConfig configures persistence.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"` // empty means in-memory only
}

// LoggingConfig configures the logging package.
type LoggingConfig struct {
	Debug bool `yaml:"debug"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Name:                "agent",
			Personality:         "You are a helpful assistant.",
			ConfidenceThreshold: 0.7,
			LengthCeiling:       100,
		},
		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.0-flash",
			BaseURL:  "https://generativelanguage.googleapis.com/v1beta",
			Timeout:  "60s",
		},
		Embedding: EmbeddingConfig{
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
		},
		Knowledge: KnowledgeConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
			MaxResults:   3,
			MaxFileBytes: 100_000,
			MaxDirFiles:  100,
			URLTimeout:   "10s",
		},
	}
}

// Load reads YAML from path, overlaying defaults. A missing file is not
// an error: defaults plus environment overrides are returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides fills credentials from the environment when the
// file left them empty. Keys never need to live in the config file.
func applyEnvOverrides(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Embedding.GenAIAPIKey == "" {
		cfg.Embedding.GenAIAPIKey = os.Getenv("GEMINI_API_KEY")
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Knowledge.ChunkSize <= 0 {
		return fmt.Errorf("knowledge.chunk_size must be positive, got %d", c.Knowledge.ChunkSize)
	}
	if c.Knowledge.ChunkOverlap < 0 || c.Knowledge.ChunkOverlap >= c.Knowledge.ChunkSize {
		return fmt.Errorf("knowledge.chunk_overlap must be in [0, chunk_size), got %d", c.Knowledge.ChunkOverlap)
	}
	if c.Agent.ConfidenceThreshold < 0 || c.Agent.ConfidenceThreshold > 1 {
		return fmt.Errorf("agent.confidence_threshold must be in [0,1], got %g", c.Agent.ConfidenceThreshold)
	}
	if _, err := c.LLMTimeout(); err != nil {
		return err
	}
	if _, err := c.URLTimeout(); err != nil {
		return err
	}
	return nil
}

// LLMTimeout parses the LLM timeout duration string.
func (c *Config) LLMTimeout() (time.Duration, error) {
	if c.LLM.Timeout == "" {
		return 60 * time.Second, nil
	}
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 0, fmt.Errorf("llm.timeout: %w", err)
	}
	return d, nil
}

// URLTimeout parses the URL loader timeout duration string.
func (c *Config) URLTimeout() (time.Duration, error) {
	if c.Knowledge.URLTimeout == "" {
		return 10 * time.Second, nil
	}
	d, err := time.ParseDuration(c.Knowledge.URLTimeout)
	if err != nil {
		return 0, fmt.Errorf("knowledge.url_timeout: %w", err)
	}
	return d, nil
}
