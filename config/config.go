// Package config loads process- and run-level kernel configuration from
// YAML into plain struct-tagged documents rather than a generic map. No
// values are read from the environment.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the process-level configuration for a kernel deployment.
type Config struct {
	// Model configures the default LLM gateway selection.
	Model ModelConfig `yaml:"model"`
	// Redis configures the external context provider's retrieval cache.
	Redis RedisConfig `yaml:"redis"`
	// Mongo configures the checkpoint store's Mongo backend.
	Mongo MongoConfig `yaml:"mongo"`
	// Temporal configures the durable scheduler engine binding.
	Temporal TemporalConfig `yaml:"temporal"`
	// Run carries the default per-run settings applied when a caller does
	// not override them explicitly.
	Run RunDefaults `yaml:"run"`
}

// ModelConfig selects the default model gateway and per-class model IDs.
type ModelConfig struct {
	Provider string            `yaml:"provider"` // "anthropic" | "openai" | "bedrock"
	Models   map[string]string `yaml:"models"`    // ModelClass -> concrete model ID
	APIKeyEnv string           `yaml:"api_key_env"`
}

// RedisConfig configures the retrieval cache backend.
type RedisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
}

// MongoConfig configures the checkpoint store's Mongo backend.
type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// TemporalConfig configures the durable scheduler engine binding.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port"`
	Namespace string `yaml:"namespace"`
	TaskQueue string `yaml:"task_queue"`
}

// RunDefaults carries default per-run settings (§6 "Configuration (per run)").
type RunDefaults struct {
	MaxContextTokens   int  `yaml:"max_context_tokens"`
	MaxQueryRounds     int  `yaml:"max_query_rounds"`
	MaxRetrievalRounds int  `yaml:"max_retrieval_rounds"`
	CheckpointInterval int  `yaml:"checkpoint_interval"`
	HooksPreflight     bool `yaml:"hooks_preflight"`
	HooksPostcheck     bool `yaml:"hooks_postcheck"`
}

// Default returns the built-in configuration, used when no file is supplied.
// maxQueryRounds defaults to 3 per the Open Question decision recorded in
// SPEC_FULL.md §9 and DESIGN.md.
func Default() *Config {
	return &Config{
		Run: RunDefaults{
			MaxContextTokens:   8000,
			MaxQueryRounds:     3,
			MaxRetrievalRounds: 1,
			CheckpointInterval: 1,
			HooksPreflight:     false,
			HooksPostcheck:     false,
		},
	}
}

// Load reads and parses a YAML configuration file over Default(). It reads
// no environment variables: applyEnvOverrides leaves cfg unchanged.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if cfg.Model.APIKeyEnv == "" {
		return
	}
	// Nothing in this module reads os.Getenv(cfg.Model.APIKeyEnv); config
	// only records which environment variable holds the key, never the
	// secret itself.
}
