// Package config loads medrag settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/poiesic/medrag/ai"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "medrag.yaml"

// StoreConfig locates the vector store.
type StoreConfig struct {
	Path      string `yaml:"path"`
	InMemory  bool   `yaml:"in_memory"`
	Dimension int    `yaml:"dimension"` // 0 fixes the dimension from the first vector
}

// ModelConfig configures the OpenAI-compatible embedding and generation services.
type ModelConfig struct {
	EmbeddingHost     string  `yaml:"embedding_host"`
	GeneratorHost     string  `yaml:"generator_host"`
	EmbeddingModel    string  `yaml:"embedding_model"`
	GeneratorModel    string  `yaml:"generator_model"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// IndexConfig tunes the indexer.
type IndexConfig struct {
	Workers          int               `yaml:"workers"` // 0 means NumCPU/2
	EmbedTimeoutSecs int               `yaml:"embed_timeout_secs"`
	MaxAttempts      int               `yaml:"max_attempts"`
	RetryDelayMillis int               `yaml:"retry_delay_millis"`
	Synonyms         map[string]string `yaml:"synonyms,omitempty"` // replaces the built-in drug synonym table
}

// RetrievalConfig tunes the retrieval engine.
type RetrievalConfig struct {
	TopK           int     `yaml:"top_k"`
	MinRelevance   float64 `yaml:"min_relevance"`
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
}

// AnswerConfig tunes answer composition.
type AnswerConfig struct {
	PerDocChars         int     `yaml:"per_doc_chars"`
	TotalChars          int     `yaml:"total_chars"`
	GroundingRatio      float64 `yaml:"grounding_ratio"`
	GenerateTimeoutSecs int     `yaml:"generate_timeout_secs"`
}

// WatchConfig configures the structured-note folder watcher.
type WatchConfig struct {
	Folder         string `yaml:"folder"`
	DebounceMillis int    `yaml:"debounce_millis"`
}

// ServerConfig configures the HTTP query surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the root configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Model     ModelConfig     `yaml:"model"`
	Index     IndexConfig     `yaml:"index"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Answer    AnswerConfig    `yaml:"answer"`
	Watch     WatchConfig     `yaml:"watch"`
	Server    ServerConfig    `yaml:"server"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads a config from path. If the file does not exist, returns defaults.
// Fields missing from the file take their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects out-of-range values.
func (c *Config) Validate() error {
	if c.Store.Path == "" && !c.Store.InMemory {
		return errors.New("store.path is required unless store.in_memory is set")
	}
	if c.Store.Dimension < 0 {
		return errors.New("store.dimension cannot be negative")
	}
	if c.Retrieval.TopK > 20 {
		return fmt.Errorf("retrieval.top_k cannot exceed 20, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.FuzzyThreshold <= 0 || c.Retrieval.FuzzyThreshold > 1 {
		return fmt.Errorf("retrieval.fuzzy_threshold must be in (0, 1], got %v", c.Retrieval.FuzzyThreshold)
	}
	if c.Answer.GroundingRatio < 0 || c.Answer.GroundingRatio > 1 {
		return fmt.Errorf("answer.grounding_ratio must be in [0, 1], got %v", c.Answer.GroundingRatio)
	}
	if c.Model.RequestsPerSecond < 0 {
		return errors.New("model.requests_per_second cannot be negative")
	}
	return nil
}

// APIKey returns the model API key from the environment variable named by
// model.api_key_env.
func (c *Config) APIKey() string {
	if c.Model.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Model.APIKeyEnv)
}

// AIConfig builds the model client configuration.
func (c *Config) AIConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.Model.EmbeddingHost),
		ai.WithGeneratorHost(c.Model.GeneratorHost),
		ai.WithEmbeddingModel(c.Model.EmbeddingModel),
		ai.WithGeneratorModel(c.Model.GeneratorModel),
		ai.WithAPIKey(c.APIKey()),
		ai.WithTimeout(seconds(c.Model.TimeoutSecs)),
		ai.WithRequestsPerSecond(c.Model.RequestsPerSecond),
	)
}

// EmbedTimeout is index.embed_timeout_secs as a duration.
func (c *Config) EmbedTimeout() time.Duration {
	return seconds(c.Index.EmbedTimeoutSecs)
}

// RetryDelay is index.retry_delay_millis as a duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Index.RetryDelayMillis) * time.Millisecond
}

// GenerateTimeout is answer.generate_timeout_secs as a duration.
func (c *Config) GenerateTimeout() time.Duration {
	return seconds(c.Answer.GenerateTimeoutSecs)
}

// Debounce is watch.debounce_millis as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Watch.DebounceMillis) * time.Millisecond
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func applyDefaults(cfg *Config) {
	aiDefaults := ai.DefaultConfig()

	if cfg.Store.Path == "" && !cfg.Store.InMemory {
		cfg.Store.Path = "medrag-data"
	}

	if cfg.Model.EmbeddingHost == "" {
		cfg.Model.EmbeddingHost = aiDefaults.EmbeddingHost
	}
	if cfg.Model.GeneratorHost == "" {
		cfg.Model.GeneratorHost = aiDefaults.GeneratorHost
	}
	if cfg.Model.EmbeddingModel == "" {
		cfg.Model.EmbeddingModel = aiDefaults.EmbeddingModel
	}
	if cfg.Model.GeneratorModel == "" {
		cfg.Model.GeneratorModel = aiDefaults.GeneratorModel
	}
	if cfg.Model.APIKeyEnv == "" {
		cfg.Model.APIKeyEnv = "MEDRAG_API_KEY"
	}
	if cfg.Model.TimeoutSecs <= 0 {
		cfg.Model.TimeoutSecs = int(aiDefaults.Timeout / time.Second)
	}

	if cfg.Index.EmbedTimeoutSecs <= 0 {
		cfg.Index.EmbedTimeoutSecs = 30
	}
	if cfg.Index.MaxAttempts <= 0 {
		cfg.Index.MaxAttempts = 3
	}
	if cfg.Index.RetryDelayMillis <= 0 {
		cfg.Index.RetryDelayMillis = 500
	}

	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.MinRelevance == 0 {
		cfg.Retrieval.MinRelevance = 0.2
	}
	if cfg.Retrieval.FuzzyThreshold == 0 {
		cfg.Retrieval.FuzzyThreshold = 0.8
	}

	if cfg.Answer.PerDocChars <= 0 {
		cfg.Answer.PerDocChars = 1200
	}
	if cfg.Answer.TotalChars <= 0 {
		cfg.Answer.TotalChars = 3500
	}
	if cfg.Answer.GroundingRatio == 0 {
		cfg.Answer.GroundingRatio = 1.0
	}
	if cfg.Answer.GenerateTimeoutSecs <= 0 {
		cfg.Answer.GenerateTimeoutSecs = 60
	}

	if cfg.Watch.Folder == "" {
		cfg.Watch.Folder = "structured_json"
	}
	if cfg.Watch.DebounceMillis <= 0 {
		cfg.Watch.DebounceMillis = 500
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8080"
	}
}
