package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server      ServerConfig      `toml:"server"`
	Storage     StorageConfig     `toml:"storage"`
	LLM         LLMConfig         `toml:"llm"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
	Ingest      IngestConfig      `toml:"ingest"`
	Retrieval   RetrievalConfig   `toml:"retrieval"`
	Synthesizer SynthesizerConfig `toml:"synthesizer"`
	Observer    ObserverConfig    `toml:"observer"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type StorageConfig struct {
	DataDir string `toml:"data_dir"`
}

type LLMConfig struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	APIKey   string `toml:"api_key"`
	RPM      int    `toml:"rpm"`
	TPM      int    `toml:"tpm"`
}

type EmbeddingConfig struct {
	Provider    string `toml:"provider"`
	Model       string `toml:"model"`
	Dimensions  int    `toml:"dimensions"`
	APIKey      string `toml:"api_key"`
	BatchSize   int    `toml:"batch_size"`
	Concurrency int    `toml:"concurrency"`
}

type IngestConfig struct {
	ChunkSizes []int `toml:"chunk_sizes"`
}

type RetrievalConfig struct {
	TopK           int     `toml:"top_k"`
	MergeThreshold float64 `toml:"merge_threshold"`
}

type SynthesizerConfig struct {
	ContextBudget int `toml:"context_budget"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Server:      ServerConfig{Addr: ":8080"},
		Storage:     StorageConfig{DataDir: "data"},
		LLM:         LLMConfig{Provider: "gemini", Model: "gemini-2.0-flash"},
		Embedding:   EmbeddingConfig{Provider: "gemini", Model: "text-embedding-004", Dimensions: 768, BatchSize: 32, Concurrency: 4},
		Ingest:      IngestConfig{ChunkSizes: []int{1024, 512, 256}},
		Retrieval:   RetrievalConfig{TopK: 6, MergeThreshold: 0.5},
		Synthesizer: SynthesizerConfig{ContextBudget: 12000},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "treeline.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("TREELINE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("TREELINE_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("TREELINE_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("TREELINE_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if os.Getenv("TREELINE_OBSERVER_ENABLED") == "true" || os.Getenv("TREELINE_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	// Fallbacks
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.LLM.APIKey
	}

	return cfg
}
