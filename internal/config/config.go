// Package config loads the module configuration from a YAML file with
// environment-variable overrides. Precedence: env > file > defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Notes     NotesConfig     `yaml:"notes"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Linker    LinkerConfig    `yaml:"linker"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Cluster   ClusterConfig   `yaml:"cluster"`
}

// StoreConfig locates the database file.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// NotesConfig locates the on-disk note files.
type NotesConfig struct {
	Dir string `yaml:"dir"`
}

// LLMConfig selects the completion provider.
type LLMConfig struct {
	Provider         string        `yaml:"provider"` // "openrouter" or "google"
	OpenRouterAPIKey string        `yaml:"openrouter_api_key"`
	OpenRouterModel  string        `yaml:"openrouter_model"`
	GoogleAPIKey     string        `yaml:"google_api_key"`
	GoogleModel      string        `yaml:"google_model"`
	Timeout          time.Duration `yaml:"timeout"`
}

// EmbeddingConfig points at the sentence-embedding endpoint.
type EmbeddingConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LinkerConfig carries the edge-creation thresholds.
type LinkerConfig struct {
	SemanticThreshold float64 `yaml:"semantic_threshold"`
	SemanticTopK      int     `yaml:"semantic_top_k"`
	TagJaccard        float64 `yaml:"tag_jaccard"`
	TimeEdgeWeight    float64 `yaml:"time_edge_weight"`
}

// RetrievalConfig carries the hybrid-search fusion parameters.
type RetrievalConfig struct {
	CandidateK int     `yaml:"candidate_k"`
	Limit      int     `yaml:"limit"`
	Alpha      float64 `yaml:"alpha"`
	Beta       float64 `yaml:"beta"`
	Gamma      float64 `yaml:"gamma"`
	Decay      float64 `yaml:"decay"`
}

// ClusterConfig carries the community-detection resolution.
type ClusterConfig struct {
	Resolution float64 `yaml:"resolution"`
}

// Default returns the configuration with every threshold at its documented
// default.
func Default() Config {
	return Config{
		Store: StoreConfig{Path: "notegraph.db"},
		Notes: NotesConfig{Dir: "notes"},
		LLM: LLMConfig{
			Provider:        "openrouter",
			OpenRouterModel: "openai/gpt-4o-mini",
			GoogleModel:     "gemini-2.0-flash",
			Timeout:         30 * time.Second,
		},
		Embedding: EmbeddingConfig{
			URL:     "http://localhost:8081/embed",
			Timeout: 15 * time.Second,
		},
		Linker: LinkerConfig{
			SemanticThreshold: 0.5,
			SemanticTopK:      20,
			TagJaccard:        0.3,
			TimeEdgeWeight:    1.0,
		},
		Retrieval: RetrievalConfig{
			CandidateK: 20,
			Limit:      10,
			Alpha:      0.4,
			Beta:       0.4,
			Gamma:      0.2,
			Decay:      0.5,
		},
		Cluster: ClusterConfig{Resolution: 1.0},
	}
}

// Load reads the YAML file at path (skipped when path is empty or the file
// does not exist), then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}

	setString("NOTEGRAPH_DB_PATH", &cfg.Store.Path)
	setString("NOTEGRAPH_NOTES_DIR", &cfg.Notes.Dir)
	setString("NOTEGRAPH_LLM_PROVIDER", &cfg.LLM.Provider)
	setString("NOTEGRAPH_OPENROUTER_API_KEY", &cfg.LLM.OpenRouterAPIKey)
	setString("NOTEGRAPH_OPENROUTER_MODEL", &cfg.LLM.OpenRouterModel)
	setString("NOTEGRAPH_GOOGLE_API_KEY", &cfg.LLM.GoogleAPIKey)
	setString("NOTEGRAPH_GOOGLE_MODEL", &cfg.LLM.GoogleModel)
	setString("NOTEGRAPH_EMBEDDING_URL", &cfg.Embedding.URL)
	setFloat("NOTEGRAPH_CLUSTER_RESOLUTION", &cfg.Cluster.Resolution)
}

// Validate rejects configurations that cannot produce a working pipeline.
func (c Config) Validate() error {
	switch c.LLM.Provider {
	case "openrouter", "google":
	default:
		return fmt.Errorf("config: unknown llm provider %q", c.LLM.Provider)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("config: store path must not be empty")
	}
	if c.Retrieval.Decay < 0 || c.Retrieval.Decay > 1 {
		return fmt.Errorf("config: retrieval decay %v outside [0,1]", c.Retrieval.Decay)
	}
	if c.Linker.SemanticThreshold < 0 || c.Linker.SemanticThreshold > 1 {
		return fmt.Errorf("config: semantic threshold %v outside [0,1]", c.Linker.SemanticThreshold)
	}
	return nil
}
