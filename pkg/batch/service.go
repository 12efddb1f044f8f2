// Package batch provides non-streaming LLM completion services.
// Used for episodic extraction, prospective extraction, query parsing, and
// cluster summarization.
//
// Supports two providers:
//   - Google GenAI (generativelanguage.googleapis.com)
//   - OpenRouter (openrouter.ai)
//
// A single pooled http.Client is shared by every call; the pool is sized
// once at construction and never grows per request.
package batch

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Provider type for LLM providers.
type Provider string

const (
	ProviderGoogle     Provider = "google"
	ProviderOpenRouter Provider = "openrouter"
)

// Config holds batch LLM settings.
type Config struct {
	Provider         Provider `json:"provider"`
	GoogleAPIKey     string   `json:"googleApiKey"`
	GoogleModel      string   `json:"googleModel"`
	OpenRouterAPIKey string   `json:"openRouterApiKey"`
	OpenRouterModel  string   `json:"openRouterModel"`

	// Timeout bounds each completion call; callers may further narrow it
	// through the context deadline.
	Timeout time.Duration `json:"timeout"`
}

// Completion is one non-streaming completion result, with token usage when
// the provider reports it.
type Completion struct {
	Text         string
	Model        string
	TokensInput  *int64
	TokensOutput *int64
}

// Service handles non-streaming LLM completions.
type Service struct {
	config Config
	client *http.Client
}

// NewService creates a batch service with a bounded connection pool:
// at most 20 sockets to a provider host, 10 of them kept alive.
func NewService(config Config) *Service {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	transport := &http.Transport{
		MaxConnsPerHost:     20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     30 * time.Second,
	}
	return &Service{
		config: config,
		client: &http.Client{Transport: transport},
	}
}

// UpdateConfig updates the service configuration.
func (s *Service) UpdateConfig(config Config) {
	if config.Timeout == 0 {
		config.Timeout = s.config.Timeout
	}
	s.config = config
}

// GetConfig returns the current configuration.
func (s *Service) GetConfig() Config {
	return s.config
}

// IsConfigured checks if the current provider has valid credentials.
func (s *Service) IsConfigured() bool {
	switch s.config.Provider {
	case ProviderGoogle:
		return s.config.GoogleAPIKey != ""
	case ProviderOpenRouter:
		return s.config.OpenRouterAPIKey != ""
	default:
		return false
	}
}

// GetCurrentModel returns the model for the current provider.
func (s *Service) GetCurrentModel() string {
	switch s.config.Provider {
	case ProviderGoogle:
		return s.config.GoogleModel
	case ProviderOpenRouter:
		return s.config.OpenRouterModel
	default:
		return ""
	}
}

// Complete makes a non-streaming LLM completion request. Each call carries
// a deadline: the caller's context bound by the configured timeout.
func (s *Service) Complete(ctx context.Context, userPrompt, systemPrompt string) (*Completion, error) {
	if !s.IsConfigured() {
		return nil, errors.New("batch: provider not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	switch s.config.Provider {
	case ProviderGoogle:
		return s.callGoogle(ctx, userPrompt, systemPrompt)
	case ProviderOpenRouter:
		return s.callOpenRouter(ctx, userPrompt, systemPrompt)
	default:
		return nil, errors.New("batch: unknown provider")
	}
}
