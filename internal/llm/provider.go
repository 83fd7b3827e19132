// Package llm provides Language Model provider implementations for MarkAI.
// Supports Gemini and Ollama (local). The core treats every provider failure
// as recoverable at the caller: errors wrap types.ErrProvider and never leave
// persisted state corrupted.
package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/markai/markai/pkg/types"
)

// MaxErrorBodySize limits how much error response body we read (1MB).
// This prevents memory exhaustion from malformed error responses.
const MaxErrorBodySize = 1 * 1024 * 1024

// readLimitedBody reads up to maxBytes from r, returning the bytes read.
func readLimitedBody(r io.Reader, maxBytes int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, maxBytes))
}

// providerErrorf builds an error that wraps types.ErrProvider so callers can
// classify it with errors.Is.
func providerErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", types.ErrProvider, fmt.Sprintf(format, args...))
}

// Provider defines the interface for LLM providers.
type Provider interface {
	// Chat sends a message and returns the response.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Name returns the provider identifier.
	Name() string

	// Available returns true if the provider is configured.
	Available() bool
}

// ChatRequest represents a chat completion request.
type ChatRequest struct {
	// Model to use (provider-specific).
	Model string `json:"model"`

	// SystemPrompt sets the AI's behavior.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Messages in the conversation.
	Messages []Message `json:"messages"`

	// MaxTokens limits response length.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0-1.0).
	Temperature float64 `json:"temperature,omitempty"`
}

// Message represents a conversation message.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// ChatResponse contains the LLM's response.
type ChatResponse struct {
	Content          string        `json:"content"`
	Model            string        `json:"model"`
	TokensUsed       int           `json:"tokens_used,omitempty"`
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
	Duration         time.Duration `json:"duration"`
	FinishReason     string        `json:"finish_reason,omitempty"`
}

// ProviderConfig contains configuration for an LLM provider.
type ProviderConfig struct {
	// Name identifies the provider (gemini, ollama).
	Name string

	// Endpoint is the API base URL.
	Endpoint string

	// APIKey for authentication.
	APIKey string

	// Model is the default model to use.
	Model string

	// MaxTokens default for responses.
	MaxTokens int

	// Temperature default.
	Temperature float64

	// Timeout for API calls.
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults for a provider.
func DefaultConfig(name string) *ProviderConfig {
	switch name {
	case "ollama":
		return &ProviderConfig{
			Name:        "ollama",
			Endpoint:    "http://127.0.0.1:11434",
			Model:       "llama3.2",
			MaxTokens:   4096,
			Temperature: 0.7,
			Timeout:     2 * time.Minute,
		}
	case "gemini":
		return &ProviderConfig{
			Name:        "gemini",
			Endpoint:    "https://generativelanguage.googleapis.com/v1beta",
			Model:       "gemini-1.5-flash",
			MaxTokens:   4096,
			Temperature: 0.7,
			Timeout:     2 * time.Minute,
		}
	default:
		return &ProviderConfig{
			Name:        name,
			MaxTokens:   4096,
			Temperature: 0.7,
			Timeout:     2 * time.Minute,
		}
	}
}

// baseProvider provides common functionality for HTTP-based LLM providers.
type baseProvider struct {
	config *ProviderConfig
	client *http.Client
}

// newBaseProvider creates a new base provider with defaults applied.
func newBaseProvider(cfg *ProviderConfig, providerName string) baseProvider {
	if cfg == nil {
		cfg = DefaultConfig(providerName)
	}

	defaults := DefaultConfig(providerName)
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaults.Endpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	cfg.Name = providerName

	return baseProvider{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the provider identifier.
func (b *baseProvider) Name() string {
	return b.config.Name
}

// Available checks if the API key is configured.
func (b *baseProvider) Available() bool {
	return b.config.APIKey != ""
}
