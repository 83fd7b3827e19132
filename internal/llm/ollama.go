package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// OllamaProvider implements the Provider interface for a local Ollama server.
type OllamaProvider struct {
	baseProvider
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(cfg *ProviderConfig) *OllamaProvider {
	return &OllamaProvider{
		baseProvider: newBaseProvider(cfg, "ollama"),
	}
}

// Available reports true when an endpoint is configured. Ollama runs locally
// and needs no API key.
func (p *OllamaProvider) Available() bool {
	return p.config.Endpoint != ""
}

// Chat sends a non-streaming chat request to Ollama's /api/chat endpoint.
func (p *OllamaProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = p.config.Model
	}

	messages := make([]ollamaMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, msg := range req.Messages {
		messages = append(messages, ollamaMessage{Role: msg.Role, Content: msg.Content})
	}

	ollamaReq := ollamaChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
	}
	ollamaReq.Options.Temperature = req.Temperature
	if ollamaReq.Options.Temperature == 0 {
		ollamaReq.Options.Temperature = p.config.Temperature
	}
	ollamaReq.Options.NumPredict = req.MaxTokens
	if ollamaReq.Options.NumPredict == 0 {
		ollamaReq.Options.NumPredict = p.config.MaxTokens
	}

	body, err := json.Marshal(ollamaReq)
	if err != nil {
		return nil, providerErrorf("marshal request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.config.Endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, providerErrorf("create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, providerErrorf("execute request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := readLimitedBody(resp.Body, MaxErrorBodySize)
		return nil, providerErrorf("Ollama error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	var ollamaResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, providerErrorf("decode response: %v", err)
	}

	return &ChatResponse{
		Content:          ollamaResp.Message.Content,
		Model:            model,
		PromptTokens:     ollamaResp.PromptEvalCount,
		CompletionTokens: ollamaResp.EvalCount,
		TokensUsed:       ollamaResp.PromptEvalCount + ollamaResp.EvalCount,
		Duration:         time.Since(start),
		FinishReason:     ollamaResp.DoneReason,
	}, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// OLLAMA WIRE TYPES
// ═══════════════════════════════════════════════════════════════════════════════

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  struct {
		Temperature float64 `json:"temperature,omitempty"`
		NumPredict  int     `json:"num_predict,omitempty"`
	} `json:"options"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message         ollamaMessage `json:"message"`
	DoneReason      string        `json:"done_reason"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}
