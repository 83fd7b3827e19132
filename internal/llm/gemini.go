package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// GeminiProvider implements the Provider interface for Google Gemini.
type GeminiProvider struct {
	baseProvider
}

// NewGeminiProvider creates a new Gemini provider.
func NewGeminiProvider(cfg *ProviderConfig) *GeminiProvider {
	return &GeminiProvider{
		baseProvider: newBaseProvider(cfg, "gemini"),
	}
}

// Chat sends a chat request to Gemini.
func (p *GeminiProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if p.config.APIKey == "" {
		return nil, providerErrorf("Gemini API key not configured")
	}

	start := time.Now()

	model := req.Model
	if model == "" {
		model = p.config.Model
	}

	geminiReq := geminiGenerateRequest{}

	geminiReq.GenerationConfig.MaxOutputTokens = req.MaxTokens
	if geminiReq.GenerationConfig.MaxOutputTokens == 0 {
		geminiReq.GenerationConfig.MaxOutputTokens = p.config.MaxTokens
	}
	geminiReq.GenerationConfig.Temperature = req.Temperature
	if geminiReq.GenerationConfig.Temperature == 0 {
		geminiReq.GenerationConfig.Temperature = p.config.Temperature
	}

	if req.SystemPrompt != "" {
		geminiReq.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: req.SystemPrompt}},
		}
	}

	// Gemini uses "user" and "model" instead of "assistant".
	for _, msg := range req.Messages {
		role := msg.Role
		if role == "assistant" {
			role = "model"
		}
		geminiReq.Contents = append(geminiReq.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: msg.Content}},
		})
	}

	body, err := json.Marshal(geminiReq)
	if err != nil {
		return nil, providerErrorf("marshal request: %v", err)
	}

	url := p.config.Endpoint + "/models/" + model + ":generateContent"

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, providerErrorf("create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// Key goes in a header rather than the URL to keep it out of logs.
	httpReq.Header.Set("x-goog-api-key", p.config.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, providerErrorf("execute request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := readLimitedBody(resp.Body, MaxErrorBodySize)
		return nil, providerErrorf("Gemini error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	var geminiResp geminiGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		return nil, providerErrorf("decode response: %v", err)
	}

	if len(geminiResp.Candidates) == 0 {
		return nil, providerErrorf("no candidates in response")
	}

	var content string
	candidate := geminiResp.Candidates[0]
	for _, part := range candidate.Content.Parts {
		content += part.Text
	}

	return &ChatResponse{
		Content:          content,
		Model:            model,
		PromptTokens:     geminiResp.UsageMetadata.PromptTokenCount,
		CompletionTokens: geminiResp.UsageMetadata.CandidatesTokenCount,
		TokensUsed:       geminiResp.UsageMetadata.TotalTokenCount,
		Duration:         time.Since(start),
		FinishReason:     candidate.FinishReason,
	}, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// GEMINI WIRE TYPES
// ═══════════════════════════════════════════════════════════════════════════════

type geminiGenerateRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  struct {
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
		Temperature     float64 `json:"temperature,omitempty"`
	} `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}
