// Package engine orchestrates a single conversational turn: persistence,
// plugin dispatch, context assembly, prompt construction, and the LLM call.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/markai/markai/internal/data"
	"github.com/markai/markai/internal/llm"
	"github.com/markai/markai/internal/memory"
	"github.com/markai/markai/internal/plugins"
	"github.com/markai/markai/internal/prompt"
	"github.com/markai/markai/pkg/types"
)

// keyPointImportance is the importance assigned to key points extracted from
// an exchange when they enter working memory.
const keyPointImportance = 0.8

// Options configures an Engine.
type Options struct {
	// SystemPrompt overrides the default persona when non-empty.
	SystemPrompt string

	// MaxContextChars is the character budget for assembled history.
	MaxContextChars int

	// ConsolidationThreshold for working memory (0 uses the default).
	ConsolidationThreshold float64
}

// Engine wires the store, memory layers, plugins, and LLM provider together.
type Engine struct {
	store     *data.Store
	assembler *memory.Assembler
	working   *memory.WorkingMemory
	registry  *plugins.Registry
	provider  llm.Provider

	systemPrompt    string
	maxContextChars int
}

// Reply is the result of processing one user message.
type Reply struct {
	ConversationID string
	Content        string
	Model          string
	TokensUsed     int
	Confidence     float64
	ProcessingTime time.Duration
	ReasoningSteps []string

	// Plugin names the plugin that produced the reply; empty when the LLM did.
	Plugin string
}

// New creates an engine. The registry and provider may be shared; the engine
// owns its assembler and working memory.
func New(store *data.Store, registry *plugins.Registry, provider llm.Provider, opts Options) *Engine {
	maxChars := opts.MaxContextChars
	if maxChars <= 0 {
		maxChars = 4000
	}

	sys := opts.SystemPrompt
	if sys == "" {
		sys = prompt.DefaultSystemPrompt
	}

	return &Engine{
		store:           store,
		assembler:       memory.NewAssembler(store),
		working:         memory.NewWorkingMemory(store, memory.Config{ConsolidationThreshold: opts.ConsolidationThreshold}),
		registry:        registry,
		provider:        provider,
		systemPrompt:    sys,
		maxContextChars: maxChars,
	}
}

// Assembler exposes the engine's context assembler.
func (e *Engine) Assembler() *memory.Assembler { return e.assembler }

// WorkingMemory exposes the engine's working memory.
func (e *Engine) WorkingMemory() *memory.WorkingMemory { return e.working }

// ProcessMessage runs one conversational turn. A blank convID starts a new
// conversation for the user. The prompt is built from the history recorded
// before this turn, so the new message appears only in its own section; the
// message is then persisted before the provider call, so a provider failure
// leaves it in history with no assistant message, and the error wraps
// types.ErrProvider.
func (e *Engine) ProcessMessage(ctx context.Context, userID, convID, text string) (*Reply, error) {
	start := time.Now()

	if text == "" {
		return nil, fmt.Errorf("%w: message cannot be empty", types.ErrValidation)
	}

	conv, err := e.resolveConversation(ctx, userID, convID)
	if err != nil {
		return nil, err
	}

	// Plugins get first crack; a hit bypasses the LLM entirely.
	if resp, ok := e.registry.Dispatch(ctx, text); ok {
		if _, err := e.store.AppendMessage(ctx, conv.ID, types.RoleUser, text, nil); err != nil {
			return nil, fmt.Errorf("append user message: %w", err)
		}
		return e.finishPluginTurn(ctx, conv.ID, resp, start)
	}

	builtPrompt, err := e.buildPrompt(ctx, conv.ID, text)
	if err != nil {
		return nil, err
	}

	if _, err := e.store.AppendMessage(ctx, conv.ID, types.RoleUser, text, nil); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}

	chatResp, err := e.provider.Chat(ctx, &llm.ChatRequest{
		Messages: []llm.Message{{Role: "user", Content: builtPrompt}},
	})
	if err != nil {
		log.Error().Err(err).Str("conversation_id", conv.ID).Msg("LLM call failed")
		return nil, fmt.Errorf("generate response: %w", err)
	}

	reply := e.processResponse(chatResp, conv.ID, start)

	meta := map[string]any{
		"tokens_used":     reply.TokensUsed,
		"processing_time": reply.ProcessingTime.Seconds(),
		"confidence":      reply.Confidence,
		"model":           reply.Model,
	}
	if _, err := e.store.AppendMessage(ctx, conv.ID, types.RoleAssistant, reply.Content, meta); err != nil {
		return nil, fmt.Errorf("append assistant message: %w", err)
	}

	e.rememberExchange(conv.ID, text, reply.Content)

	log.Info().
		Str("user_id", userID).
		Str("conversation_id", conv.ID).
		Int("tokens", reply.TokensUsed).
		Dur("duration", reply.ProcessingTime).
		Msg("Processed message")

	return reply, nil
}

// Consolidate promotes strong working-memory facts for a conversation into
// the long-term store.
func (e *Engine) Consolidate(ctx context.Context, convID string) error {
	return e.working.Consolidate(ctx, convID)
}

func (e *Engine) resolveConversation(ctx context.Context, userID, convID string) (*types.Conversation, error) {
	if convID == "" {
		conv, err := e.store.CreateConversation(ctx, userID, "")
		if err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		return conv, nil
	}
	return e.store.GetConversation(ctx, convID)
}

func (e *Engine) finishPluginTurn(ctx context.Context, convID string, resp *plugins.Response, start time.Time) (*Reply, error) {
	meta := resp.Metadata
	if meta == nil {
		meta = make(map[string]any)
	}
	meta["processing_time"] = time.Since(start).Seconds()

	if _, err := e.store.AppendMessage(ctx, convID, types.RoleAssistant, resp.Content, meta); err != nil {
		return nil, fmt.Errorf("append plugin response: %w", err)
	}

	pluginName, _ := meta["plugin"].(string)
	return &Reply{
		ConversationID: convID,
		Content:        resp.Content,
		ProcessingTime: time.Since(start),
		Confidence:     1.0,
		Plugin:         pluginName,
	}, nil
}

func (e *Engine) buildPrompt(ctx context.Context, convID, text string) (string, error) {
	assembled, err := e.assembler.Assemble(ctx, convID, e.maxContextChars)
	if err != nil {
		return "", fmt.Errorf("assemble context: %w", err)
	}

	longTerm, err := e.store.LongTermMemory(ctx, convID)
	if err != nil {
		return "", fmt.Errorf("load long-term memory: %w", err)
	}
	snippets := make([]string, 0, len(longTerm))
	for _, item := range longTerm {
		snippets = append(snippets, fmt.Sprintf("%s: %v", item.Key, item.Value))
	}

	prefs := make(map[string]string)
	for key, value := range e.working.GetAll(convID) {
		prefs[key] = fmt.Sprint(value)
	}

	return prompt.Build(prompt.BuildInput{
		SystemPrompt:   e.systemPrompt,
		MemorySnippets: snippets,
		Context:        assembled,
		Preferences:    prefs,
		Message:        text,
	}), nil
}

// processResponse interprets the raw model output. Models sometimes answer
// with a structured JSON object carrying response/reasoning_steps/confidence;
// anything that fails to parse is treated as plain text at 0.7 confidence.
func (e *Engine) processResponse(resp *llm.ChatResponse, convID string, start time.Time) *Reply {
	content := resp.Content
	confidence := 0.7
	var steps []string

	var structured struct {
		Response       string   `json:"response"`
		ReasoningSteps []string `json:"reasoning_steps"`
		Confidence     *float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(resp.Content), &structured); err == nil && structured.Response != "" {
		content = structured.Response
		steps = structured.ReasoningSteps
		confidence = 0.8
		if structured.Confidence != nil {
			confidence = *structured.Confidence
		}
	}

	tokens := resp.TokensUsed
	if tokens == 0 {
		tokens = types.EstimateTokens(resp.Content)
	}

	return &Reply{
		ConversationID: convID,
		Content:        content,
		Model:          resp.Model,
		TokensUsed:     tokens,
		Confidence:     confidence,
		ProcessingTime: time.Since(start),
		ReasoningSteps: steps,
	}
}

// rememberExchange feeds key points from the exchange into working memory so
// repeated themes can consolidate into long-term storage.
func (e *Engine) rememberExchange(convID, userText, replyText string) {
	points := memory.ExtractKeyPoints(userText + ". " + replyText)
	for i, point := range points {
		key := fmt.Sprintf("key_point_%d", i)
		e.working.Update(convID, key, point, keyPointImportance)
	}
}
