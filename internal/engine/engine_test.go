package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/markai/markai/internal/data"
	"github.com/markai/markai/internal/llm"
	"github.com/markai/markai/internal/plugins"
	"github.com/markai/markai/pkg/types"
)

// fakeProvider returns scripted responses and records the prompts it saw.
type fakeProvider struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeProvider) Chat(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if len(req.Messages) > 0 {
		f.prompts = append(f.prompts, req.Messages[len(req.Messages)-1].Content)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{
		Content:    f.response,
		Model:      "fake-model",
		TokensUsed: 12,
	}, nil
}

func (f *fakeProvider) Name() string    { return "fake" }
func (f *fakeProvider) Available() bool { return true }

func setupEngine(t *testing.T, provider llm.Provider) (*Engine, *data.Store) {
	t.Helper()

	store, err := data.NewDB(t.TempDir())
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		t.Fatalf("Migrate failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	eng := New(store, plugins.DefaultRegistry(), provider, Options{MaxContextChars: 2000})
	return eng, store
}

func TestProcessMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("full turn persists both messages", func(t *testing.T) {
		provider := &fakeProvider{response: "nice to meet you"}
		eng, store := setupEngine(t, provider)

		reply, err := eng.ProcessMessage(ctx, "alice", "", "hello, I'm new here")
		if err != nil {
			t.Fatalf("ProcessMessage failed: %v", err)
		}
		if reply.ConversationID == "" {
			t.Fatal("expected a new conversation created")
		}
		if reply.Content != "nice to meet you" {
			t.Errorf("wrong reply content %q", reply.Content)
		}
		if reply.TokensUsed != 12 {
			t.Errorf("expected provider token count, got %d", reply.TokensUsed)
		}

		history, err := store.History(ctx, reply.ConversationID, 0, 0)
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		if len(history) != 2 {
			t.Fatalf("expected user+assistant messages, got %d", len(history))
		}
		if history[0].Role != types.RoleUser || history[0].Content != "hello, I'm new here" {
			t.Errorf("wrong user message: %+v", history[0])
		}
		if history[1].Role != types.RoleAssistant || history[1].TokensUsed != 12 {
			t.Errorf("expected assistant message with metadata: %+v", history[1])
		}
	})

	t.Run("continues an existing conversation with context", func(t *testing.T) {
		provider := &fakeProvider{response: "ok"}
		eng, _ := setupEngine(t, provider)

		first, err := eng.ProcessMessage(ctx, "alice", "", "my dog is called Rex")
		if err != nil {
			t.Fatalf("first turn failed: %v", err)
		}
		second, err := eng.ProcessMessage(ctx, "alice", first.ConversationID, "what's my dog called?")
		if err != nil {
			t.Fatalf("second turn failed: %v", err)
		}
		if second.ConversationID != first.ConversationID {
			t.Error("expected the same conversation")
		}

		lastPrompt := provider.prompts[len(provider.prompts)-1]
		if !strings.Contains(lastPrompt, "my dog is called Rex") {
			t.Errorf("expected earlier exchange in prompt:\n%s", lastPrompt)
		}
		if !strings.Contains(lastPrompt, "Current Message: what's my dog called?") {
			t.Errorf("expected new message in prompt:\n%s", lastPrompt)
		}
	})

	t.Run("new message appears only once in the prompt", func(t *testing.T) {
		provider := &fakeProvider{response: "ok"}
		eng, _ := setupEngine(t, provider)

		first, err := eng.ProcessMessage(ctx, "alice", "", "favorite color is teal")
		if err != nil {
			t.Fatalf("first turn failed: %v", err)
		}
		if _, err := eng.ProcessMessage(ctx, "alice", first.ConversationID, "remind me of my color"); err != nil {
			t.Fatalf("second turn failed: %v", err)
		}

		lastPrompt := provider.prompts[len(provider.prompts)-1]
		if got := strings.Count(lastPrompt, "remind me of my color"); got != 1 {
			t.Errorf("new message should appear exactly once, got %d occurrences:\n%s", got, lastPrompt)
		}
		// History carries only prior turns, never the message being answered.
		if strings.Contains(lastPrompt, "user: remind me of my color") {
			t.Errorf("new message leaked into the history section:\n%s", lastPrompt)
		}
		if !strings.Contains(lastPrompt, "user: favorite color is teal") {
			t.Errorf("expected prior turn in history section:\n%s", lastPrompt)
		}
	})

	t.Run("provider failure leaves only the user message", func(t *testing.T) {
		provider := &fakeProvider{err: fmt.Errorf("%w: upstream down", types.ErrProvider)}
		eng, store := setupEngine(t, provider)

		conv, err := store.CreateConversation(ctx, "alice", "")
		if err != nil {
			t.Fatalf("CreateConversation failed: %v", err)
		}

		_, err = eng.ProcessMessage(ctx, "alice", conv.ID, "doomed question")
		if !errors.Is(err, types.ErrProvider) {
			t.Fatalf("expected ErrProvider, got %v", err)
		}

		history, err := store.History(ctx, conv.ID, 0, 0)
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		if len(history) != 1 || history[0].Role != types.RoleUser {
			t.Errorf("expected only the user message persisted, got %d messages", len(history))
		}
	})

	t.Run("plugin hit bypasses the provider", func(t *testing.T) {
		provider := &fakeProvider{response: "should not be used"}
		eng, store := setupEngine(t, provider)

		reply, err := eng.ProcessMessage(ctx, "alice", "", "calculate 6 * 7")
		if err != nil {
			t.Fatalf("ProcessMessage failed: %v", err)
		}
		if reply.Plugin != "calculator" {
			t.Errorf("expected calculator reply, got plugin %q", reply.Plugin)
		}
		if reply.Content != "The result is: 42" {
			t.Errorf("wrong plugin reply %q", reply.Content)
		}
		if len(provider.prompts) != 0 {
			t.Error("expected provider skipped on plugin hit")
		}

		history, err := store.History(ctx, reply.ConversationID, 0, 0)
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		if len(history) != 2 {
			t.Fatalf("expected plugin reply persisted, got %d messages", len(history))
		}
		if history[1].Metadata["plugin"] != "calculator" {
			t.Errorf("expected plugin metadata persisted, got %v", history[1].Metadata)
		}
	})

	t.Run("empty message is ErrValidation", func(t *testing.T) {
		eng, _ := setupEngine(t, &fakeProvider{})
		if _, err := eng.ProcessMessage(ctx, "alice", "", ""); !errors.Is(err, types.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("unknown conversation is ErrNotFound", func(t *testing.T) {
		eng, _ := setupEngine(t, &fakeProvider{})
		if _, err := eng.ProcessMessage(ctx, "alice", "missing", "hi"); !errors.Is(err, types.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestStructuredResponseParsing(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{
		response: `{"response": "the parsed answer", "reasoning_steps": ["step one", "step two"], "confidence": 0.95}`,
	}
	eng, _ := setupEngine(t, provider)

	reply, err := eng.ProcessMessage(ctx, "alice", "", "explain something")
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}

	if reply.Content != "the parsed answer" {
		t.Errorf("expected inner response extracted, got %q", reply.Content)
	}
	if len(reply.ReasoningSteps) != 2 {
		t.Errorf("expected reasoning steps, got %v", reply.ReasoningSteps)
	}
	if reply.Confidence != 0.95 {
		t.Errorf("expected confidence from payload, got %f", reply.Confidence)
	}

	t.Run("plain text falls back to default confidence", func(t *testing.T) {
		plain := &fakeProvider{response: "just words"}
		eng, _ := setupEngine(t, plain)

		reply, err := eng.ProcessMessage(ctx, "alice", "", "hello")
		if err != nil {
			t.Fatalf("ProcessMessage failed: %v", err)
		}
		if reply.Content != "just words" || reply.Confidence != 0.7 {
			t.Errorf("expected plain fallback, got %q (%f)", reply.Content, reply.Confidence)
		}
	})
}

func TestMemoryFlow(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{
		response: "The most important point is that the deadline moved to Friday.",
	}
	eng, store := setupEngine(t, provider)

	reply, err := eng.ProcessMessage(ctx, "alice", "", "remind me what matters about the schedule please")
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}

	// The exchange carried a signal sentence, so a key point landed in
	// working memory.
	if stats := eng.WorkingMemory().Stats(); stats.TotalItems == 0 {
		t.Fatal("expected key points captured in working memory")
	}

	// Reads push strength over the consolidation threshold.
	eng.WorkingMemory().GetAll(reply.ConversationID)
	eng.WorkingMemory().GetAll(reply.ConversationID)

	if err := eng.Consolidate(ctx, reply.ConversationID); err != nil {
		t.Fatalf("Consolidate failed: %v", err)
	}

	items, err := store.LongTermMemory(ctx, reply.ConversationID)
	if err != nil {
		t.Fatalf("LongTermMemory failed: %v", err)
	}
	if len(items) == 0 {
		t.Fatal("expected consolidated long-term memory")
	}

	// The next turn surfaces consolidated memory in the prompt.
	if _, err := eng.ProcessMessage(ctx, "alice", reply.ConversationID, "so when is it due?"); err != nil {
		t.Fatalf("second turn failed: %v", err)
	}
	lastPrompt := provider.prompts[len(provider.prompts)-1]
	if !strings.Contains(lastPrompt, "Relevant memory from earlier in this conversation:") {
		t.Errorf("expected memory section in prompt:\n%s", lastPrompt)
	}
}
