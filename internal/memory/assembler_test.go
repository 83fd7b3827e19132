package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/markai/markai/pkg/types"
)

// fakeHistory serves a fixed message list.
type fakeHistory struct {
	messages []*types.Message
	err      error
}

func (f *fakeHistory) History(_ context.Context, _ string, limit, _ int) ([]*types.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit > 0 && limit < len(f.messages) {
		return f.messages[len(f.messages)-limit:], nil
	}
	return f.messages, nil
}

func msg(role types.Role, content string) *types.Message {
	return &types.Message{Role: role, Content: content}
}

func TestAssemble(t *testing.T) {
	ctx := context.Background()

	t.Run("chronological order within budget", func(t *testing.T) {
		a := NewAssembler(&fakeHistory{messages: []*types.Message{
			msg(types.RoleUser, "first"),
			msg(types.RoleAssistant, "second"),
			msg(types.RoleUser, "third"),
		}})

		got, err := a.Assemble(ctx, "conv", 1000)
		if err != nil {
			t.Fatalf("Assemble failed: %v", err)
		}
		want := "user: first\nassistant: second\nuser: third"
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("drops oldest messages whole when over budget", func(t *testing.T) {
		a := NewAssembler(&fakeHistory{messages: []*types.Message{
			msg(types.RoleUser, "a very long early message that will not fit in the budget"),
			msg(types.RoleAssistant, "short reply"),
			msg(types.RoleUser, "latest"),
		}})

		// Enough for the newest two messages but not all three.
		got, err := a.Assemble(ctx, "conv", 40)
		if err != nil {
			t.Fatalf("Assemble failed: %v", err)
		}
		if strings.Contains(got, "early message") {
			t.Errorf("expected oldest message dropped, got %q", got)
		}
		if !strings.HasSuffix(got, "user: latest") {
			t.Errorf("expected newest message kept last, got %q", got)
		}
		if !strings.Contains(got, "assistant: short reply") {
			t.Errorf("expected middle message kept, got %q", got)
		}
	})

	t.Run("budget covers join separators", func(t *testing.T) {
		a := NewAssembler(&fakeHistory{messages: []*types.Message{
			msg(types.RoleUser, "aa"), // rendered "user: aa", 8 chars
			msg(types.RoleUser, "bb"),
		}})

		// Both rendered messages sum to exactly 16, but joining them adds
		// a newline. The budget has to cover that byte too.
		got, err := a.Assemble(ctx, "conv", 16)
		if err != nil {
			t.Fatalf("Assemble failed: %v", err)
		}
		if got != "user: bb" {
			t.Errorf("expected only the newest message, got %q", got)
		}

		got, err = a.Assemble(ctx, "conv", 17)
		if err != nil {
			t.Fatalf("Assemble failed: %v", err)
		}
		if got != "user: aa\nuser: bb" {
			t.Errorf("expected both messages at budget 17, got %q", got)
		}
		if len(got) > 17 {
			t.Errorf("assembled context exceeds budget: %d chars", len(got))
		}
	})

	t.Run("oversized newest message is returned alone", func(t *testing.T) {
		huge := strings.Repeat("x", 500)
		a := NewAssembler(&fakeHistory{messages: []*types.Message{
			msg(types.RoleUser, "older"),
			msg(types.RoleAssistant, huge),
		}})

		got, err := a.Assemble(ctx, "conv", 100)
		if err != nil {
			t.Fatalf("Assemble failed: %v", err)
		}
		if got != "assistant: "+huge {
			t.Errorf("expected only the newest message, got %d chars", len(got))
		}
	})

	t.Run("empty history yields empty context", func(t *testing.T) {
		a := NewAssembler(&fakeHistory{})
		got, err := a.Assemble(ctx, "conv", 100)
		if err != nil {
			t.Fatalf("Assemble failed: %v", err)
		}
		if got != "" {
			t.Errorf("expected empty context, got %q", got)
		}
	})

	t.Run("non-positive budget is ErrValidation", func(t *testing.T) {
		a := NewAssembler(&fakeHistory{})
		if _, err := a.Assemble(ctx, "conv", 0); !errors.Is(err, types.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("history errors propagate", func(t *testing.T) {
		a := NewAssembler(&fakeHistory{err: fmt.Errorf("db gone")})
		if _, err := a.Assemble(ctx, "conv", 100); err == nil {
			t.Error("expected error from failing source")
		}
	})
}

func TestContextCache(t *testing.T) {
	ctx := context.Background()
	a := NewAssembler(&fakeHistory{messages: []*types.Message{msg(types.RoleUser, "hello")}})

	if _, ok := a.CachedContext("conv"); ok {
		t.Error("expected empty cache before assembly")
	}

	if _, err := a.Assemble(ctx, "conv", 100); err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	cached, ok := a.CachedContext("conv")
	if !ok || cached != "user: hello" {
		t.Errorf("expected cached context, got %q (%v)", cached, ok)
	}
	if a.CacheSize() != 1 {
		t.Errorf("expected cache size 1, got %d", a.CacheSize())
	}

	t.Run("cleanup drops stale entries", func(t *testing.T) {
		if removed := a.CleanupCache(time.Now().Add(-time.Hour)); removed != 0 {
			t.Errorf("expected fresh entry kept, removed %d", removed)
		}
		if removed := a.CleanupCache(time.Now().Add(time.Hour)); removed != 1 {
			t.Errorf("expected stale entry removed, removed %d", removed)
		}
		if a.CacheSize() != 0 {
			t.Errorf("expected empty cache, got %d", a.CacheSize())
		}
	})
}

func TestExtractKeyPoints(t *testing.T) {
	t.Run("keeps signal sentences over 20 chars", func(t *testing.T) {
		text := "This is an important architectural decision for the project. " +
			"Short note. " +
			"The weather was nice today and nothing else happened. " +
			"Remember to rotate the API keys every quarter."

		points := ExtractKeyPoints(text)
		if len(points) != 2 {
			t.Fatalf("expected 2 key points, got %d: %v", len(points), points)
		}
		if !strings.Contains(points[0], "important") {
			t.Errorf("expected the important sentence first, got %q", points[0])
		}
		if !strings.Contains(points[1], "Remember") {
			t.Errorf("expected the remember sentence second, got %q", points[1])
		}
	})

	t.Run("caps at five points", func(t *testing.T) {
		var sb strings.Builder
		for i := 0; i < 8; i++ {
			fmt.Fprintf(&sb, "This is important detail number %d for the record. ", i)
		}
		points := ExtractKeyPoints(sb.String())
		if len(points) != 5 {
			t.Errorf("expected cap of 5 points, got %d", len(points))
		}
	})

	t.Run("no signals yields nothing", func(t *testing.T) {
		if points := ExtractKeyPoints("The sky was blue. Birds flew past the window."); len(points) != 0 {
			t.Errorf("expected no key points, got %v", points)
		}
	})
}

func TestSummarize(t *testing.T) {
	t.Run("short text unchanged", func(t *testing.T) {
		text := "Already fits."
		if got := Summarize(text, 100); got != text {
			t.Errorf("expected unchanged text, got %q", got)
		}
	})

	t.Run("keeps first sentence, signal sentences, and last sentence", func(t *testing.T) {
		text := "The opening statement sets the scene. " +
			"Some filler about the weather in spring. " +
			"However the key constraint is memory usage. " +
			"More filler that adds nothing. " +
			"The closing line"

		got := Summarize(text, 120)
		if !strings.HasPrefix(got, "The opening statement") {
			t.Errorf("expected first sentence kept, got %q", got)
		}
		if !strings.Contains(got, "However the key constraint") {
			t.Errorf("expected signal sentence kept, got %q", got)
		}
		if !strings.HasSuffix(got, "The closing line") {
			t.Errorf("expected last sentence kept, got %q", got)
		}
		if strings.Contains(got, "weather in spring") {
			t.Errorf("expected filler dropped, got %q", got)
		}
	})
}
