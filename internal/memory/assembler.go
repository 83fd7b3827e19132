// Package memory implements the context-assembly and working-memory layer
// for MarkAI. The assembler produces the bounded conversation context fed to
// prompt construction; the working-memory cache holds short-lived facts with
// importance-weighted consolidation into long-term storage.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/markai/markai/pkg/types"
)

// historyLimit bounds how many recent messages the assembler pulls before
// applying the character budget.
const historyLimit = 50

// keyPointSignals are the keywords that mark a sentence as a key point.
var keyPointSignals = []string{
	"important", "key", "main", "primary", "significant", "critical",
	"remember", "note", "summary", "conclusion",
}

// summarySignals are the keywords that keep a middle sentence in a summary.
var summarySignals = []string{
	"important", "key", "main", "however", "therefore", "conclusion",
}

// HistorySource supplies chronological message history for a conversation.
// *data.Store satisfies this.
type HistorySource interface {
	History(ctx context.Context, convID string, limit, offset int) ([]*types.Message, error)
}

// Assembler builds bounded textual context for prompt construction. Assembly
// reads from persistent history; extraction and summarization are pure.
type Assembler struct {
	source HistorySource

	mu    sync.RWMutex
	cache map[string]cachedContext
}

type cachedContext struct {
	context  string
	builtAt  time.Time
	numChars int
}

// NewAssembler creates a context assembler backed by the given history source.
func NewAssembler(source HistorySource) *Assembler {
	return &Assembler{
		source: source,
		cache:  make(map[string]cachedContext),
	}
}

// Assemble walks the conversation's messages from most recent backward,
// rendering each as "<role>: <content>", and keeps adding older messages
// until the next one would exceed maxChars. The kept messages are then
// restored to chronological order and joined with newlines.
//
// Older messages are dropped whole, never truncated mid-message. The budget
// is a soft cap: if the single most recent message alone exceeds maxChars it
// is still returned by itself.
func (a *Assembler) Assemble(ctx context.Context, convID string, maxChars int) (string, error) {
	if maxChars <= 0 {
		return "", fmt.Errorf("%w: max chars must be positive, got %d", types.ErrValidation, maxChars)
	}

	messages, err := a.source.History(ctx, convID, historyLimit, 0)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}

	var parts []string
	total := 0
	for i := len(messages) - 1; i >= 0; i-- {
		rendered := string(messages[i].Role) + ": " + messages[i].Content

		// Cost includes the newline that joins this message to the ones
		// already kept, so the result never exceeds the budget unless the
		// newest message alone does.
		cost := len(rendered)
		if len(parts) > 0 {
			cost++
		}

		if len(parts) > 0 && total+cost > maxChars {
			break
		}

		parts = append([]string{rendered}, parts...)
		total += cost
	}

	assembled := strings.Join(parts, "\n")

	a.mu.Lock()
	a.cache[convID] = cachedContext{
		context:  assembled,
		builtAt:  time.Now(),
		numChars: total,
	}
	a.mu.Unlock()

	return assembled, nil
}

// CachedContext returns the most recently assembled context for a
// conversation, if any.
func (a *Assembler) CachedContext(convID string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	entry, ok := a.cache[convID]
	return entry.context, ok
}

// CleanupCache drops cached contexts built before the cutoff and returns how
// many entries were removed.
func (a *Assembler) CleanupCache(cutoff time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for convID, entry := range a.cache {
		if entry.builtAt.Before(cutoff) {
			delete(a.cache, convID)
			removed++
		}
	}

	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("context cache cleaned")
	}
	return removed
}

// CacheSize returns the number of cached contexts.
func (a *Assembler) CacheSize() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.cache)
}

// ExtractKeyPoints pulls sentences that look like key points: longer than 20
// characters and containing one of the signal keywords. At most 5 points are
// returned, in original order.
func ExtractKeyPoints(text string) []string {
	var points []string
	for _, sentence := range strings.Split(text, ". ") {
		sentence = strings.TrimSpace(sentence)
		if len(sentence) <= 20 {
			continue
		}
		if containsAny(strings.ToLower(sentence), keyPointSignals) {
			points = append(points, sentence)
			if len(points) == 5 {
				break
			}
		}
	}
	return points
}

// Summarize condenses text to roughly maxChars. Text that already fits is
// returned unchanged. Otherwise the summary keeps the first sentence, adds
// middle sentences carrying summary-signal keywords until 80% of the budget
// is used, and appends the last sentence if it still fits.
func Summarize(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}

	sentences := strings.Split(text, ". ")
	if len(sentences) == 0 {
		return text
	}

	parts := []string{sentences[0]}

	for _, sentence := range sentences[1 : max(len(sentences)-1, 1)] {
		if !containsAny(strings.ToLower(sentence), summarySignals) {
			continue
		}
		parts = append(parts, sentence)
		if len(strings.Join(parts, ". ")) > maxChars*8/10 {
			break
		}
	}

	if len(sentences) > 1 {
		last := sentences[len(sentences)-1]
		if len(strings.Join(append(parts, last), ". ")) <= maxChars {
			parts = append(parts, last)
		}
	}

	return strings.Join(parts, ". ")
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
