// Package prompt composes the final request text sent to the LLM provider.
// Building is pure: same inputs always yield the same output string, with no
// randomness or clock dependency, so prompts are directly assertable in tests.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/markai/markai/pkg/types"
)

// DefaultSystemPrompt defines the assistant's behavior when no persona
// override is configured.
const DefaultSystemPrompt = `You are MarkAI, an adaptive AI assistant.

CORE IDENTITY:
- You are intelligent, helpful, and honest
- You maintain context across conversations
- You remember user preferences and adapt your responses to them

BEHAVIOR GUIDELINES:
- Always be helpful, accurate, and honest
- Explain your reasoning when solving complex problems
- Ask clarifying questions when needed
- Maintain conversation context and user preferences`

// responseFormatInstruction trails every prompt.
const responseFormatInstruction = `Please provide a helpful response. If this is a complex problem, include your reasoning steps.`

// BuildInput carries everything the builder combines into one prompt.
type BuildInput struct {
	// SystemPrompt is the persona text; DefaultSystemPrompt when empty
	// would be the caller's choice - the builder renders exactly what it
	// is given and omits the section when empty.
	SystemPrompt string

	// MemorySnippets are consolidated long-term memory facts.
	MemorySnippets []string

	// Context is the assembled conversation history.
	Context string

	// Preferences maps preference names to values; rendered sorted by key
	// so output is deterministic.
	Preferences map[string]string

	// ExpertiseAreas lists the user's stated areas of expertise.
	ExpertiseAreas []string

	// Message is the new user message.
	Message string

	// Reasoning and Mode are inert tags describing how the response should
	// be produced. Empty values are omitted.
	Reasoning types.ReasoningType
	Mode      types.ProcessingMode
}

// Build concatenates the prompt sections in fixed order - persona, retrieved
// memory, conversation history, user preferences/expertise, the new message,
// and a trailing response-format instruction - separated by blank lines.
// Sections with empty input are omitted entirely.
func Build(in BuildInput) string {
	var sections []string

	if in.SystemPrompt != "" {
		persona := in.SystemPrompt
		if in.Reasoning != "" || in.Mode != "" {
			var tags []string
			if in.Reasoning != "" {
				tags = append(tags, "reasoning="+string(in.Reasoning))
			}
			if in.Mode != "" {
				tags = append(tags, "mode="+string(in.Mode))
			}
			persona += "\n[" + strings.Join(tags, " ") + "]"
		}
		sections = append(sections, persona)
	}

	if len(in.MemorySnippets) > 0 {
		var sb strings.Builder
		sb.WriteString("Relevant memory from earlier in this conversation:")
		for _, snippet := range in.MemorySnippets {
			sb.WriteString("\n- " + snippet)
		}
		sections = append(sections, sb.String())
	}

	if in.Context != "" {
		sections = append(sections, "Conversation History:\n"+in.Context)
	}

	if prefs := renderPreferences(in.Preferences, in.ExpertiseAreas); prefs != "" {
		sections = append(sections, prefs)
	}

	if in.Message != "" {
		sections = append(sections, "Current Message: "+in.Message)
	}

	sections = append(sections, responseFormatInstruction)

	return strings.Join(sections, "\n\n")
}

func renderPreferences(prefs map[string]string, expertise []string) string {
	if len(prefs) == 0 && len(expertise) == 0 {
		return ""
	}

	var sb strings.Builder

	if len(prefs) > 0 {
		sb.WriteString("User Preferences:")
		keys := make([]string, 0, len(prefs))
		for k := range prefs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("\n- %s: %s", k, prefs[k]))
		}
	}

	if len(expertise) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("User's Expertise Areas: " + strings.Join(expertise, ", "))
	}

	return sb.String()
}
