// Package plugins implements MarkAI's lightweight plugin system. Plugins are
// registered explicitly at startup and get first crack at each incoming
// message before it reaches the LLM. A plugin that claims a message
// short-circuits the model call entirely; its response still flows through the
// normal persistence path.
package plugins

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
)

// Response is what a plugin produces when it handles a message.
type Response struct {
	// Content is the reply text shown to the user.
	Content string

	// Metadata is merged into the persisted assistant message. The registry
	// always sets the "plugin" key to the handler's name.
	Metadata map[string]any
}

// Handler is the interface every plugin implements.
type Handler interface {
	// Name returns the plugin identifier.
	Name() string

	// Description is a one-line summary shown by the help plugin.
	Description() string

	// Triggers returns lowercase substrings that route messages to this
	// plugin. An empty list means the plugin is never triggered.
	Triggers() []string

	// Handle processes a message. The bool reports whether the plugin
	// actually handled it; a false return passes the message on.
	Handle(ctx context.Context, msg string) (*Response, bool)
}

// Registry holds registered plugins in registration order.
type Registry struct {
	handlers []Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a handler. Registration order decides dispatch priority.
func (r *Registry) Register(h Handler) {
	r.handlers = append(r.handlers, h)
	log.Debug().Str("plugin", h.Name()).Msg("Registered plugin")
}

// Handlers returns the registered handlers in order.
func (r *Registry) Handlers() []Handler {
	return r.handlers
}

// Dispatch routes msg to the first triggered handler that claims it. The bool
// is false when no plugin handled the message and it should go to the LLM.
func (r *Registry) Dispatch(ctx context.Context, msg string) (*Response, bool) {
	lower := strings.ToLower(msg)

	for _, h := range r.handlers {
		if !triggered(h, lower) {
			continue
		}
		resp, ok := h.Handle(ctx, msg)
		if !ok {
			continue
		}
		if resp.Metadata == nil {
			resp.Metadata = make(map[string]any)
		}
		resp.Metadata["plugin"] = h.Name()
		log.Info().Str("plugin", h.Name()).Msg("Plugin handled message")
		return resp, true
	}

	return nil, false
}

func triggered(h Handler, lowerMsg string) bool {
	for _, t := range h.Triggers() {
		if strings.Contains(lowerMsg, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

// DefaultRegistry returns a registry with the built-in plugins registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewTimePlugin())
	r.Register(NewCalculatorPlugin())
	r.Register(NewHelpPlugin(r))
	return r
}
