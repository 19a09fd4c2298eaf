package dialogue

import (
	"fmt"

	"github.com/agora-circle/agora/internal/llm"
)

// HistoryEntry is one prior utterance visible to the context builder.
type HistoryEntry struct {
	AgentID      string
	AgentName    string
	Content      string
	Interjection bool
}

// ContextBuilder assembles the message list for one generation request. The
// model sees only the trailing window of the transcript plus its own system
// prompt; everything older falls out of view.
type ContextBuilder struct {
	window int
}

// NewContextBuilder creates a builder showing the last window entries.
func NewContextBuilder(window int) *ContextBuilder {
	if window <= 0 {
		window = 5
	}
	return &ContextBuilder{window: window}
}

// Build returns the request messages: the system prompt, one user message
// per windowed transcript entry, and a closing user message. The message
// list, not a concatenated string, is what the backend receives.
func (c *ContextBuilder) Build(systemPrompt, provocation string, history []HistoryEntry) []llm.Message {
	msgs := make([]llm.Message, 0, c.window+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: systemPrompt})

	start := 0
	if len(history) > c.window {
		start = len(history) - c.window
	}
	for _, h := range history[start:] {
		label := h.AgentName
		if h.Interjection {
			label = "Interjection"
		}
		msgs = append(msgs, llm.Message{
			Role:    "user",
			Content: fmt.Sprintf("[%s]: %s", label, h.Content),
		})
	}

	closing := "Respond briefly (2-3 sentences). Speak only as yourself, never as other participants."
	if len(history) == 0 {
		closing = fmt.Sprintf("Opening question: %s\n\nShare your perspective briefly (2-3 sentences).", provocation)
	}
	return append(msgs, llm.Message{Role: "user", Content: closing})
}
