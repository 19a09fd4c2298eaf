package dialogue

import (
	"strings"
	"testing"
)

func TestContextBuilderOpeningTurn(t *testing.T) {
	t.Parallel()

	cb := NewContextBuilder(5)
	msgs := cb.Build("You are Luma.", "What is attention?", nil)

	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[0].Content != "You are Luma." {
		t.Fatalf("system message = %+v", msgs[0])
	}
	if msgs[1].Role != "user" {
		t.Fatalf("user role = %q", msgs[1].Role)
	}
	want := "Opening question: What is attention?\n\nShare your perspective briefly (2-3 sentences)."
	if msgs[1].Content != want {
		t.Fatalf("opening prompt:\n got %q\nwant %q", msgs[1].Content, want)
	}
}

func TestContextBuilderOneMessagePerEntry(t *testing.T) {
	t.Parallel()

	cb := NewContextBuilder(5)
	history := []HistoryEntry{
		{AgentName: "Luma", Content: "first"},
		{AgentName: "Orin", Content: "second"},
		{AgentName: "Mira", Content: "third"},
	}
	msgs := cb.Build("sys", "What is care?", history)

	// system + one user message per entry + closing.
	if len(msgs) != 5 {
		t.Fatalf("got %d messages, want 5", len(msgs))
	}
	wantUsers := []string{
		"[Luma]: first",
		"[Orin]: second",
		"[Mira]: third",
		"Respond briefly (2-3 sentences). Speak only as yourself, never as other participants.",
	}
	for i, want := range wantUsers {
		got := msgs[i+1]
		if got.Role != "user" || got.Content != want {
			t.Errorf("message %d = %q %q, want user %q", i+1, got.Role, got.Content, want)
		}
	}
}

func TestContextBuilderWindowing(t *testing.T) {
	t.Parallel()

	cb := NewContextBuilder(2)
	history := []HistoryEntry{
		{AgentName: "Luma", Content: "first"},
		{AgentName: "Orin", Content: "second"},
		{AgentName: "Mira", Content: "third"},
	}
	msgs := cb.Build("sys", "Q?", history)

	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
	for _, m := range msgs {
		if strings.Contains(m.Content, "[Luma]: first") {
			t.Error("entry outside the window leaked into the context")
		}
	}
	if msgs[1].Content != "[Orin]: second" || msgs[2].Content != "[Mira]: third" {
		t.Errorf("windowed entries = %q, %q", msgs[1].Content, msgs[2].Content)
	}
	if !strings.Contains(msgs[3].Content, "Speak only as yourself") {
		t.Errorf("closing instruction = %q", msgs[3].Content)
	}
}

func TestContextBuilderInterjection(t *testing.T) {
	t.Parallel()

	cb := NewContextBuilder(5)
	history := []HistoryEntry{
		{AgentName: "Luma", Content: "a thought"},
		{AgentName: "Researcher", Content: "consider scale", Interjection: true},
	}
	msgs := cb.Build("sys", "Q?", history)

	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
	if msgs[2].Content != "[Interjection]: consider scale" {
		t.Errorf("interjection message = %q", msgs[2].Content)
	}
	for _, m := range msgs {
		if strings.Contains(m.Content, "[Researcher]") {
			t.Errorf("interjection leaked its author: %q", m.Content)
		}
	}
}

func TestContextBuilderDefaultWindow(t *testing.T) {
	t.Parallel()

	cb := NewContextBuilder(0)
	history := make([]HistoryEntry, 8)
	for i := range history {
		history[i] = HistoryEntry{AgentName: "A", Content: strings.Repeat("x", i+1)}
	}
	msgs := cb.Build("sys", "Q?", history)

	// system + 5 windowed entries + closing.
	if len(msgs) != 7 {
		t.Fatalf("got %d messages, want 7", len(msgs))
	}
	if msgs[1].Content != "[A]: xxxx" {
		t.Errorf("oldest windowed entry = %q", msgs[1].Content)
	}
}
