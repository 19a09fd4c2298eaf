package dialogue

import (
	"sync"
	"time"
)

// State is the session controller state.
type State string

const (
	StateIdle          State = "idle"
	StateRunning       State = "running"
	StatePaused        State = "paused"
	StateAwaitingHuman State = "awaiting_human"
	StateComplete      State = "complete"
)

// Event is a variant carried on the session bus. The concrete types are
// [TurnEvent], [StateEvent], [MetricsEvent], and [ErrorEvent].
type Event interface {
	// EventType returns the wire frame type: turn, state, metrics, error.
	EventType() string
}

// TurnEvent announces one completed dialogue turn.
type TurnEvent struct {
	Type       string  `json:"type"`
	TurnNumber int     `json:"turn_number"`
	AgentID    string  `json:"agent_id"`
	AgentName  string  `json:"agent_name"`
	Content    string  `json:"content"`
	Model      string  `json:"model"`
	LatencyMS  float64 `json:"latency_ms"`
	IsHuman    bool    `json:"is_human"`
	Color      string  `json:"color"`
}

func (e TurnEvent) EventType() string { return "turn" }

// StateEvent announces a controller state change.
type StateEvent struct {
	Type        string `json:"type"`
	State       State  `json:"state"`
	NextSpeaker string `json:"next_speaker,omitempty"`
	Message     string `json:"message,omitempty"`
}

func (e StateEvent) EventType() string { return "state" }

// MetricsEvent carries the streaming analyzer's per-turn state.
type MetricsEvent struct {
	Type                 string   `json:"type"`
	TurnNumber           int      `json:"turn_number"`
	Basin                string   `json:"basin"`
	BasinConfidence      float64  `json:"basin_confidence"`
	IntegrityScore       float64  `json:"integrity_score"`
	IntegrityLabel       string   `json:"integrity_label"`
	PsiSemantic          float64  `json:"psi_semantic"`
	PsiTemporal          float64  `json:"psi_temporal"`
	PsiAffective         float64  `json:"psi_affective"`
	VoiceDistinctiveness float64  `json:"voice_distinctiveness"`
	VelocityMagnitude    *float64 `json:"velocity_magnitude,omitempty"`
}

func (e MetricsEvent) EventType() string { return "metrics" }

// ErrorEvent surfaces a fatal per-session failure on the stream.
type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func (e ErrorEvent) EventType() string { return "error" }

// Bus is the bounded FIFO decoupling the generation loop from observers.
//
// Publish blocks when the buffer is full; turns are never silently dropped.
// Next blocks until an event arrives or the timeout elapses. The bus outlives
// any single observer; a reconnecting observer resumes reading whatever is
// still queued.
type Bus struct {
	ch chan Event

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewBus creates a bus with the given capacity.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 256
	}
	return &Bus{
		ch:   make(chan Event, capacity),
		done: make(chan struct{}),
	}
}

// Publish enqueues ev, blocking while the bus is full. Publishing to a
// closed bus is a no-op.
func (b *Bus) Publish(ev Event) {
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.ch <- ev:
	case <-b.done:
	}
}

// Next returns the next event, blocking up to timeout. ok is false when the
// timeout elapsed or the bus is closed and drained.
func (b *Bus) Next(timeout time.Duration) (ev Event, ok bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-b.ch:
		return ev, true
	case <-timer.C:
		return nil, false
	case <-b.done:
		// Closed mid-wait: drain whatever is still queued.
		return b.TryNext()
	}
}

// TryNext returns the next queued event without blocking.
func (b *Bus) TryNext() (ev Event, ok bool) {
	select {
	case ev := <-b.ch:
		return ev, true
	default:
		return nil, false
	}
}

// Len reports the number of queued events.
func (b *Bus) Len() int { return len(b.ch) }

// Close marks the bus closed. Queued events remain readable via Next and
// TryNext; Publish becomes a no-op. Safe to call multiple times.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
}
