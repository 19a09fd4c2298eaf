package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agora-circle/agora/internal/analysis"
	"github.com/agora-circle/agora/internal/llm"
	"github.com/agora-circle/agora/internal/observe"
	"github.com/agora-circle/agora/internal/sessionlog"
)

// endJoinTimeout bounds how long End waits for the generation loop.
const endJoinTimeout = 2 * time.Second

// embedBudget bounds the per-turn embedding call.
const embedBudget = 90 * time.Second

// Display colours for the non-persona speakers.
const (
	humanColor      = "#B49070"
	researcherColor = "#A0A0B4"
)

// interjectionModel marks operator interjections in the session record.
const interjectionModel = "n/a"

// ErrBadState is returned when an operation is invalid in the current
// controller state.
var ErrBadState = errors.New("dialogue: operation not valid in current state")

// ErrUnknownAgent is returned when an operation names an agent outside the
// roster.
var ErrUnknownAgent = errors.New("dialogue: unknown agent")

// ChatClient is the slice of the backend client the session needs.
type ChatClient interface {
	Chat(ctx context.Context, model string, messages []llm.Message, opts llm.Options) (*llm.ChatResult, error)
}

// Embedder converts an utterance into a unit vector for the analyzer.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// AgentBinding is one configured agent: identity, backing model, and the
// sampling parameters derived from its personality.
type AgentBinding struct {
	ID           string
	Name         string
	Model        string
	Temperature  float64
	SystemPrompt string
	Sampling     llm.Options
	Color        string
}

// TurnError records one failed generation attempt.
type TurnError struct {
	Turn      int    `json:"turn"`
	AgentID   string `json:"agent_id"`
	Model     string `json:"model"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Attempt   int    `json:"attempt"`
	Timestamp string `json:"timestamp"`
}

// SessionConfig carries the per-session knobs.
type SessionConfig struct {
	ID              string
	Mode            string
	ProvocationID   string
	Provocation     string
	Seed            int64
	ConfigPath      string
	MaxTurns        int
	ContextWindow   int
	Cooldown        int
	TurnRetries     int
	MetricsInterval int
	OpeningAgent    string
	HumanEnabled    bool
	HumanHandle     string
}

// Status is a read-only snapshot of the controller for HTTP handlers.
type Status struct {
	SessionID   string         `json:"session_id"`
	State       State          `json:"state"`
	Provocation string         `json:"provocation"`
	TurnCount   int            `json:"turn_count"`
	MaxTurns    int            `json:"max_turns"`
	NextSpeaker string         `json:"next_speaker,omitempty"`
	TurnCounts  map[string]int `json:"agent_turn_counts"`
	TurnErrors  []TurnError    `json:"turn_errors,omitempty"`
}

// Session drives one dialogue: it owns the scheduler, the generation loop,
// the event bus, and the session log. All control operations are safe for
// concurrent use.
type Session struct {
	cfg      SessionConfig
	bindings map[string]AgentBinding
	order    []string

	client   ChatClient
	embedder Embedder
	analyzer *analysis.Analyzer
	warmth   *llm.WarmthManager
	metrics  *observe.Metrics
	logger   *sessionlog.Logger
	bus      *Bus
	sched    *Scheduler
	builder  *ContextBuilder

	mu        sync.Mutex
	cond      *sync.Cond
	state     State
	stopping  bool
	force     string
	awaiting  string // agent id the loop is blocked on, HumanID while waiting
	humanDone bool   // awaited human turn was submitted and recorded
	skip      bool   // operator chose to skip the awaited human turn
	history   []HistoryEntry
	completed int
	lastText  string
	turnErrs  []TurnError

	cancel context.CancelFunc
	done   chan struct{}
	final  string
	runErr error
}

// SessionDeps bundles the collaborators a session needs.
type SessionDeps struct {
	Client   ChatClient
	Embedder Embedder
	Analyzer *analysis.Analyzer
	Warmth   *llm.WarmthManager
	Metrics  *observe.Metrics
	Logger   *sessionlog.Logger
	Bus      *Bus
}

// NewSession creates an idle session over the given bindings, in roster
// order.
func NewSession(cfg SessionConfig, bindings []AgentBinding, deps SessionDeps) *Session {
	bm := make(map[string]AgentBinding, len(bindings))
	order := make([]string, 0, len(bindings))
	for _, b := range bindings {
		bm[b.ID] = b
		order = append(order, b.ID)
	}

	s := &Session{
		cfg:      cfg,
		bindings: bm,
		order:    order,
		client:   deps.Client,
		embedder: deps.Embedder,
		analyzer: deps.Analyzer,
		warmth:   deps.Warmth,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		bus:      deps.Bus,
		sched:    NewScheduler(order, cfg.Seed, cfg.Cooldown, cfg.HumanEnabled, cfg.HumanHandle),
		builder:  NewContextBuilder(cfg.ContextWindow),
		state:    StateIdle,
		done:     make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.cfg.ID }

// Bus returns the session's event bus.
func (s *Session) Bus() *Bus { return s.bus }

// Analyzer returns the streaming analyzer, or nil when analysis is off.
func (s *Session) Analyzer() *analysis.Analyzer { return s.analyzer }

// Logger returns the session log.
func (s *Session) Logger() *sessionlog.Logger { return s.logger }

// State returns the current controller state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot for the HTTP surface.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		SessionID:   s.cfg.ID,
		State:       s.state,
		Provocation: s.cfg.Provocation,
		TurnCount:   s.completed,
		MaxTurns:    s.cfg.MaxTurns,
		NextSpeaker: s.awaiting,
		TurnCounts:  s.sched.Counts(),
		TurnErrors:  append([]TurnError(nil), s.turnErrs...),
	}
}

// Replay feeds a checkpointed record back into the controller before Start:
// scheduler counts, transcript history, analyzer state, and the session log
// are rebuilt so generation continues from turn n+1 under the original seed
// schedule.
func (s *Session) Replay(rec *sessionlog.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return ErrBadState
	}

	s.logger.StartSession(sessionlog.StartParams{
		Mode:                   rec.Mode,
		ProvocationID:          rec.ProvocationID,
		ProvocationText:        rec.ProvocationText,
		Seed:                   rec.Seed,
		ConfigPath:             rec.ConfigPath,
		ModelAssignments:       rec.ModelAssignments,
		TemperatureAssignments: rec.TemperatureAssignments,
	})

	for _, t := range rec.Turns {
		interjection := t.Model == interjectionModel

		if _, err := s.logger.LogTurn(sessionlog.TurnInput{
			AgentID:          t.AgentID,
			AgentName:        t.AgentName,
			Content:          t.Content,
			Model:            t.Model,
			Temperature:      t.Temperature,
			LatencyMS:        t.LatencyMS,
			PromptTokens:     t.PromptTokens,
			CompletionTokens: t.CompletionTokens,
			Embedding:        t.Embedding,
		}, false); err != nil {
			return fmt.Errorf("dialogue: replay turn %d: %w", t.TurnNumber, err)
		}

		s.history = append(s.history, HistoryEntry{
			AgentID:      t.AgentID,
			AgentName:    t.AgentName,
			Content:      t.Content,
			Interjection: interjection,
		})

		if interjection {
			continue
		}
		s.sched.Record(t.AgentID)
		s.completed++
		s.lastText = t.Content
		if s.analyzer != nil {
			s.analyzer.ProcessTurn(t.AgentID, t.Content, t.Embedding)
		}
	}

	slog.Info("session replayed from checkpoint",
		"session_id", s.cfg.ID, "turns", s.completed)
	return nil
}

// Start moves the session from idle to running and launches the generation
// loop. The loop runs until max turns, End, or an unrecoverable error.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrBadState
	}
	if s.completed == 0 {
		assigns := make(map[string]string, len(s.bindings))
		temps := make(map[string]float64, len(s.bindings))
		for id, b := range s.bindings {
			assigns[id] = b.Model
			temps[id] = b.Temperature
		}
		s.logger.StartSession(sessionlog.StartParams{
			Mode:                   s.cfg.Mode,
			ProvocationID:          s.cfg.ProvocationID,
			ProvocationText:        s.cfg.Provocation,
			Seed:                   s.cfg.Seed,
			ConfigPath:             s.cfg.ConfigPath,
			ModelAssignments:       assigns,
			TemperatureAssignments: temps,
		})
		if s.cfg.OpeningAgent != "" {
			s.force = s.cfg.OpeningAgent
		}
	}
	s.state = StateRunning
	s.mu.Unlock()

	ctx, s.cancel = context.WithCancel(ctx)
	if s.metrics != nil {
		s.metrics.ActiveSessions.Add(ctx, 1)
	}
	s.bus.Publish(StateEvent{Type: "state", State: StateRunning})
	go s.run(ctx)
	return nil
}

// Pause suspends the loop after the in-flight turn finishes. Valid only
// while running; a completed session is a no-op.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateComplete {
		return nil
	}
	if s.state != StateRunning {
		return ErrBadState
	}
	s.state = StatePaused
	s.bus.Publish(StateEvent{Type: "state", State: StatePaused})
	return nil
}

// Resume continues a paused session.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateComplete {
		return nil
	}
	if s.state != StatePaused {
		return ErrBadState
	}
	s.state = StateRunning
	s.bus.Publish(StateEvent{Type: "state", State: StateRunning, Message: "Resumed"})
	s.cond.Broadcast()
	return nil
}

// Invoke forces agentID to take the next scheduled turn. A paused session
// resumes; an awaited human turn is released.
func (s *Session) Invoke(agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateComplete {
		return nil
	}
	if _, ok := s.bindings[agentID]; !ok && agentID != HumanID {
		return fmt.Errorf("dialogue: %w: %q", ErrUnknownAgent, agentID)
	}
	s.force = agentID
	switch s.state {
	case StatePaused:
		s.state = StateRunning
		s.bus.Publish(StateEvent{Type: "state", State: StateRunning, Message: "Resumed"})
	case StateAwaitingHuman:
		s.skip = true
	}
	s.cond.Broadcast()
	return nil
}

// SubmitHuman delivers a human utterance. While the controller is awaiting a
// scheduled human turn the content fills that slot; otherwise it is inserted
// as a spontaneous human turn before the next scheduled one.
func (s *Session) SubmitHuman(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateComplete {
		return nil
	}
	switch s.state {
	case StateAwaitingHuman:
		// The scheduler already counted this turn when it selected the
		// human. Log and publish synchronously so no downstream scheduling
		// decision can race ahead of the submitted turn.
		s.awaiting = ""
		s.state = StateRunning
		s.recordHumanLocked(content)
		s.bus.Publish(StateEvent{Type: "state", State: StateRunning})
		s.humanDone = true
		s.cond.Broadcast()
		return nil
	case StateRunning, StatePaused:
		// Spontaneous turn: the scheduler never selected it, so count it here.
		s.sched.Record(HumanID)
		s.recordHumanLocked(content)
		return nil
	default:
		return ErrBadState
	}
}

// Continue skips an awaited human turn, handing the floor back to the
// scheduler.
func (s *Session) Continue() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateComplete {
		return nil
	}
	if s.state != StateAwaitingHuman {
		return ErrBadState
	}
	s.skip = true
	s.cond.Broadcast()
	return nil
}

// Inject inserts an operator interjection into the shared context. The
// interjection appears in the transcript and the log but does not count as a
// dialogue turn and never enters the scheduler.
func (s *Session) Inject(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateRunning, StatePaused, StateAwaitingHuman:
	case StateComplete:
		return nil
	default:
		return ErrBadState
	}

	turn, err := s.logger.LogTurn(sessionlog.TurnInput{
		AgentID:   "interjection",
		AgentName: "Interjection",
		Content:   content,
		Model:     interjectionModel,
	}, true)
	if err != nil {
		return err
	}
	s.history = append(s.history, HistoryEntry{
		AgentID:      "interjection",
		AgentName:    "Interjection",
		Content:      content,
		Interjection: true,
	})
	s.bus.Publish(TurnEvent{
		Type:       "turn",
		TurnNumber: turn.TurnNumber,
		AgentID:    "interjection",
		AgentName:  "Interjection",
		Content:    content,
		Model:      interjectionModel,
		IsHuman:    true,
		Color:      researcherColor,
	})
	return nil
}

// ColorOf returns the display colour for a speaker id.
func (s *Session) ColorOf(agentID string) string {
	if b, ok := s.bindings[agentID]; ok {
		return b.Color
	}
	if agentID == HumanID {
		return humanColor
	}
	return researcherColor
}

// Provocation returns the session's opening question.
func (s *Session) Provocation() string { return s.cfg.Provocation }

// End stops the session. It is safe to call in any state; a completed
// session returns immediately.
func (s *Session) End() error {
	s.mu.Lock()
	if s.state == StateComplete {
		s.mu.Unlock()
		return nil
	}
	if s.state == StateIdle {
		s.state = StateComplete
		s.mu.Unlock()
		s.finalize("ended before start")
		return nil
	}
	s.stopping = true
	s.cond.Broadcast()
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	select {
	case <-s.done:
	case <-time.After(endJoinTimeout):
		slog.Warn("generation loop did not stop within join timeout",
			"session_id", s.cfg.ID)
	}
	return nil
}

// Done is closed when the generation loop has exited and the final artifact
// is written.
func (s *Session) Done() <-chan struct{} { return s.done }

// FinalPath returns the final artifact path once the session completes.
func (s *Session) FinalPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.final
}

// run is the generation loop. One goroutine per session.
func (s *Session) run(ctx context.Context) {
	defer func() {
		if s.metrics != nil {
			s.metrics.ActiveSessions.Add(context.Background(), -1)
		}
		s.finalize("")
	}()

	for {
		s.mu.Lock()
		for s.state == StatePaused && !s.stopping {
			s.cond.Wait()
		}
		if s.stopping || ctx.Err() != nil {
			s.mu.Unlock()
			return
		}
		if s.completed >= s.cfg.MaxTurns {
			s.mu.Unlock()
			return
		}

		force := s.force
		s.force = ""
		last := s.lastText
		next := s.sched.SelectNext(last, force)

		if next == HumanID {
			if !s.awaitHumanLocked() {
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			continue
		}

		binding := s.bindings[next]
		turnIndex := s.completed
		history := append([]HistoryEntry(nil), s.history...)
		s.mu.Unlock()

		s.bus.Publish(StateEvent{
			Type:        "state",
			State:       StateRunning,
			NextSpeaker: binding.ID,
			Message:     binding.Name + " is thinking",
		})

		if err := s.generateTurn(ctx, binding, turnIndex, history); err != nil {
			s.mu.Lock()
			s.runErr = err
			s.mu.Unlock()
			s.bus.Publish(ErrorEvent{Type: "error", Error: err.Error()})
			return
		}
	}
}

// awaitHumanLocked blocks until the awaited human turn is submitted, skipped,
// or the session stops. Returns false when the loop must exit. Called with
// s.mu held; returns with s.mu held.
func (s *Session) awaitHumanLocked() bool {
	s.state = StateAwaitingHuman
	s.awaiting = HumanID
	s.bus.Publish(StateEvent{Type: "state", State: StateAwaitingHuman, NextSpeaker: HumanID, Message: "Your turn"})

	for !s.humanDone && !s.skip && !s.stopping {
		s.cond.Wait()
	}

	s.awaiting = ""
	skipped := s.skip
	s.humanDone = false
	s.skip = false

	if s.stopping {
		return false
	}
	if skipped {
		// SubmitHuman already restored the running state on the other path.
		s.state = StateRunning
		s.bus.Publish(StateEvent{Type: "state", State: StateRunning})
	}
	return true
}

// recordHumanLocked logs and publishes one human turn. Called with s.mu held;
// the lock is released around the embedding call so control operations are
// not blocked behind the backend.
func (s *Session) recordHumanLocked(content string) {
	s.mu.Unlock()
	embedding := s.embedBestEffort(content)
	s.mu.Lock()

	turn, err := s.logger.LogTurn(sessionlog.TurnInput{
		AgentID:   HumanID,
		AgentName: "You",
		Content:   content,
		Model:     "human",
		Embedding: embedding,
	}, true)
	if err != nil {
		slog.Error("log human turn failed", "session_id", s.cfg.ID, "err", err)
		return
	}

	s.history = append(s.history, HistoryEntry{
		AgentID:   HumanID,
		AgentName: "You",
		Content:   content,
	})
	s.completed++
	s.lastText = content

	if s.analyzer != nil {
		state := s.analyzer.ProcessTurn(HumanID, content, turn.Embedding)
		s.publishMetricsLocked(turn.TurnNumber, state)
	}

	s.bus.Publish(TurnEvent{
		Type:       "turn",
		TurnNumber: turn.TurnNumber,
		AgentID:    HumanID,
		AgentName:  "You",
		Content:    content,
		Model:      "human",
		IsHuman:    true,
		Color:      humanColor,
	})
	if s.metrics != nil {
		s.metrics.RecordTurn(context.Background(), HumanID, "human", 0)
	}
}

// generateTurn runs one agent turn: build context, call the backend with
// per-turn retries, strip voice bleed, embed, log, analyze, publish.
func (s *Session) generateTurn(ctx context.Context, b AgentBinding, turnIndex int, history []HistoryEntry) error {
	messages := s.builder.Build(b.SystemPrompt, s.cfg.Provocation, history)

	opts := b.Sampling
	seed := s.cfg.Seed + int64(turnIndex)
	opts.Seed = &seed

	var (
		result  *llm.ChatResult
		lastErr error
		latency float64
	)
	for attempt := 0; attempt < s.cfg.TurnRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		// Latency covers the request only, never the backoff sleeps.
		start := time.Now()
		result, lastErr = s.client.Chat(ctx, b.Model, messages, opts)
		latency = float64(time.Since(start).Milliseconds())
		if lastErr == nil {
			break
		}

		te := TurnError{
			Turn:      turnIndex + 1,
			AgentID:   b.ID,
			Model:     b.Model,
			Kind:      errorKind(lastErr),
			Message:   lastErr.Error(),
			Attempt:   attempt + 1,
			Timestamp: time.Now().Format(time.RFC3339),
		}
		s.mu.Lock()
		s.turnErrs = append(s.turnErrs, te)
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.RecordTurnError(ctx, b.ID, te.Kind)
		}
		slog.Warn("turn generation failed",
			"session_id", s.cfg.ID, "agent", b.ID, "model", b.Model,
			"attempt", attempt+1, "err", lastErr)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if lastErr != nil {
		return fmt.Errorf("dialogue: agent %s exhausted %d attempts: %w",
			b.ID, s.cfg.TurnRetries, lastErr)
	}

	content := NewBleedStripper(b.Name).Strip(result.Content)
	embedding := s.embedBestEffort(content)

	if s.warmth != nil {
		s.warmth.Touch(b.Model)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	turn, err := s.logger.LogTurn(sessionlog.TurnInput{
		AgentID:          b.ID,
		AgentName:        b.Name,
		Content:          content,
		Model:            b.Model,
		Temperature:      opts.Temperature,
		LatencyMS:        latency,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		Embedding:        embedding,
	}, true)
	if err != nil {
		return err
	}

	s.history = append(s.history, HistoryEntry{
		AgentID:   b.ID,
		AgentName: b.Name,
		Content:   content,
	})
	s.completed++
	s.lastText = content

	if s.analyzer != nil {
		state := s.analyzer.ProcessTurn(b.ID, content, embedding)
		s.publishMetricsLocked(turn.TurnNumber, state)
	}

	s.bus.Publish(TurnEvent{
		Type:       "turn",
		TurnNumber: turn.TurnNumber,
		AgentID:    b.ID,
		AgentName:  b.Name,
		Content:    content,
		Model:      b.Model,
		LatencyMS:  latency,
		Color:      b.Color,
	})
	if s.metrics != nil {
		s.metrics.RecordTurn(context.Background(), b.ID, b.Model, latency/1000)
	}
	return nil
}

// publishMetricsLocked emits a metrics event every MetricsInterval dialogue
// turns. Called with s.mu held.
func (s *Session) publishMetricsLocked(turnNumber int, state analysis.TurnState) {
	interval := s.cfg.MetricsInterval
	if interval <= 0 {
		interval = 3
	}
	if s.completed%interval != 0 {
		return
	}
	s.bus.Publish(MetricsEvent{
		Type:                 "metrics",
		TurnNumber:           turnNumber,
		Basin:                state.Basin,
		BasinConfidence:      state.BasinConfidence,
		IntegrityScore:       state.IntegrityScore,
		IntegrityLabel:       state.IntegrityLabel,
		PsiSemantic:          state.PsiSemantic,
		PsiTemporal:          state.PsiTemporal,
		PsiAffective:         state.PsiAffective,
		VoiceDistinctiveness: state.VoiceDistinctiveness,
		VelocityMagnitude:    state.VelocityMagnitude,
	})
}

// embedBestEffort embeds content, returning nil on failure. Missing
// embeddings degrade analysis; they never fail a turn.
func (s *Session) embedBestEffort(content string) []float64 {
	if s.embedder == nil || content == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), embedBudget)
	defer cancel()
	v, err := s.embedder.Embed(ctx, content)
	if err != nil {
		slog.Warn("embedding failed", "session_id", s.cfg.ID, "err", err)
		return nil
	}
	return v
}

// finalize writes the final artifact, publishes the terminal state, and
// closes the bus. Idempotent.
func (s *Session) finalize(message string) {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return
	default:
	}
	s.state = StateComplete
	runErr := s.runErr
	s.mu.Unlock()

	path, err := s.logger.EndSession()
	if err != nil && !errors.Is(err, sessionlog.ErrNotStarted) {
		slog.Error("finalize session log failed", "session_id", s.cfg.ID, "err", err)
	}

	s.mu.Lock()
	s.final = path
	s.mu.Unlock()

	if message == "" && runErr != nil {
		message = runErr.Error()
	}
	s.bus.Publish(StateEvent{Type: "state", State: StateComplete, Message: message})
	close(s.done)
	s.bus.Close()

	slog.Info("session complete", "session_id", s.cfg.ID, "artifact", path)
}

// errorKind maps a backend error to its wire category.
func errorKind(err error) string {
	var be *llm.BackendError
	if errors.As(err, &be) {
		return string(be.Kind)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return string(llm.KindTimeout)
	}
	return string(llm.KindFatal)
}
