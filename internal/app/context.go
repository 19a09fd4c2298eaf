// Package app wires the server's long-lived collaborators: the persona
// store, the backend client, the embedding client, and the registry of
// active sessions. Nothing here is package-level mutable state; everything
// hangs off one ServerContext.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agora-circle/agora/internal/analysis"
	"github.com/agora-circle/agora/internal/config"
	"github.com/agora-circle/agora/internal/dialogue"
	"github.com/agora-circle/agora/internal/llm"
	"github.com/agora-circle/agora/internal/observe"
	"github.com/agora-circle/agora/internal/persona"
	"github.com/agora-circle/agora/internal/resilience"
	"github.com/agora-circle/agora/internal/sessionlog"
)

// Persona roster bounds for one circle.
const (
	minCircleSize = 2
	maxCircleSize = 7
)

// fallbackColor is used when a persona document does not set one.
const fallbackColor = "#888888"

// ErrBackendDown marks a session start attempted while the backend is
// unreachable.
var ErrBackendDown = errors.New("app: llm backend is not running")

// ErrSessionNotFound is returned for unknown session ids.
var ErrSessionNotFound = errors.New("app: session not found")

// ValidationError wraps request-shape problems so handlers can answer 400.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ServerContext owns the long-lived collaborators shared across requests.
type ServerContext struct {
	Cfg      *config.Config
	Personas *persona.Store
	Client   *llm.Client
	Metrics  *observe.Metrics

	mu       sync.Mutex
	embedder *llm.Embedder
	sessions map[string]*dialogue.Session
}

// New builds the server context: persona store from the configured
// directories and a backend client behind a circuit breaker.
func New(cfg *config.Config, metrics *observe.Metrics) (*ServerContext, error) {
	store, err := persona.NewStore(cfg.Storage.PersonasDir, cfg.Storage.TemplatesDir)
	if err != nil {
		return nil, err
	}

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name: "llm-backend",
	})
	client := llm.NewClient(llm.ClientConfig{
		BaseURL:        cfg.Backend.BaseURL,
		RequestTimeout: cfg.Backend.RequestTimeout,
		MaxRetries:     cfg.Backend.MaxRetries,
		Breaker:        breaker,
		Metrics:        metrics,
	})

	return &ServerContext{
		Cfg:      cfg,
		Personas: store,
		Client:   client,
		Metrics:  metrics,
		sessions: make(map[string]*dialogue.Session),
	}, nil
}

// Embedder returns the shared embedding client, constructing it on first
// use. Nil when no embedding model is configured.
func (c *ServerContext) Embedder() *llm.Embedder {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.embedder == nil && c.Cfg.Backend.EmbeddingModel != "" {
		c.embedder = llm.NewEmbedder(c.Client, c.Cfg.Backend.EmbeddingModel, c.Metrics)
	}
	return c.embedder
}

// Session looks up an active session by id.
func (c *ServerContext) Session(id string) (*dialogue.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	return s, nil
}

// ActiveSessions counts sessions that have not completed.
func (c *ServerContext) ActiveSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	for _, s := range c.sessions {
		if s.State() != dialogue.StateComplete {
			n++
		}
	}
	return n
}

// StartParams shapes one session start request.
type StartParams struct {
	Provocation   string
	ProvocationID string
	Personas      []string
	IncludeHuman  bool
	HumanHandle   string
	Seed          *int64
	EnsemblePath  string
	ResumeFrom    string
}

// AgentInfo describes one bound agent to API clients.
type AgentInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Model string `json:"model"`
	Color string `json:"color"`
}

// StartSession validates the request, binds personas to models, builds a
// session, and launches its generation loop.
func (c *ServerContext) StartSession(ctx context.Context, p StartParams) (*dialogue.Session, []AgentInfo, error) {
	if p.Provocation == "" {
		return nil, nil, validationf("provocation is required")
	}
	if !c.Client.IsRunning(ctx) {
		return nil, nil, ErrBackendDown
	}

	ensemblePath := p.EnsemblePath
	if ensemblePath == "" {
		ensemblePath = c.Cfg.Storage.EnsemblePath
	}
	ensemble, err := config.LoadEnsemble(ensemblePath)
	if err != nil {
		return nil, nil, err
	}

	ids := p.Personas
	if len(ids) == 0 {
		for id := range ensemble.Agents {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	}
	if len(ids) < minCircleSize || len(ids) > maxCircleSize {
		return nil, nil, validationf("a circle needs %d to %d personas, got %d",
			minCircleSize, maxCircleSize, len(ids))
	}

	bindings, infos, err := c.buildBindings(ids, ensemble, p.IncludeHuman)
	if err != nil {
		return nil, nil, err
	}

	models := make([]string, 0, len(bindings))
	seen := make(map[string]bool)
	for _, b := range bindings {
		if !seen[b.Model] {
			seen[b.Model] = true
			models = append(models, b.Model)
		}
	}
	missing, err := c.Client.ValidateModels(ctx, models)
	if err != nil {
		return nil, nil, err
	}
	if len(missing) > 0 {
		return nil, nil, validationf("models not available on backend: %v", missing)
	}

	seed := time.Now().UnixNano()
	if p.Seed != nil {
		seed = *p.Seed
	}

	maxTurns := c.Cfg.Dialogue.MaxTurns
	if ensemble.Dialogue.MaxTurns > 0 {
		maxTurns = ensemble.Dialogue.MaxTurns
	}
	window := c.Cfg.Dialogue.ContextWindow
	if ensemble.Dialogue.ContextWindow > 0 {
		window = ensemble.Dialogue.ContextWindow
	}

	sessionID := newSessionID()
	logger, err := sessionlog.NewLogger(c.Cfg.Storage.DataDir, sessionID, *c.Cfg.Storage.EmbedInline)
	if err != nil {
		return nil, nil, err
	}

	var analyzer *analysis.Analyzer
	if c.Cfg.Dialogue.MetricsInterval > 0 {
		analyzer = analysis.NewAnalyzer(seed)
	}

	var warmth *llm.WarmthManager
	if c.Cfg.Backend.WarmthInterval > 0 {
		warmth = llm.NewWarmthManager(c.Client, models, c.Cfg.Backend.WarmthInterval)
	}

	sess := dialogue.NewSession(dialogue.SessionConfig{
		ID:              sessionID,
		Mode:            string(ensemble.Mode),
		ProvocationID:   p.ProvocationID,
		Provocation:     p.Provocation,
		Seed:            seed,
		ConfigPath:      ensemblePath,
		MaxTurns:        maxTurns,
		ContextWindow:   window,
		Cooldown:        *c.Cfg.Dialogue.Cooldown,
		TurnRetries:     c.Cfg.Dialogue.TurnRetries,
		MetricsInterval: c.Cfg.Dialogue.MetricsInterval,
		OpeningAgent:    ensemble.Dialogue.OpeningAgent,
		HumanEnabled:    p.IncludeHuman,
		HumanHandle:     p.HumanHandle,
	}, bindings, dialogue.SessionDeps{
		Client:   c.Client,
		Embedder: embedderOrNil(c.Embedder()),
		Analyzer: analyzer,
		Warmth:   warmth,
		Metrics:  c.Metrics,
		Logger:   logger,
		Bus:      dialogue.NewBus(c.Cfg.Dialogue.EventBuffer),
	})

	if p.ResumeFrom != "" {
		rec, err := sessionlog.Load(p.ResumeFrom)
		if err != nil {
			return nil, nil, err
		}
		if err := sess.Replay(rec); err != nil {
			return nil, nil, err
		}
	}

	if warmth != nil {
		warmth.Start(context.Background())
	}
	if err := sess.Start(context.Background()); err != nil {
		if warmth != nil {
			warmth.Stop()
		}
		return nil, nil, err
	}
	go func() {
		<-sess.Done()
		if warmth != nil {
			warmth.Stop()
		}
	}()

	c.mu.Lock()
	c.sessions[sessionID] = sess
	c.mu.Unlock()

	slog.Info("session started",
		"session_id", sessionID, "personas", ids, "seed", seed,
		"max_turns", maxTurns, "human", p.IncludeHuman)
	return sess, infos, nil
}

// buildBindings resolves each persona id into a model binding with its
// composed system prompt and sampling parameters.
func (c *ServerContext) buildBindings(ids []string, ensemble *config.EnsembleConfig, includeHuman bool) ([]dialogue.AgentBinding, []AgentInfo, error) {
	participants := make([]persona.Participant, 0, len(ids)+1)
	for _, id := range ids {
		p, err := c.Personas.Persona(id)
		if err != nil {
			return nil, nil, validationf("unknown persona %q", id)
		}
		participants = append(participants, persona.Participant{ID: id, Name: p.Name})
	}
	if includeHuman {
		participants = append(participants, persona.Participant{
			ID: dialogue.HumanID, Name: "You", Human: true,
		})
	}

	personalityOn := ensemble.PersonalityEnabled == nil || *ensemble.PersonalityEnabled

	bindings := make([]dialogue.AgentBinding, 0, len(ids))
	infos := make([]AgentInfo, 0, len(ids))
	for _, id := range ids {
		p, _ := c.Personas.Persona(id)

		model := ensemble.ModelFor(id)
		if model == "" {
			return nil, nil, validationf("no model configured for persona %q", id)
		}

		prompt, err := c.Personas.SystemPrompt(id, participants)
		if err != nil {
			return nil, nil, err
		}

		baseTemp := ensemble.TemperatureFor(id)
		opts := llm.Options{Temperature: baseTemp}
		if personalityOn {
			personality, err := c.Personas.PersonalityOf(id)
			if err != nil {
				return nil, nil, err
			}
			sp := personality.ToSamplingParams()
			opts.Temperature = sp.Temperature
			opts.TopP = &sp.TopP
			opts.RepeatPenalty = &sp.RepeatPenalty
		}

		color := p.Color
		if color == "" {
			color = fallbackColor
		}

		bindings = append(bindings, dialogue.AgentBinding{
			ID:           id,
			Name:         p.Name,
			Model:        model,
			Temperature:  baseTemp,
			SystemPrompt: prompt,
			Sampling:     opts,
			Color:        color,
		})
		infos = append(infos, AgentInfo{ID: id, Name: p.Name, Model: model, Color: color})
	}
	return bindings, infos, nil
}

// EndAll stops every active session; used during server shutdown.
func (c *ServerContext) EndAll() {
	c.mu.Lock()
	sessions := make([]*dialogue.Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		if err := s.End(); err != nil {
			slog.Warn("end session on shutdown failed", "session_id", s.ID(), "err", err)
		}
	}
}

// DataDir returns the artifact directory.
func (c *ServerContext) DataDir() string { return c.Cfg.Storage.DataDir }

// AnalysisPath is the cached summary artifact for one session.
func (c *ServerContext) AnalysisPath(sessionID string) string {
	return filepath.Join(c.Cfg.Storage.DataDir, fmt.Sprintf("session_%s_analysis.json", sessionID))
}

// embedderOrNil keeps a typed nil out of the interface field.
func embedderOrNil(e *llm.Embedder) dialogue.Embedder {
	if e == nil {
		return nil
	}
	return e
}

// newSessionID derives a sortable timestamp id with a short random suffix
// so two sessions started within one second stay distinct.
func newSessionID() string {
	return time.Now().Format("20060102_150405") + "_" + uuid.NewString()[:8]
}
