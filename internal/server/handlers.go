package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agora-circle/agora/internal/app"
	"github.com/agora-circle/agora/internal/dialogue"
	"github.com/agora-circle/agora/internal/persona"
	"github.com/agora-circle/agora/internal/sessionlog"
)

// handleStatus reports backend liveness and session load.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	running := s.ctx.Client.IsRunning(r.Context())

	var models []string
	if running {
		if m, err := s.ctx.Client.AvailableModels(r.Context()); err == nil {
			models = m
		}
	}
	if models == nil {
		models = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"running_backend":  running,
		"available_models": models,
		"active_sessions":  s.ctx.ActiveSessions(),
	})
}

// agentEntry is one row of the /agents catalog.
type agentEntry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Color    string `json:"color"`
	Template string `json:"template,omitempty"`
	Human    bool   `json:"human,omitempty"`
}

// handleAgents lists the configured personas plus the human slot.
func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	personas := s.ctx.Personas.Personas()
	entries := make([]agentEntry, 0, len(personas)+1)
	for _, p := range personas {
		entries = append(entries, agentEntry{
			ID:       p.ID,
			Name:     p.Name,
			Color:    p.Color,
			Template: p.Template,
		})
	}
	entries = append(entries, agentEntry{
		ID:    dialogue.HumanID,
		Name:  "You",
		Color: "#B49070",
		Human: true,
	})
	writeJSON(w, http.StatusOK, map[string]any{"agents": entries})
}

func (s *Server) handlePersonas(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"personas": s.ctx.Personas.Personas()})
}

func (s *Server) handlePersona(w http.ResponseWriter, r *http.Request) {
	p, err := s.ctx.Personas.Persona(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, persona.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleTemplates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"templates": s.ctx.Personas.Templates()})
}

func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := s.ctx.Personas.Template(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, persona.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// startRequest is the /session/start body.
type startRequest struct {
	Provocation   string   `json:"provocation"`
	ProvocationID string   `json:"provocation_id"`
	Personas      []string `json:"personas"`
	IncludeHuman  bool     `json:"include_human"`
	HumanHandle   string   `json:"human_handle"`
	Seed          *int64   `json:"seed"`
	Config        string   `json:"config"`
	ResumeFrom    string   `json:"resume_from"`
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}

	sess, agents, err := s.ctx.StartSession(r.Context(), app.StartParams{
		Provocation:   req.Provocation,
		ProvocationID: req.ProvocationID,
		Personas:      req.Personas,
		IncludeHuman:  req.IncludeHuman,
		HumanHandle:   req.HumanHandle,
		Seed:          req.Seed,
		EnsemblePath:  req.Config,
		ResumeFrom:    req.ResumeFrom,
	})
	if err != nil {
		var ve *app.ValidationError
		switch {
		case errors.As(err, &ve):
			writeError(w, http.StatusBadRequest, ve.Msg)
		case errors.Is(err, app.ErrBackendDown):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID(),
		"agents":     agents,
	})
}

// historyTurn is one transcript row in the state snapshot.
type historyTurn struct {
	TurnNumber int     `json:"turn_number"`
	AgentID    string  `json:"agent_id"`
	AgentName  string  `json:"agent_name"`
	Content    string  `json:"content"`
	Model      string  `json:"model"`
	LatencyMS  float64 `json:"latency_ms"`
	Color      string  `json:"color"`
}

// handleSessionState returns the controller snapshot plus the transcript.
func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	status := sess.Status()
	var turns []historyTurn
	if rec := sess.Logger().Snapshot(); rec != nil {
		turns = make([]historyTurn, 0, len(rec.Turns))
		for _, t := range rec.Turns {
			turns = append(turns, historyTurn{
				TurnNumber: t.TurnNumber,
				AgentID:    t.AgentID,
				AgentName:  t.AgentName,
				Content:    t.Content,
				Model:      t.Model,
				LatencyMS:  t.LatencyMS,
				Color:      sess.ColorOf(t.AgentID),
			})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":        status.SessionID,
		"state":             status.State,
		"provocation":       status.Provocation,
		"turn_count":        status.TurnCount,
		"max_turns":         status.MaxTurns,
		"next_speaker":      status.NextSpeaker,
		"agent_turn_counts": status.TurnCounts,
		"turn_errors":       status.TurnErrors,
		"history":           turns,
	})
}

type controlOp int

const (
	controlPause controlOp = iota
	controlResume
	controlContinue
)

// control builds a handler for the body-less control operations.
func (s *Server) control(op controlOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.lookup(w, r)
		if !ok {
			return
		}

		var err error
		switch op {
		case controlPause:
			err = sess.Pause()
		case controlResume:
			err = sess.Resume()
		case controlContinue:
			err = sess.Continue()
		}
		s.controlReply(w, sess, err)
	}
}

func (s *Server) handleHuman(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	s.controlReply(w, sess, sess.SubmitHuman(body.Content))
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var body struct {
		AgentID string `json:"agent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}
	s.controlReply(w, sess, sess.Invoke(body.AgentID))
}

func (s *Server) handleInject(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	s.controlReply(w, sess, sess.Inject(body.Content))
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := sess.End(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":      sess.State(),
		"final_path": sess.FinalPath(),
	})
}

// lookup resolves the {id} route parameter to an active session.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*dialogue.Session, bool) {
	sess, err := s.ctx.Session(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return sess, true
}

// controlReply maps controller errors to the error envelope.
func (s *Server) controlReply(w http.ResponseWriter, sess *dialogue.Session, err error) {
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, dialogue.ErrBadState) || errors.Is(err, dialogue.ErrUnknownAgent) {
			status = http.StatusBadRequest
		}
		if errors.Is(err, sessionlog.ErrNotStarted) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": sess.State()})
}
