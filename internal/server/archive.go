package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/agora-circle/agora/internal/analysis"
	"github.com/agora-circle/agora/internal/sessionlog"
)

// sessionEntry is one row of the /sessions listing.
type sessionEntry struct {
	SessionID   string `json:"session_id"`
	Provocation string `json:"provocation"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time,omitempty"`
	Turns       int    `json:"turns"`
	Complete    bool   `json:"complete"`
	HasAnalysis bool   `json:"has_analysis"`
}

// handleSessions lists every persisted session under the data directory,
// preferring the final artifact over the checkpoint.
func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	dir := s.ctx.DataDir()
	paths, err := filepath.Glob(filepath.Join(dir, "session_*.json"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type artifact struct {
		final      string
		checkpoint string
		analysis   bool
	}
	byID := make(map[string]*artifact)
	get := func(id string) *artifact {
		a, ok := byID[id]
		if !ok {
			a = &artifact{}
			byID[id] = a
		}
		return a
	}
	for _, p := range paths {
		name := strings.TrimSuffix(filepath.Base(p), ".json")
		name = strings.TrimPrefix(name, "session_")
		switch {
		case strings.HasSuffix(name, "_checkpoint"):
			get(strings.TrimSuffix(name, "_checkpoint")).checkpoint = p
		case strings.HasSuffix(name, "_analysis"):
			get(strings.TrimSuffix(name, "_analysis")).analysis = true
		default:
			get(name).final = p
		}
	}

	entries := make([]sessionEntry, 0, len(byID))
	for id, a := range byID {
		path := a.final
		if path == "" {
			path = a.checkpoint
		}
		if path == "" {
			continue
		}
		rec, err := sessionlog.Load(path)
		if err != nil {
			continue
		}
		entries = append(entries, sessionEntry{
			SessionID:   id,
			Provocation: rec.ProvocationText,
			StartTime:   rec.StartTime,
			EndTime:     rec.EndTime,
			Turns:       len(rec.Turns),
			Complete:    a.final != "",
			HasAnalysis: a.analysis,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].SessionID > entries[j].SessionID
	})

	writeJSON(w, http.StatusOK, map[string]any{"sessions": entries})
}

// handleAnalysis serves the session summary, computing and caching it on
// first request. Live sessions are summarized from the streaming analyzer;
// archived ones are rebuilt from the persisted record.
func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cachePath := s.ctx.AnalysisPath(id)

	if sess, err := s.ctx.Session(id); err == nil && sess.Analyzer() != nil {
		summary := sess.Analyzer().Summarize(true)
		s.cacheAnalysis(cachePath, summary)
		writeJSON(w, http.StatusOK, summary)
		return
	}

	if raw, err := os.ReadFile(cachePath); err == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(raw)
		return
	}

	rec, ok := s.loadRecord(w, id)
	if !ok {
		return
	}
	summary := replayAnalysis(rec)
	s.cacheAnalysis(cachePath, summary)
	writeJSON(w, http.StatusOK, summary)
}

// replayAnalysis rebuilds the streaming analyzer state from a persisted
// record. Interjections never reached the analyzer live, so they are skipped
// here too.
func replayAnalysis(rec *sessionlog.SessionRecord) *analysis.Summary {
	a := analysis.NewAnalyzer(rec.Seed)
	for _, t := range rec.Turns {
		if t.Model == "n/a" {
			continue
		}
		a.ProcessTurn(t.AgentID, t.Content, t.Embedding)
	}
	return a.Summarize(true)
}

func (s *Server) cacheAnalysis(path string, summary *analysis.Summary) {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return
	}
	os.WriteFile(path, data, 0o644)
}

// dialogueTurn is one row of the plain transcript view.
type dialogueTurn struct {
	TurnNumber int    `json:"turn_number"`
	AgentID    string `json:"agent_id"`
	AgentName  string `json:"agent_name"`
	Content    string `json:"content"`
}

// handleDialogue serves the bare transcript of a persisted session.
func (s *Server) handleDialogue(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRecord(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	turns := make([]dialogueTurn, 0, len(rec.Turns))
	for _, t := range rec.Turns {
		turns = append(turns, dialogueTurn{
			TurnNumber: t.TurnNumber,
			AgentID:    t.AgentID,
			AgentName:  t.AgentName,
			Content:    t.Content,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":  rec.SessionID,
		"provocation": rec.ProvocationText,
		"turns":       turns,
	})
}

// loadRecord reads a persisted session, preferring the final artifact.
func (s *Server) loadRecord(w http.ResponseWriter, id string) (*sessionlog.SessionRecord, bool) {
	dir := s.ctx.DataDir()
	for _, name := range []string{
		"session_" + id + ".json",
		"session_" + id + "_checkpoint.json",
	} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		rec, err := sessionlog.Load(path)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return nil, false
		}
		return rec, true
	}
	writeError(w, http.StatusNotFound, "no session artifact for "+id)
	return nil, false
}
