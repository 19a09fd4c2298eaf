package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/agora-circle/agora/internal/dialogue"
)

// handleStream attaches an SSE observer to a session's event bus. The
// stream carries `event:`/`data:` frames and a `: keepalive` comment when no
// event arrives within the configured idle window. It ends after the
// terminal state frame or when the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	observerID := uuid.NewString()
	s.ctx.Metrics.ActiveObservers.Add(r.Context(), 1)
	defer s.ctx.Metrics.ActiveObservers.Add(r.Context(), -1)
	slog.Debug("observer attached", "session_id", sess.ID(), "observer", observerID)
	defer slog.Debug("observer detached", "session_id", sess.ID(), "observer", observerID)

	bus := sess.Bus()
	keepalive := s.ctx.Cfg.Dialogue.StreamKeepalive

	for {
		select {
		case <-r.Context().Done():
			return
		default:
		}

		ev, ok := bus.Next(keepalive)
		if !ok {
			if sess.State() == dialogue.StateComplete && bus.Len() == 0 {
				return
			}
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
			continue
		}

		if err := writeEvent(w, ev); err != nil {
			return
		}
		flusher.Flush()

		if st, ok := ev.(dialogue.StateEvent); ok && st.State == dialogue.StateComplete {
			return
		}
	}
}

// writeEvent serializes one frame: event type line, data line, blank line.
func writeEvent(w http.ResponseWriter, ev dialogue.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.EventType(), data)
	return err
}
