// Package sessionlog persists dialogue sessions.
//
// Every logged turn updates an in-memory [SessionRecord] and rewrites the
// checkpoint artifact session_<id>_checkpoint.json atomically
// (write-temp-then-rename), so a crash mid-turn always leaves a loadable
// checkpoint with n-1 complete turns. Ending the session writes the final
// session_<id>.json. Embeddings are stored inline in the JSON or, when
// inline storage is disabled for the session, in a binary sidecar
// session_<id>_embeddings.bin of row-major little-endian float64 rows.
package sessionlog

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrNotStarted is returned by operations that require an active session.
var ErrNotStarted = errors.New("sessionlog: session not started")

// TurnRecord is one immutable dialogue turn.
type TurnRecord struct {
	TurnNumber       int       `json:"turn_number"`
	AgentID          string    `json:"agent_id"`
	AgentName        string    `json:"agent_name"`
	Content          string    `json:"content"`
	Model            string    `json:"model"`
	Temperature      float64   `json:"temperature"`
	LatencyMS        float64   `json:"latency_ms"`
	PromptTokens     *int      `json:"prompt_tokens,omitempty"`
	CompletionTokens *int      `json:"completion_tokens,omitempty"`
	Timestamp        string    `json:"timestamp"`
	Embedding        []float64 `json:"embedding,omitempty"`
}

// SessionRecord is the complete persisted record of a session.
type SessionRecord struct {
	SessionID              string             `json:"session_id"`
	Mode                   string             `json:"mode"`
	ProvocationID          string             `json:"provocation_id,omitempty"`
	ProvocationText        string             `json:"provocation_text"`
	Seed                   int64              `json:"seed"`
	ConfigPath             string             `json:"config_path,omitempty"`
	StartTime              string             `json:"start_time"`
	EndTime                string             `json:"end_time,omitempty"`
	TotalLatencyMS         float64            `json:"total_latency_ms"`
	TotalTokens            int                `json:"total_tokens"`
	AgentTurnCounts        map[string]int     `json:"agent_turn_counts"`
	ModelAssignments       map[string]string  `json:"model_assignments"`
	TemperatureAssignments map[string]float64 `json:"temperature_assignments"`
	Turns                  []TurnRecord       `json:"turns"`
	EmbeddingsFile         string             `json:"embeddings_file,omitempty"`
}

// StartParams initialises a new session record.
type StartParams struct {
	Mode                   string
	ProvocationID          string
	ProvocationText        string
	Seed                   int64
	ConfigPath             string
	ModelAssignments       map[string]string
	TemperatureAssignments map[string]float64
}

// TurnInput is the caller-supplied part of a turn; the logger assigns the
// turn number and timestamp.
type TurnInput struct {
	AgentID          string
	AgentName        string
	Content          string
	Model            string
	Temperature      float64
	LatencyMS        float64
	PromptTokens     *int
	CompletionTokens *int
	Embedding        []float64
}

// Logger writes session artifacts under one directory. Single writer; the
// snapshot accessor may be called concurrently from HTTP handlers.
type Logger struct {
	dir         string
	sessionID   string
	embedInline bool

	mu         sync.Mutex
	session    *SessionRecord
	embeddings [][]float64 // sidecar rows when embedInline is false
}

// NewLogger creates a logger writing under dir. The directory is created if
// missing.
func NewLogger(dir, sessionID string, embedInline bool) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sessionlog: create dir %q: %w", dir, err)
	}
	return &Logger{dir: dir, sessionID: sessionID, embedInline: embedInline}, nil
}

// SessionID returns the session identifier.
func (l *Logger) SessionID() string { return l.sessionID }

// CheckpointPath returns the checkpoint artifact path.
func (l *Logger) CheckpointPath() string {
	return filepath.Join(l.dir, fmt.Sprintf("session_%s_checkpoint.json", l.sessionID))
}

// FinalPath returns the final artifact path written by EndSession.
func (l *Logger) FinalPath() string {
	return filepath.Join(l.dir, fmt.Sprintf("session_%s.json", l.sessionID))
}

func (l *Logger) embeddingsName() string {
	return fmt.Sprintf("session_%s_embeddings.bin", l.sessionID)
}

// StartSession initialises the in-memory record. Must be called before
// LogTurn.
func (l *Logger) StartSession(p StartParams) *SessionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.session = &SessionRecord{
		SessionID:              l.sessionID,
		Mode:                   p.Mode,
		ProvocationID:          p.ProvocationID,
		ProvocationText:        p.ProvocationText,
		Seed:                   p.Seed,
		ConfigPath:             p.ConfigPath,
		StartTime:              time.Now().Format(time.RFC3339),
		AgentTurnCounts:        make(map[string]int),
		ModelAssignments:       p.ModelAssignments,
		TemperatureAssignments: p.TemperatureAssignments,
	}
	l.embeddings = nil
	return l.session
}

// LogTurn appends a turn, assigns its number, updates aggregates, and
// rewrites the checkpoint artifact unless checkpoint is false (resume
// replay). The returned record is a copy.
func (l *Logger) LogTurn(in TurnInput, checkpoint bool) (TurnRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.session == nil {
		return TurnRecord{}, ErrNotStarted
	}

	turn := TurnRecord{
		TurnNumber:       len(l.session.Turns) + 1,
		AgentID:          in.AgentID,
		AgentName:        in.AgentName,
		Content:          in.Content,
		Model:            in.Model,
		Temperature:      in.Temperature,
		LatencyMS:        in.LatencyMS,
		PromptTokens:     in.PromptTokens,
		CompletionTokens: in.CompletionTokens,
		Timestamp:        time.Now().Format(time.RFC3339),
	}

	if in.Embedding != nil {
		if l.embedInline {
			turn.Embedding = in.Embedding
		} else {
			l.embeddings = append(l.embeddings, in.Embedding)
		}
	}

	l.session.Turns = append(l.session.Turns, turn)
	l.session.TotalLatencyMS += in.LatencyMS
	if in.PromptTokens != nil && in.CompletionTokens != nil {
		l.session.TotalTokens += *in.PromptTokens + *in.CompletionTokens
	}
	l.session.AgentTurnCounts[in.AgentID]++

	if checkpoint {
		if err := l.writeJSONLocked(l.CheckpointPath()); err != nil {
			return TurnRecord{}, err
		}
	}
	return turn, nil
}

// EndSession stamps end_time, writes the final JSON (and the embeddings
// sidecar when inline storage is off), and returns the final path.
func (l *Logger) EndSession() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.session == nil {
		return "", ErrNotStarted
	}

	l.session.EndTime = time.Now().Format(time.RFC3339)

	if !l.embedInline && len(l.embeddings) > 0 {
		l.session.EmbeddingsFile = l.embeddingsName()
		if err := writeEmbeddings(filepath.Join(l.dir, l.embeddingsName()), l.embeddings); err != nil {
			return "", err
		}
	}

	path := l.FinalPath()
	if err := l.writeJSONLocked(path); err != nil {
		return "", err
	}
	return path, nil
}

// Snapshot returns a deep-enough copy of the current record for read-only
// use by HTTP handlers.
func (l *Logger) Snapshot() *SessionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.session == nil {
		return nil
	}
	cp := *l.session
	cp.Turns = append([]TurnRecord(nil), l.session.Turns...)
	cp.AgentTurnCounts = make(map[string]int, len(l.session.AgentTurnCounts))
	for k, v := range l.session.AgentTurnCounts {
		cp.AgentTurnCounts[k] = v
	}
	return &cp
}

// writeJSONLocked writes the session record atomically. Must be called with
// l.mu held.
func (l *Logger) writeJSONLocked(path string) error {
	data, err := json.MarshalIndent(l.session, "", "  ")
	if err != nil {
		return fmt.Errorf("sessionlog: marshal session: %w", err)
	}
	return atomicWrite(path, data)
}

// atomicWrite writes data to path via a temp file and rename so readers
// never observe a partial artifact.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("sessionlog: create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sessionlog: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("sessionlog: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("sessionlog: rename %q: %w", path, err)
	}
	return nil
}

// writeEmbeddings writes rows as row-major little-endian float64.
func writeEmbeddings(path string, rows [][]float64) error {
	buf := make([]byte, 0, len(rows)*len(rows[0])*8)
	tmp := make([]byte, 8)
	for _, row := range rows {
		for _, v := range row {
			binary.LittleEndian.PutUint64(tmp, math.Float64bits(v))
			buf = append(buf, tmp...)
		}
	}
	return atomicWrite(path, buf)
}

// Load reads a session JSON artifact. When the record points at an
// embeddings sidecar, the vectors are read back into the turns that lack
// inline embeddings, in turn order.
func Load(path string) (*SessionRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sessionlog: read %q: %w", path, err)
	}
	var rec SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("sessionlog: parse %q: %w", path, err)
	}

	if rec.EmbeddingsFile != "" {
		rows, err := readEmbeddings(filepath.Join(filepath.Dir(path), rec.EmbeddingsFile), len(rec.Turns))
		if err == nil {
			i := 0
			for t := range rec.Turns {
				if rec.Turns[t].Embedding == nil && i < len(rows) {
					rec.Turns[t].Embedding = rows[i]
					i++
				}
			}
		}
	}
	return &rec, nil
}

// readEmbeddings reads up to maxRows row-major float64 vectors. The row
// width is inferred from the file size.
func readEmbeddings(path string, maxRows int) ([][]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if maxRows <= 0 || len(data)%8 != 0 {
		return nil, fmt.Errorf("sessionlog: malformed embeddings file %q", path)
	}
	total := len(data) / 8
	if total%maxRows != 0 {
		// Fewer rows than turns: some turns had no embedding. Infer width
		// from the greatest row count that divides evenly.
		for rows := maxRows - 1; rows > 0; rows-- {
			if total%rows == 0 {
				maxRows = rows
				break
			}
		}
	}
	dim := total / maxRows
	out := make([][]float64, maxRows)
	for r := 0; r < maxRows; r++ {
		row := make([]float64, dim)
		for c := 0; c < dim; c++ {
			bits := binary.LittleEndian.Uint64(data[(r*dim+c)*8:])
			row[c] = math.Float64frombits(bits)
		}
		out[r] = row
	}
	return out, nil
}
