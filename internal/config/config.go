// Package config defines the YAML configuration schema for the Agora server
// and the ensemble documents that describe a dialogue circle.
package config

import (
	"sort"
	"time"
)

// LogLevel is the configured slog level.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Mode selects how backing models are assigned to agents.
type Mode string

const (
	// ModeSingleModel runs every agent on the ensemble's shared model.
	ModeSingleModel Mode = "single_model"

	// ModeMultiModel gives each agent its own backing model.
	ModeMultiModel Mode = "multi_model"
)

// IsValid reports whether m is a recognised ensemble mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeSingleModel, ModeMultiModel:
		return true
	}
	return false
}

// Config is the top-level server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Backend  BackendConfig  `yaml:"backend"`
	Dialogue DialogueConfig `yaml:"dialogue"`
	Storage  StorageConfig  `yaml:"storage"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// ListenAddr is the address the HTTP server binds to. Default: ":8420".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls slog verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level"`

	// CORSOrigins lists allowed cross-origin hosts. Empty allows all
	// origins, which suits the local research setup this server targets.
	CORSOrigins []string `yaml:"cors_origins"`
}

// BackendConfig describes the ollama-compatible LLM backend.
type BackendConfig struct {
	// BaseURL is the backend root, e.g. "http://localhost:11434".
	BaseURL string `yaml:"base_url"`

	// RequestTimeout bounds a single chat request. Default: 600s, since
	// local models can be very slow on first load.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxRetries is the per-request retry budget for transient failures.
	// Default: 3.
	MaxRetries int `yaml:"max_retries"`

	// EmbeddingModel is the model used for turn embeddings. Empty disables
	// embedding computation.
	EmbeddingModel string `yaml:"embedding_model"`

	// WarmthInterval is how often idle models receive a warm ping.
	// Default: 4m.
	WarmthInterval time.Duration `yaml:"warmth_interval"`
}

// DialogueConfig holds engine-level defaults that apply to every session
// unless the ensemble document overrides them.
type DialogueConfig struct {
	// MaxTurns is the default session length. Default: 21.
	MaxTurns int `yaml:"max_turns"`

	// ContextWindow is how many prior turns each agent sees. Default: 5.
	ContextWindow int `yaml:"context_window"`

	// Cooldown is how many of the most recent speakers are ineligible for
	// the next turn. Default: 2.
	Cooldown *int `yaml:"cooldown"`

	// TurnRetries is the loop-level retry budget per turn, applied after
	// the HTTP client has exhausted its own retries. Default: 3.
	TurnRetries int `yaml:"turn_retries"`

	// MetricsInterval emits a metrics event every N turns. Negative
	// disables streaming analysis. Default: 3.
	MetricsInterval int `yaml:"metrics_interval"`

	// EventBuffer is the bounded capacity of a session's event bus.
	// Default: 256.
	EventBuffer int `yaml:"event_buffer"`

	// StreamKeepalive is the idle window after which the SSE transport
	// writes a keepalive comment. Default: 5s.
	StreamKeepalive time.Duration `yaml:"stream_keepalive"`
}

// StorageConfig holds filesystem layout settings.
type StorageConfig struct {
	// DataDir is where session artifacts are written. Default:
	// "experiments/runs".
	DataDir string `yaml:"data_dir"`

	// PersonasDir holds persona YAML documents. Default: "config/personas".
	PersonasDir string `yaml:"personas_dir"`

	// TemplatesDir holds template YAML documents. Default:
	// "config/templates".
	TemplatesDir string `yaml:"templates_dir"`

	// EnsemblePath is the default ensemble document used when a session
	// start request does not name one. Default: "config/ensemble.yaml".
	EnsemblePath string `yaml:"ensemble_path"`

	// EmbedInline stores embeddings inside the session JSON. When false a
	// binary sidecar file is written instead. Default: true.
	EmbedInline *bool `yaml:"embed_inline"`
}

// EnsembleConfig describes one dialogue circle: which personas speak, which
// models back them, and the dialogue shape.
type EnsembleConfig struct {
	Mode        Mode                   `yaml:"mode"`
	SharedModel string                 `yaml:"shared_model"`
	Agents      map[string]AgentConfig `yaml:"agents"`
	Dialogue    EnsembleDialogue       `yaml:"dialogue"`

	// PersonalityEnabled overlays each persona's OCEAN-derived sampling
	// parameters on top of the configured temperature. Default: true.
	PersonalityEnabled *bool `yaml:"personality_enabled"`
}

// EnsembleDialogue overrides engine dialogue defaults for one ensemble.
type EnsembleDialogue struct {
	MaxTurns      int    `yaml:"max_turns"`
	ContextWindow int    `yaml:"context_window"`
	OpeningAgent  string `yaml:"opening_agent"`
}

// defaultAgentTemperature is applied when an agent entry does not set one.
const defaultAgentTemperature = 0.7

// AgentConfig binds one persona to a model and temperature. In YAML it may
// be either a mapping or a bare model string:
//
//	agents:
//	  luma: "phi3:latest"
//	  orin:
//	    model: "mistral:latest"
//	    temperature: 0.5
type AgentConfig struct {
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
}

// UnmarshalYAML accepts both the mapping and the shorthand string form.
func (a *AgentConfig) UnmarshalYAML(unmarshal func(any) error) error {
	var model string
	if err := unmarshal(&model); err == nil {
		a.Model = model
		a.Temperature = defaultAgentTemperature
		return nil
	}

	type plain AgentConfig
	var p plain
	if err := unmarshal(&p); err != nil {
		return err
	}
	*a = AgentConfig(p)
	if a.Temperature == 0 {
		a.Temperature = defaultAgentTemperature
	}
	return nil
}

// ModelFor resolves the backing model for agentID according to the mode.
func (e *EnsembleConfig) ModelFor(agentID string) string {
	if e.Mode == ModeSingleModel && e.SharedModel != "" {
		return e.SharedModel
	}
	if a, ok := e.Agents[agentID]; ok && a.Model != "" {
		return a.Model
	}
	return e.SharedModel
}

// TemperatureFor resolves the base temperature for agentID.
func (e *EnsembleConfig) TemperatureFor(agentID string) float64 {
	if a, ok := e.Agents[agentID]; ok && a.Temperature != 0 {
		return a.Temperature
	}
	return defaultAgentTemperature
}

// Models returns the distinct backing models across the ensemble, in a
// stable order.
func (e *EnsembleConfig) Models() []string {
	seen := make(map[string]struct{})
	var models []string
	add := func(m string) {
		if m == "" {
			return
		}
		if _, ok := seen[m]; ok {
			return
		}
		seen[m] = struct{}{}
		models = append(models, m)
	}
	if e.Mode == ModeSingleModel {
		add(e.SharedModel)
		return models
	}
	for _, id := range sortedKeys(e.Agents) {
		add(e.Agents[id].Model)
	}
	add(e.SharedModel)
	return models
}

func sortedKeys(m map[string]AgentConfig) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// applyDefaults fills zero-valued fields with documented defaults.
func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8420"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = "http://localhost:11434"
	}
	if c.Backend.RequestTimeout <= 0 {
		c.Backend.RequestTimeout = 600 * time.Second
	}
	if c.Backend.MaxRetries <= 0 {
		c.Backend.MaxRetries = 3
	}
	if c.Backend.WarmthInterval <= 0 {
		c.Backend.WarmthInterval = 4 * time.Minute
	}
	if c.Dialogue.MaxTurns <= 0 {
		c.Dialogue.MaxTurns = 21
	}
	if c.Dialogue.ContextWindow <= 0 {
		c.Dialogue.ContextWindow = 5
	}
	if c.Dialogue.Cooldown == nil {
		two := 2
		c.Dialogue.Cooldown = &two
	}
	if c.Dialogue.TurnRetries <= 0 {
		c.Dialogue.TurnRetries = 3
	}
	if c.Dialogue.MetricsInterval == 0 {
		c.Dialogue.MetricsInterval = 3
	}
	if c.Dialogue.EventBuffer <= 0 {
		c.Dialogue.EventBuffer = 256
	}
	if c.Dialogue.StreamKeepalive <= 0 {
		c.Dialogue.StreamKeepalive = 5 * time.Second
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "experiments/runs"
	}
	if c.Storage.PersonasDir == "" {
		c.Storage.PersonasDir = "config/personas"
	}
	if c.Storage.TemplatesDir == "" {
		c.Storage.TemplatesDir = "config/templates"
	}
	if c.Storage.EnsemblePath == "" {
		c.Storage.EnsemblePath = "config/ensemble.yaml"
	}
	if c.Storage.EmbedInline == nil {
		t := true
		c.Storage.EmbedInline = &t
	}
}
