package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.ListenAddr != ":8420" {
		t.Errorf("listen addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != LogInfo {
		t.Errorf("log level = %q", cfg.Server.LogLevel)
	}
	if cfg.Backend.BaseURL != "http://localhost:11434" {
		t.Errorf("base url = %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.RequestTimeout != 600*time.Second {
		t.Errorf("request timeout = %v", cfg.Backend.RequestTimeout)
	}
	if cfg.Backend.WarmthInterval != 4*time.Minute {
		t.Errorf("warmth interval = %v", cfg.Backend.WarmthInterval)
	}
	if cfg.Dialogue.MaxTurns != 21 || cfg.Dialogue.ContextWindow != 5 {
		t.Errorf("dialogue = %+v", cfg.Dialogue)
	}
	if cfg.Dialogue.Cooldown == nil || *cfg.Dialogue.Cooldown != 2 {
		t.Errorf("cooldown = %v", cfg.Dialogue.Cooldown)
	}
	if cfg.Dialogue.StreamKeepalive != 5*time.Second {
		t.Errorf("keepalive = %v", cfg.Dialogue.StreamKeepalive)
	}
	if cfg.Storage.DataDir != "experiments/runs" {
		t.Errorf("data dir = %q", cfg.Storage.DataDir)
	}
	if cfg.Storage.EnsemblePath != "config/ensemble.yaml" {
		t.Errorf("ensemble path = %q", cfg.Storage.EnsemblePath)
	}
	if cfg.Storage.EmbedInline == nil || !*cfg.Storage.EmbedInline {
		t.Errorf("embed inline = %v", cfg.Storage.EmbedInline)
	}
}

func TestLoadExplicitValues(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(`
server:
  listen_addr: ":9000"
  log_level: debug
dialogue:
  cooldown: 0
  max_turns: 7
storage:
  embed_inline: false
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.ListenAddr != ":9000" || cfg.Server.LogLevel != LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	// An explicit zero cooldown must survive defaulting.
	if cfg.Dialogue.Cooldown == nil || *cfg.Dialogue.Cooldown != 0 {
		t.Errorf("cooldown = %v", cfg.Dialogue.Cooldown)
	}
	if cfg.Dialogue.MaxTurns != 7 {
		t.Errorf("max turns = %d", cfg.Dialogue.MaxTurns)
	}
	if *cfg.Storage.EmbedInline {
		t.Error("embed_inline: false ignored")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := LoadFromReader(strings.NewReader(`
server:
  listen_adr: ":9000"
`))
	if err == nil {
		t.Fatal("misspelled key accepted")
	}
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	t.Parallel()

	_, err := LoadFromReader(strings.NewReader(`
server:
  log_level: verbose
`))
	if err == nil || !strings.Contains(err.Error(), "log_level") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	t.Parallel()

	neg := -3
	cfg := &Config{}
	cfg.Server.LogLevel = "loud"
	cfg.Dialogue.Cooldown = &neg

	err := Validate(cfg)
	if err == nil {
		t.Fatal("invalid config accepted")
	}
	msg := err.Error()
	for _, want := range []string{"log_level", "base_url", "cooldown"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q missing %q", msg, want)
		}
	}
}

func TestLoadEnsembleAgentForms(t *testing.T) {
	t.Parallel()

	ec, err := LoadEnsembleFromReader(strings.NewReader(`
mode: multi_model
agents:
  luma: "phi3:latest"
  orin:
    model: "mistral:latest"
    temperature: 0.5
`))
	if err != nil {
		t.Fatal(err)
	}

	// Shorthand string form gets the default temperature.
	if a := ec.Agents["luma"]; a.Model != "phi3:latest" || a.Temperature != defaultAgentTemperature {
		t.Errorf("luma = %+v", a)
	}
	if a := ec.Agents["orin"]; a.Model != "mistral:latest" || a.Temperature != 0.5 {
		t.Errorf("orin = %+v", a)
	}
}

func TestEnsembleValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		yaml string
	}{
		{"no agents", "mode: multi_model\n"},
		{"bad mode", "mode: duet\nagents:\n  a: \"m\"\n"},
		{"single model without shared", "mode: single_model\nagents:\n  a: \"m\"\n"},
		{"unknown opening agent", "mode: multi_model\nagents:\n  a: \"m\"\ndialogue:\n  opening_agent: ghost\n"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := LoadEnsembleFromReader(strings.NewReader(tc.yaml)); err == nil {
				t.Fatal("invalid ensemble accepted")
			}
		})
	}
}

func TestEnsembleDefaultsToMultiModel(t *testing.T) {
	t.Parallel()

	ec, err := LoadEnsembleFromReader(strings.NewReader(`
agents:
  a: "m1"
`))
	if err != nil {
		t.Fatal(err)
	}
	if ec.Mode != ModeMultiModel {
		t.Errorf("mode = %q", ec.Mode)
	}
}

func TestEnsembleModelResolution(t *testing.T) {
	t.Parallel()

	ec := &EnsembleConfig{
		Mode:        ModeSingleModel,
		SharedModel: "shared:latest",
		Agents: map[string]AgentConfig{
			"a": {Model: "own:latest", Temperature: 0.4},
		},
	}
	if got := ec.ModelFor("a"); got != "shared:latest" {
		t.Errorf("single-model resolution = %q", got)
	}
	if got := ec.Models(); len(got) != 1 || got[0] != "shared:latest" {
		t.Errorf("single-model set = %v", got)
	}

	ec.Mode = ModeMultiModel
	if got := ec.ModelFor("a"); got != "own:latest" {
		t.Errorf("multi-model resolution = %q", got)
	}
	if got := ec.ModelFor("missing"); got != "shared:latest" {
		t.Errorf("fallback resolution = %q", got)
	}
	if got := ec.TemperatureFor("a"); got != 0.4 {
		t.Errorf("temperature = %f", got)
	}
	if got := ec.TemperatureFor("missing"); got != defaultAgentTemperature {
		t.Errorf("fallback temperature = %f", got)
	}
}

func TestEnsembleModelsStableOrder(t *testing.T) {
	t.Parallel()

	ec := &EnsembleConfig{
		Mode: ModeMultiModel,
		Agents: map[string]AgentConfig{
			"zeta":  {Model: "m3"},
			"alpha": {Model: "m1"},
			"mid":   {Model: "m1"},
		},
	}
	for i := 0; i < 10; i++ {
		got := ec.Models()
		if len(got) != 2 || got[0] != "m1" || got[1] != "m3" {
			t.Fatalf("models = %v", got)
		}
	}
}
