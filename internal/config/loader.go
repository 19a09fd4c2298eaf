package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	}
	if cfg.Dialogue.MetricsInterval < 0 && cfg.Dialogue.MetricsInterval != -1 {
		errs = append(errs, fmt.Errorf("dialogue.metrics_interval %d is invalid; use a positive interval or -1 to disable", cfg.Dialogue.MetricsInterval))
	}
	if c := cfg.Dialogue.Cooldown; c != nil && *c < 0 {
		errs = append(errs, fmt.Errorf("dialogue.cooldown %d must not be negative", *c))
	}

	return errors.Join(errs...)
}

// LoadEnsemble reads an ensemble YAML document from path.
func LoadEnsemble(path string) (*EnsembleConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open ensemble %q: %w", path, err)
	}
	defer f.Close()

	ec, err := LoadEnsembleFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse ensemble %q: %w", path, err)
	}
	return ec, nil
}

// LoadEnsembleFromReader decodes and validates an ensemble document.
func LoadEnsembleFromReader(r io.Reader) (*EnsembleConfig, error) {
	ec := &EnsembleConfig{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(ec); err != nil {
		return nil, fmt.Errorf("config: decode ensemble yaml: %w", err)
	}
	if err := ValidateEnsemble(ec); err != nil {
		return nil, err
	}
	return ec, nil
}

// ValidateEnsemble checks an ensemble document for coherence.
func ValidateEnsemble(ec *EnsembleConfig) error {
	var errs []error

	if ec.Mode == "" {
		ec.Mode = ModeMultiModel
	}
	if !ec.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("mode %q is invalid; valid values: single_model, multi_model", ec.Mode))
	}
	if ec.Mode == ModeSingleModel && ec.SharedModel == "" {
		errs = append(errs, errors.New("shared_model is required when mode is single_model"))
	}
	if len(ec.Agents) == 0 {
		errs = append(errs, errors.New("at least one agent is required"))
	}
	if ec.Mode == ModeMultiModel {
		for id, a := range ec.Agents {
			if a.Model == "" && ec.SharedModel == "" {
				errs = append(errs, fmt.Errorf("agents[%s].model is required in multi_model mode without a shared_model", id))
			}
		}
	}
	if op := ec.Dialogue.OpeningAgent; op != "" {
		if _, ok := ec.Agents[op]; !ok {
			errs = append(errs, fmt.Errorf("dialogue.opening_agent %q is not a configured agent", op))
		}
	}

	return errors.Join(errs...)
}
