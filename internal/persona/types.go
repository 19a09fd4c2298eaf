// Package persona provides the read-only persona and template catalogs for a
// dialogue circle.
//
// Personas are declarative YAML documents that reference a template. The
// template supplies the epistemic lens, voice guidance, and a default OCEAN
// personality; the persona overlays its own character text, color, signature
// phrases, and personality overrides. The composed system prompt and the
// OCEAN-derived sampling parameters are produced on demand by [Store].
package persona

import "fmt"

// Personality is a five-trait OCEAN vector. Every trait is in [0, 1].
type Personality struct {
	Openness          float64 `yaml:"openness" json:"openness"`
	Conscientiousness float64 `yaml:"conscientiousness" json:"conscientiousness"`
	Extraversion      float64 `yaml:"extraversion" json:"extraversion"`
	Agreeableness     float64 `yaml:"agreeableness" json:"agreeableness"`
	Neuroticism       float64 `yaml:"neuroticism" json:"neuroticism"`
}

// SamplingParams are per-request LLM sampling knobs derived from a
// personality.
type SamplingParams struct {
	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"top_p"`
	RepeatPenalty float64 `json:"repeat_penalty"`
}

// ToSamplingParams maps the personality onto sampling parameters:
// temperature tracks openness, top_p narrows with conscientiousness, and
// repeat_penalty rises with neuroticism.
func (p Personality) ToSamplingParams() SamplingParams {
	return SamplingParams{
		Temperature:   0.4 + 0.6*p.Openness,
		TopP:          0.95 - 0.25*p.Conscientiousness,
		RepeatPenalty: 1.0 + 0.3*p.Neuroticism,
	}
}

// Validate checks that every trait is within [0, 1].
func (p Personality) Validate() error {
	traits := map[string]float64{
		"openness":          p.Openness,
		"conscientiousness": p.Conscientiousness,
		"extraversion":      p.Extraversion,
		"agreeableness":     p.Agreeableness,
		"neuroticism":       p.Neuroticism,
	}
	for name, v := range traits {
		if v < 0 || v > 1 {
			return fmt.Errorf("persona: personality trait %s = %.2f is out of range [0, 1]", name, v)
		}
	}
	return nil
}

// describeTrait renders one trait as a prompt fragment, or "" when the trait
// sits in the unremarkable middle band.
func describeTrait(value float64, high, low string) string {
	switch {
	case value >= 0.7:
		return high
	case value <= 0.3:
		return low
	default:
		return ""
	}
}

// PromptDescription renders the personality as a single sentence suitable
// for inclusion in a system prompt. Mid-range traits are omitted; a fully
// mid-range personality yields "".
func (p Personality) PromptDescription() string {
	var parts []string
	for _, s := range []string{
		describeTrait(p.Openness, "curious and drawn to unfamiliar ideas", "grounded in the concrete and familiar"),
		describeTrait(p.Conscientiousness, "careful and methodical", "loose and improvisational"),
		describeTrait(p.Extraversion, "energized by the exchange itself", "reserved, speaking only when it matters"),
		describeTrait(p.Agreeableness, "warm toward the other voices", "blunt, even at the cost of friction"),
		describeTrait(p.Neuroticism, "quick to voice unease", "even-keeled under pressure"),
	} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	out := "Your disposition: "
	for i, s := range parts {
		if i > 0 {
			out += "; "
		}
		out += s
	}
	return out + "."
}

// VoiceGuidance describes how a template's voice should sound.
type VoiceGuidance struct {
	Style    string   `yaml:"style" json:"style"`
	Register string   `yaml:"register" json:"register"`
	Patterns []string `yaml:"patterns" json:"patterns"`
	Avoid    []string `yaml:"avoid" json:"avoid"`
}

// Template is a reusable epistemic lens shared by one or more personas.
type Template struct {
	ID                 string        `yaml:"id" json:"id"`
	Name               string        `yaml:"name" json:"name"`
	Description        string        `yaml:"description" json:"description"`
	EpistemicLens      string        `yaml:"epistemic_lens" json:"epistemic_lens"`
	VoiceGuidance      VoiceGuidance `yaml:"voice_guidance" json:"voice_guidance"`
	DefaultPersonality *Personality  `yaml:"default_personality" json:"default_personality,omitempty"`
}

// Persona is one named voice in the circle.
type Persona struct {
	ID               string       `yaml:"id" json:"id"`
	Name             string       `yaml:"name" json:"name"`
	Template         string       `yaml:"template" json:"template"`
	Description      string       `yaml:"description" json:"description"`
	Color            string       `yaml:"color" json:"color"`
	Character        string       `yaml:"character" json:"character"`
	Personality      *Personality `yaml:"personality" json:"personality,omitempty"`
	SignaturePhrases []string     `yaml:"signature_phrases" json:"signature_phrases"`
	PromptAdditions  string       `yaml:"prompt_additions" json:"prompt_additions"`
}

// EffectivePersonality resolves the persona's OCEAN vector: its own override
// if present, else the template default, else a neutral 0.5 vector.
func (p *Persona) EffectivePersonality(tpl *Template) Personality {
	if p.Personality != nil {
		return *p.Personality
	}
	if tpl != nil && tpl.DefaultPersonality != nil {
		return *tpl.DefaultPersonality
	}
	return Personality{
		Openness:          0.5,
		Conscientiousness: 0.5,
		Extraversion:      0.5,
		Agreeableness:     0.5,
		Neuroticism:       0.5,
	}
}
