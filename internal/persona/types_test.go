package persona

import (
	"math"
	"strings"
	"testing"
)

func TestToSamplingParams(t *testing.T) {
	t.Parallel()

	p := Personality{Openness: 1, Conscientiousness: 1, Neuroticism: 1}
	got := p.ToSamplingParams()
	if math.Abs(got.Temperature-1.0) > 1e-12 {
		t.Errorf("temperature = %f", got.Temperature)
	}
	if math.Abs(got.TopP-0.70) > 1e-12 {
		t.Errorf("top_p = %f", got.TopP)
	}
	if math.Abs(got.RepeatPenalty-1.3) > 1e-12 {
		t.Errorf("repeat_penalty = %f", got.RepeatPenalty)
	}

	neutral := Personality{Openness: 0.5, Conscientiousness: 0.5, Neuroticism: 0.5}
	got = neutral.ToSamplingParams()
	if math.Abs(got.Temperature-0.7) > 1e-12 {
		t.Errorf("neutral temperature = %f", got.Temperature)
	}
}

func TestPersonalityValidate(t *testing.T) {
	t.Parallel()

	ok := Personality{Openness: 0, Conscientiousness: 1, Extraversion: 0.5}
	if err := ok.Validate(); err != nil {
		t.Fatal(err)
	}

	bad := Personality{Agreeableness: 1.2}
	err := bad.Validate()
	if err == nil || !strings.Contains(err.Error(), "agreeableness") {
		t.Fatalf("err = %v", err)
	}

	bad = Personality{Neuroticism: -0.1}
	if err := bad.Validate(); err == nil {
		t.Fatal("negative trait accepted")
	}
}

func TestPromptDescription(t *testing.T) {
	t.Parallel()

	neutral := Personality{
		Openness:          0.5,
		Conscientiousness: 0.5,
		Extraversion:      0.5,
		Agreeableness:     0.5,
		Neuroticism:       0.5,
	}
	if got := neutral.PromptDescription(); got != "" {
		t.Errorf("neutral description = %q", got)
	}

	p := Personality{
		Openness:          0.9,
		Conscientiousness: 0.5,
		Extraversion:      0.1,
		Agreeableness:     0.5,
		Neuroticism:       0.5,
	}
	got := p.PromptDescription()
	if !strings.HasPrefix(got, "Your disposition: ") || !strings.HasSuffix(got, ".") {
		t.Errorf("description = %q", got)
	}
	if !strings.Contains(got, "curious") || !strings.Contains(got, "reserved") {
		t.Errorf("description missing traits: %q", got)
	}
	if strings.Contains(got, "methodical") {
		t.Errorf("mid-range trait rendered: %q", got)
	}
}

func TestEffectivePersonality(t *testing.T) {
	t.Parallel()

	own := &Personality{Openness: 0.9}
	tplDefault := &Personality{Openness: 0.2}
	tpl := &Template{ID: "t", DefaultPersonality: tplDefault}

	p := &Persona{ID: "a", Personality: own}
	if got := p.EffectivePersonality(tpl); got.Openness != 0.9 {
		t.Errorf("own override ignored: %+v", got)
	}

	p = &Persona{ID: "a"}
	if got := p.EffectivePersonality(tpl); got.Openness != 0.2 {
		t.Errorf("template default ignored: %+v", got)
	}

	if got := p.EffectivePersonality(nil); got.Openness != 0.5 || got.Neuroticism != 0.5 {
		t.Errorf("neutral fallback = %+v", got)
	}

	bare := &Template{ID: "t2"}
	if got := p.EffectivePersonality(bare); got.Extraversion != 0.5 {
		t.Errorf("fallback with bare template = %+v", got)
	}
}
