package persona

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testTemplateYAML = `
id: philosopher
name: Philosopher
epistemic_lens: "You reason from first principles."
voice_guidance:
  style: "measured"
  patterns:
    - "draws distinctions"
default_personality:
  openness: 0.8
  conscientiousness: 0.5
  extraversion: 0.5
  agreeableness: 0.5
  neuroticism: 0.5
`

const testPersonaYAML = `
id: thera
name: Thera
template: philosopher
description: "A careful examiner of assumptions."
color: "#4C6EF5"
character: "You probe the ground beneath every claim."
signature_phrases:
  - "what would it take to be wrong about this"
`

func writeDoc(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	personas, templates := t.TempDir(), t.TempDir()
	writeDoc(t, templates, "philosopher.yaml", testTemplateYAML)
	writeDoc(t, personas, "thera.yaml", testPersonaYAML)
	writeDoc(t, personas, "bram.yaml", "id: bram\nname: Bram\ndescription: \"An empiricist.\"\n")

	s, err := NewStore(personas, templates)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestStoreLoadsDirectories(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	p, err := s.Persona("thera")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "Thera" || p.Template != "philosopher" || p.Color != "#4C6EF5" {
		t.Errorf("persona = %+v", p)
	}

	tpl, err := s.Template("philosopher")
	if err != nil {
		t.Fatal(err)
	}
	if tpl.EpistemicLens == "" || tpl.DefaultPersonality == nil {
		t.Errorf("template = %+v", tpl)
	}
}

func TestStoreIgnoresNonYAML(t *testing.T) {
	t.Parallel()

	personas, templates := t.TempDir(), t.TempDir()
	writeDoc(t, personas, "notes.txt", "not yaml at all {{{")
	writeDoc(t, personas, "solo.yaml", "id: solo\n")

	s, err := NewStore(personas, templates)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(s.Personas()); got != 1 {
		t.Errorf("personas loaded = %d, want 1", got)
	}
}

func TestStoreRejectsUnknownTemplate(t *testing.T) {
	t.Parallel()

	personas, templates := t.TempDir(), t.TempDir()
	writeDoc(t, personas, "ghost.yaml", "id: ghost\ntemplate: nonexistent\n")

	if _, err := NewStore(personas, templates); err == nil {
		t.Fatal("unknown template reference accepted")
	}
}

func TestStoreRejectsDuplicateID(t *testing.T) {
	t.Parallel()

	personas, templates := t.TempDir(), t.TempDir()
	writeDoc(t, personas, "a.yaml", "id: twin\n")
	writeDoc(t, personas, "b.yaml", "id: twin\n")

	_, err := NewStore(personas, templates)
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("err = %v", err)
	}
}

func TestStoreNotFound(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	if _, err := s.Persona("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("persona err = %v", err)
	}
	if _, err := s.Template("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("template err = %v", err)
	}
	if _, err := s.PersonalityOf("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("personality err = %v", err)
	}
}

func TestStoreListingsSorted(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	got := s.Personas()
	if len(got) != 2 || got[0].ID != "bram" || got[1].ID != "thera" {
		ids := make([]string, len(got))
		for i, p := range got {
			ids[i] = p.ID
		}
		t.Errorf("personas = %v", ids)
	}
}

func TestPersonalityOfResolvesTemplateDefault(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	// thera has no override, so the template default applies.
	p, err := s.PersonalityOf("thera")
	if err != nil {
		t.Fatal(err)
	}
	if p.Openness != 0.8 {
		t.Errorf("openness = %f, want template default 0.8", p.Openness)
	}

	// bram has neither, so the neutral vector applies.
	p, err = s.PersonalityOf("bram")
	if err != nil {
		t.Fatal(err)
	}
	if p.Openness != 0.5 {
		t.Errorf("openness = %f, want neutral 0.5", p.Openness)
	}
}

func TestLoadPersonaFromReader(t *testing.T) {
	t.Parallel()

	p, err := LoadPersonaFromReader(strings.NewReader("id: solo\n"))
	if err != nil {
		t.Fatal(err)
	}
	// Name falls back to the ID.
	if p.Name != "solo" {
		t.Errorf("name = %q", p.Name)
	}

	if _, err := LoadPersonaFromReader(strings.NewReader("name: nameless\n")); err == nil {
		t.Error("persona without id accepted")
	}
	if _, err := LoadPersonaFromReader(strings.NewReader("id: x\nunknown_key: 1\n")); err == nil {
		t.Error("unknown key accepted")
	}
	if _, err := LoadPersonaFromReader(strings.NewReader("id: x\npersonality:\n  openness: 1.5\n")); err == nil {
		t.Error("out-of-range personality accepted")
	}
}

func TestLoadTemplateFromReader(t *testing.T) {
	t.Parallel()

	if _, err := LoadTemplateFromReader(strings.NewReader("name: nameless\n")); err == nil {
		t.Error("template without id accepted")
	}
	if _, err := LoadTemplateFromReader(strings.NewReader("id: t\ndefault_personality:\n  neuroticism: -1\n")); err == nil {
		t.Error("out-of-range default personality accepted")
	}
}
