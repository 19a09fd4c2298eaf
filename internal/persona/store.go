package persona

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned by lookups for unknown persona or template IDs.
var ErrNotFound = errors.New("persona: not found")

// Store is a read-only catalog of personas and templates, loaded once at
// startup. All methods are safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	personas  map[string]*Persona
	templates map[string]*Template
}

// NewStore loads every persona and template document under the given
// directories. Personas referencing an unknown template are rejected.
func NewStore(personasDir, templatesDir string) (*Store, error) {
	s := &Store{
		personas:  make(map[string]*Persona),
		templates: make(map[string]*Template),
	}

	err := loadDir(templatesDir, func(path string) error {
		t, err := LoadTemplateFile(path)
		if err != nil {
			return err
		}
		if _, dup := s.templates[t.ID]; dup {
			return fmt.Errorf("persona: duplicate template id %q in %q", t.ID, path)
		}
		s.templates[t.ID] = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = loadDir(personasDir, func(path string) error {
		p, err := LoadPersonaFile(path)
		if err != nil {
			return err
		}
		if _, dup := s.personas[p.ID]; dup {
			return fmt.Errorf("persona: duplicate persona id %q in %q", p.ID, path)
		}
		if p.Template != "" {
			if _, ok := s.templates[p.Template]; !ok {
				return fmt.Errorf("persona: %q references unknown template %q", p.ID, p.Template)
			}
		}
		s.personas[p.ID] = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s, nil
}

// NewStoreFromValues builds a store from in-memory documents. Used by tests.
func NewStoreFromValues(personas []*Persona, templates []*Template) (*Store, error) {
	s := &Store{
		personas:  make(map[string]*Persona, len(personas)),
		templates: make(map[string]*Template, len(templates)),
	}
	for _, t := range templates {
		s.templates[t.ID] = t
	}
	for _, p := range personas {
		if p.Template != "" {
			if _, ok := s.templates[p.Template]; !ok {
				return nil, fmt.Errorf("persona: %q references unknown template %q", p.ID, p.Template)
			}
		}
		s.personas[p.ID] = p
	}
	return s, nil
}

// Persona returns the persona with the given ID.
func (s *Store) Persona(id string) (*Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.personas[id]
	if !ok {
		return nil, fmt.Errorf("%w: persona %q", ErrNotFound, id)
	}
	return p, nil
}

// Template returns the template with the given ID.
func (s *Store) Template(id string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, fmt.Errorf("%w: template %q", ErrNotFound, id)
	}
	return t, nil
}

// Personas returns all personas sorted by ID.
func (s *Store) Personas() []*Persona {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Persona, 0, len(s.personas))
	for _, p := range s.personas {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Templates returns all templates sorted by ID.
func (s *Store) Templates() []*Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Template, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PersonalityOf resolves the effective OCEAN vector for the persona with the
// given ID.
func (s *Store) PersonalityOf(id string) (Personality, error) {
	p, err := s.Persona(id)
	if err != nil {
		return Personality{}, err
	}
	var tpl *Template
	if p.Template != "" {
		tpl, _ = s.Template(p.Template)
	}
	return p.EffectivePersonality(tpl), nil
}
