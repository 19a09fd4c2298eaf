package persona

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadPersonaFile reads and parses a single persona YAML document.
func LoadPersonaFile(path string) (*Persona, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("persona: open %q: %w", path, err)
	}
	defer f.Close()

	p, err := LoadPersonaFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("persona: parse %q: %w", path, err)
	}
	return p, nil
}

// LoadPersonaFromReader parses a persona document from r. The document's id
// must be set; a missing personality falls back to the template default at
// composition time.
func LoadPersonaFromReader(r io.Reader) (*Persona, error) {
	var p Persona
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("persona: decode yaml: %w", err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("persona: id is required")
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	if p.Personality != nil {
		if err := p.Personality.Validate(); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// LoadTemplateFile reads and parses a single template YAML document.
func LoadTemplateFile(path string) (*Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("persona: open %q: %w", path, err)
	}
	defer f.Close()

	t, err := LoadTemplateFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("persona: parse %q: %w", path, err)
	}
	return t, nil
}

// LoadTemplateFromReader parses a template document from r.
func LoadTemplateFromReader(r io.Reader) (*Template, error) {
	var t Template
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("persona: decode template yaml: %w", err)
	}
	if t.ID == "" {
		return nil, fmt.Errorf("persona: template id is required")
	}
	if t.DefaultPersonality != nil {
		if err := t.DefaultPersonality.Validate(); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

// loadDir walks dir and calls load for every .yaml/.yml file found.
func loadDir(dir string, load func(path string) error) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		return load(path)
	})
}
