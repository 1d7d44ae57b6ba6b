package persona

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

type catalogFile struct {
	Personas []Persona `yaml:"personas"`
}

// LoadYAMLFile reads additional personas from a YAML catalog file.
//
// Entries with an id matching a builtin persona replace it; new ids extend
// the catalog.
func LoadYAMLFile(path string) ([]Persona, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona catalog %s: %w", path, err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse persona catalog %s: %w", path, err)
	}
	for i, p := range file.Personas {
		if p.ID == "" {
			return nil, fmt.Errorf("persona catalog %s: entry %d has no id", path, i)
		}
		if p.Prompt == "" {
			return nil, fmt.Errorf("persona catalog %s: persona %q has no prompt", path, p.ID)
		}
	}
	return file.Personas, nil
}
