package persona

import (
	"context"
	"strings"
)

// Load assembles the catalog for this process: builtins first, then the YAML
// file (when configured), then Postgres rows (when configured). Later sources
// override earlier ones by id.
func Load(ctx context.Context, databaseURL, catalogPath string) (*Catalog, error) {
	personas := Builtin()

	if strings.TrimSpace(catalogPath) != "" {
		fromFile, err := LoadYAMLFile(catalogPath)
		if err != nil {
			return nil, err
		}
		personas = merge(personas, fromFile)
	}

	if strings.TrimSpace(databaseURL) != "" {
		fromDB, err := LoadPostgres(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		personas = merge(personas, fromDB)
	}

	return NewCatalog(personas), nil
}

func merge(base, overlay []Persona) []Persona {
	byID := make(map[string]int, len(base))
	for i, p := range base {
		byID[p.ID] = i
	}
	for _, p := range overlay {
		if i, ok := byID[p.ID]; ok {
			base[i] = p
			continue
		}
		byID[p.ID] = len(base)
		base = append(base, p)
	}
	return base
}
