package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"sync"

	"gopkg.in/yaml.v3"
)

// Source loads a catalog definition from storage.
type Source interface {
	Load(ctx context.Context) (Definition, error)
}

// inMemSource implements Source over a definition held in memory.
type inMemSource struct {
	mu  sync.RWMutex
	def Definition
}

// NewInMemSource returns an in-memory Source with a deep copy of def.
func NewInMemSource(def Definition) Source {
	return &inMemSource{def: cloneDefinition(def)}
}

// Load returns a copy of the stored definition.
func (s *inMemSource) Load(ctx context.Context) (Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneDefinition(s.def), nil
}

// yamlSource reads the definition from a YAML file on an fs.FS.
type yamlSource struct {
	fsys fs.FS
	path string
}

// NewYAMLSource returns a Source decoding the YAML file at path in fsys.
//
//	currency: USD
//	plans:
//	  - plan: basic
//	    prices: {monthly: 999, yearly: 9999}
//	    features:
//	      quotas: {blogs: 25, photos: 500}
//	      flags: {ad_free: true}
func NewYAMLSource(fsys fs.FS, path string) Source {
	return &yamlSource{fsys: fsys, path: path}
}

// Load reads and decodes the file. Unknown keys are rejected.
func (s *yamlSource) Load(ctx context.Context) (Definition, error) {
	if err := ctx.Err(); err != nil {
		return Definition{}, err
	}

	f, err := s.fsys.Open(s.path)
	if err != nil {
		return Definition{}, fmt.Errorf("open %s: %w", s.path, err)
	}
	defer func() { _ = f.Close() }()

	var def Definition
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return Definition{}, errors.Join(ErrInvalidCatalog, fmt.Errorf("decode %s: %w", s.path, err))
	}
	return def, nil
}

func cloneDefinition(def Definition) Definition {
	out := Definition{
		Currency: def.Currency,
		Plans:    make([]PlanDefinition, 0, len(def.Plans)),
	}
	for _, p := range def.Plans {
		out.Plans = append(out.Plans, PlanDefinition{
			Plan:        p.Plan,
			Name:        p.Name,
			Description: p.Description,
			Prices:      maps.Clone(p.Prices),
			Features:    p.Features.Clone(),
		})
	}
	return out
}
