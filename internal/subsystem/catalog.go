package subsystem

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Spec is one named, persisted catalog entry describing a subsystem
// instance to auto-start on daemon boot: which RunnerFactory kind to
// use and the config table to hand it.
type Spec struct {
	Name        string         `toml:"name"`
	Kind        string         `toml:"kind"`
	Description string         `toml:"description"`
	Config      map[string]any `toml:"config"`
}

// Catalog is the optional <config-dir>/subsystems.toml manifest: a
// flat list of entries under a `[[subsystem]]` table array.
type Catalog struct {
	Subsystem []Spec `toml:"subsystem"`
}

// LoadCatalog reads and parses subsystems.toml from path. Returns
// (nil, nil) if the manifest is not present — the daemon runs with
// only its built-in subsystem kinds registered in that case.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading subsystem catalog: %w", err)
	}

	var cat Catalog
	if _, err := toml.Decode(string(data), &cat); err != nil {
		return nil, fmt.Errorf("parsing subsystem catalog: %w", err)
	}
	for _, s := range cat.Subsystem {
		if s.Name == "" {
			return nil, fmt.Errorf("subsystem catalog entry missing name")
		}
		if s.Kind == "" {
			return nil, fmt.Errorf("subsystem catalog entry %q missing kind", s.Name)
		}
	}
	return &cat, nil
}

// StartCatalog starts every entry in cat against m, keyed by Spec.Kind
// (the RunnerFactory registered under that name) rather than Spec.Name
// (the running instance's identity) — a catalog may list more than one
// named instance of the same kind. Errors from individual entries are
// collected, not fatal: one misconfigured subsystem must not block the
// rest of the catalog from starting.
func StartCatalog(m *Manager, cat *Catalog) []error {
	if cat == nil {
		return nil
	}
	var errs []error
	for _, s := range cat.Subsystem {
		if _, err := m.startKind(s.Name, s.Kind, s.Config); err != nil {
			errs = append(errs, fmt.Errorf("subsystem %q (kind %q): %w", s.Name, s.Kind, err))
		}
	}
	return errs
}
