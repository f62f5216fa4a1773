package forms

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// Registry holds the live schema snapshot and persists edits to a JSON
// config file. Readers take the current snapshot with Current and never see
// a half-applied edit; writers clone, mutate, validate, persist, then swap.
type Registry struct {
	path string
	cur  atomic.Pointer[Schema]
	mu   sync.Mutex // serializes edits and file writes
}

// Open loads the schema from path, writing the default schema there first
// if the file does not exist.
func Open(path string) (*Registry, error) {
	r := &Registry{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		def := DefaultSchema()
		if err := r.write(def); err != nil {
			return nil, err
		}
		r.cur.Store(def)
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read form config: %w", err)
	}

	var schema Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to parse form config %s: %w", path, err)
	}
	if err := schema.Check(); err != nil {
		return nil, fmt.Errorf("invalid form config %s: %w", path, err)
	}

	r.cur.Store(&schema)
	return r, nil
}

// Path returns the config file location.
func (r *Registry) Path() string {
	return r.path
}

// Current returns the live schema snapshot.
func (r *Registry) Current() *Schema {
	return r.cur.Load()
}

// Update applies edit to a clone of the current schema, validates it,
// persists it and swaps it in. The previous snapshot stays valid for
// requests already holding it.
func (r *Registry) Update(edit func(*Schema) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.cur.Load().Clone()
	if err := edit(next); err != nil {
		return err
	}
	if err := next.Check(); err != nil {
		return err
	}
	if err := r.write(next); err != nil {
		return err
	}
	r.cur.Store(next)
	return nil
}

// Reset restores the default schema.
func (r *Registry) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	def := DefaultSchema()
	if err := r.write(def); err != nil {
		return err
	}
	r.cur.Store(def)
	return nil
}

func (r *Registry) write(s *Schema) error {
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write form config: %w", err)
	}
	return os.Rename(tmp, r.path)
}
