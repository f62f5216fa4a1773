package forms

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultSchema_Valid(t *testing.T) {
	s := DefaultSchema()
	if err := s.Check(); err != nil {
		t.Fatalf("Default schema failed its own invariants: %v", err)
	}
	if s.PageCount() < 2 {
		t.Fatal("Expected the default wizard to have more than the serial page")
	}
	if s.Pages[0].Name != "serial_request" {
		t.Errorf("Page 0 name = %q", s.Pages[0].Name)
	}
	if s.SerialField().Validator != SerialValidatorName {
		t.Error("The serial field must carry the serial validator")
	}
}

func TestSchema_Check(t *testing.T) {
	empty := &Schema{}
	if err := empty.Check(); err == nil {
		t.Error("An empty schema must be rejected")
	}

	twoFields := DefaultSchema()
	twoFields.Pages[0].Fields = append(twoFields.Pages[0].Fields, Text("extra", "Extra"))
	if err := twoFields.Check(); err == nil {
		t.Error("A serial page with two fields must be rejected")
	}

	badKind := DefaultSchema()
	badKind.Pages[1].Fields[0].Kind = "dropdown"
	if err := badKind.Check(); err == nil {
		t.Error("An unknown field kind must be rejected")
	}
}

func TestSchema_ClampStep(t *testing.T) {
	s := DefaultSchema()
	if got := s.ClampStep(-3); got != 0 {
		t.Errorf("ClampStep(-3) = %d", got)
	}
	if got := s.ClampStep(999); got != s.PageCount()-1 {
		t.Errorf("ClampStep(999) = %d, want %d", got, s.PageCount()-1)
	}
	if got := s.ClampStep(1); got != 1 {
		t.Errorf("ClampStep(1) = %d", got)
	}
}

func TestRegistry_OpenWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "forms_config.json")

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Expected the config file to be created: %v", err)
	}
	if r.Current().PageCount() != DefaultSchema().PageCount() {
		t.Error("Fresh registry should serve the default schema")
	}

	// A second Open reads the persisted file back.
	r2, err := Open(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	if r2.Current().PageCount() != r.Current().PageCount() {
		t.Error("Reopened registry disagrees with what was written")
	}
}

func TestRegistry_UpdateSwapsSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forms_config.json")
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	before := r.Current()
	pages := before.PageCount()

	err = r.Update(func(s *Schema) error {
		s.Pages = append(s.Pages, FormPage{Name: "burn_in", Label: "Burn In"})
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if before.PageCount() != pages {
		t.Error("A handed-out snapshot must never change under its holder")
	}
	if r.Current().PageCount() != pages+1 {
		t.Error("Expected the new snapshot to carry the added page")
	}

	// The reopened registry sees the persisted edit.
	r2, err := Open(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	if r2.Current().PageCount() != pages+1 {
		t.Error("Expected the edit to be persisted")
	}
}

func TestRegistry_UpdateRejectsInvalidEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forms_config.json")
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	pages := r.Current().PageCount()

	wantErr := errors.New("nope")
	if err := r.Update(func(s *Schema) error { return wantErr }); !errors.Is(err, wantErr) {
		t.Errorf("Expected the edit's error back, got %v", err)
	}

	// Structural damage is caught by Check and discarded.
	err = r.Update(func(s *Schema) error {
		s.Pages = nil
		return nil
	})
	if err == nil {
		t.Fatal("Expected an invalid edit to be rejected")
	}
	if r.Current().PageCount() != pages {
		t.Error("A rejected edit must leave the snapshot untouched")
	}
}

func TestRegistry_Reset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forms_config.json")
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := r.Update(func(s *Schema) error {
		s.Pages = append(s.Pages, FormPage{Name: "extra", Label: "Extra"})
		return nil
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if err := r.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if r.Current().PageCount() != DefaultSchema().PageCount() {
		t.Error("Reset should restore the default schema")
	}
}

func TestSchema_FirstIncompleteStep(t *testing.T) {
	s := DefaultSchema()

	if got := s.FirstIncompleteStep(nil); got != 0 {
		t.Errorf("Empty data should start at 0, got %d", got)
	}

	data := map[string]interface{}{}
	for _, f := range s.Pages[0].Fields {
		data[f.Name] = "3001"
	}
	if got := s.FirstIncompleteStep(data); got != 1 {
		t.Errorf("With page 0 complete, expected 1, got %d", got)
	}
}
