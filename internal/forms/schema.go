package forms

import "fmt"

// FormPage is one step of the wizard: a name/label plus ordered fields.
type FormPage struct {
	Name   string      `json:"name"`
	Label  string      `json:"label"`
	Fields []FormField `json:"fields"`
}

// Schema is an immutable snapshot of the full wizard: the ordered page
// sequence. Admin edits produce a new Schema and swap it into the Registry;
// a Schema already handed to a request never changes under it.
type Schema struct {
	Pages []FormPage `json:"pages"`
}

// Check enforces the structural invariants: at least one page, and page 0
// reserved for serial-number capture with exactly one field.
func (s *Schema) Check() error {
	if len(s.Pages) == 0 {
		return fmt.Errorf("schema has no pages")
	}
	first := s.Pages[0]
	if first.Name != "serial_request" {
		return fmt.Errorf("first page must be 'serial_request', got %q", first.Name)
	}
	if len(first.Fields) != 1 {
		return fmt.Errorf("serial_request page must contain exactly one field, got %d", len(first.Fields))
	}
	for pi, page := range s.Pages {
		for fi, f := range page.Fields {
			if !ValidKind(f.Kind) {
				return fmt.Errorf("page %d field %d: unknown kind %q", pi, fi, f.Kind)
			}
			if f.Validator != "" && LookupValidator(f.Validator) == nil {
				return fmt.Errorf("page %d field %d: unknown validator %q", pi, fi, f.Validator)
			}
		}
	}
	return nil
}

// PageCount returns the number of wizard steps.
func (s *Schema) PageCount() int {
	return len(s.Pages)
}

// ClampStep bounds a requested step to [0, PageCount-1].
func (s *Schema) ClampStep(step int) int {
	if step < 0 {
		return 0
	}
	if step > len(s.Pages)-1 {
		return len(s.Pages) - 1
	}
	return step
}

// SerialField returns the single field of the serial-capture page.
func (s *Schema) SerialField() FormField {
	return s.Pages[0].Fields[0]
}

// SerialFieldName is the data key the serial number is stored under.
func (s *Schema) SerialFieldName() string {
	return s.SerialField().Name
}

// AllFields returns every field across all pages in wizard order.
func (s *Schema) AllFields() []FormField {
	var all []FormField
	for _, page := range s.Pages {
		all = append(all, page.Fields...)
	}
	return all
}

// HistoryFields returns the fields shown in history/export views.
func (s *Schema) HistoryFields() []FormField {
	var out []FormField
	for _, f := range s.AllFields() {
		if f.InHistory() {
			out = append(out, f)
		}
	}
	return out
}

// FirstIncompleteStep returns the index of the first page with an input
// field missing from data, or PageCount if every page is filled. Used when
// an entry predates last_step tracking.
func (s *Schema) FirstIncompleteStep(data map[string]interface{}) int {
	for i, page := range s.Pages {
		for _, f := range page.Fields {
			if !f.TakesInput() || f.Name == "" {
				continue
			}
			if _, ok := data[f.Name]; !ok {
				return i
			}
		}
	}
	return len(s.Pages)
}

// StepLabel returns the label of the given step, or "Finished" for a step
// at or past the end of the wizard.
func (s *Schema) StepLabel(step int) string {
	if step >= len(s.Pages) {
		return "Finished"
	}
	if step < 0 {
		step = 0
	}
	return s.Pages[step].Label
}

// Clone deep-copies the schema so an admin edit cannot mutate the snapshot
// concurrent readers hold.
func (s *Schema) Clone() *Schema {
	pages := make([]FormPage, len(s.Pages))
	for i, p := range s.Pages {
		fields := make([]FormField, len(p.Fields))
		copy(fields, p.Fields)
		pages[i] = FormPage{Name: p.Name, Label: p.Label, Fields: fields}
	}
	return &Schema{Pages: pages}
}
