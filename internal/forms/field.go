package forms

// FieldKind identifies how a form field renders and validates. The set is
// closed; the admin editor only offers these values.
type FieldKind string

const (
	KindText    FieldKind = "text"
	KindInteger FieldKind = "integer"
	KindFloat   FieldKind = "float"
	KindBoolean FieldKind = "boolean"
	KindFile    FieldKind = "file"
	KindNote    FieldKind = "note"   // instructional text, takes no input
	KindSpacer  FieldKind = "spacer" // vertical gap, takes no input
)

// ValidKind reports whether k is one of the supported field kinds.
func ValidKind(k FieldKind) bool {
	switch k {
	case KindText, KindInteger, KindFloat, KindBoolean, KindFile, KindNote, KindSpacer:
		return true
	}
	return false
}

// FormField describes one field of a wizard page.
type FormField struct {
	Name  string    `json:"name"`
	Label string    `json:"label"`
	Kind  FieldKind `json:"kind"`

	// Named custom validator; when set it fully decides validation.
	// Serialized by name so the config file round-trips.
	Validator string `json:"validator,omitempty"`

	DisplayForm    bool `json:"displayForm"`
	DisplayHistory bool `json:"displayHistory"`

	HelpText  string `json:"helpText,omitempty"`
	HelpLink  string `json:"helpLink,omitempty"`
	HelpLabel string `json:"helpLabel,omitempty"`
	// Name of another field whose help entry this field shares.
	HelpTarget string `json:"helpTarget,omitempty"`
}

// TakesInput reports whether the field collects a value from the user.
func (f FormField) TakesInput() bool {
	switch f.Kind {
	case KindNote, KindSpacer:
		return false
	}
	return f.DisplayForm
}

// InHistory reports whether the field appears in history/export views.
// A field hidden on the form is implicitly hidden in history.
func (f FormField) InHistory() bool {
	return f.DisplayForm && f.DisplayHistory && f.Kind != KindNote && f.Kind != KindSpacer
}

// HasHelp reports whether the field carries its own help entry.
func (f FormField) HasHelp() bool {
	return f.HelpText != "" || f.HelpLink != "" || f.HelpLabel != ""
}

// Constructors for the common field shapes used by the default schema and
// the admin editor.

func Text(name, label string) FormField {
	return FormField{Name: name, Label: label, Kind: KindText, DisplayForm: true, DisplayHistory: true}
}

func Integer(name, label string) FormField {
	return FormField{Name: name, Label: label, Kind: KindInteger, DisplayForm: true, DisplayHistory: true}
}

func Float(name, label string) FormField {
	return FormField{Name: name, Label: label, Kind: KindFloat, DisplayForm: true, DisplayHistory: true}
}

func Boolean(name, label string) FormField {
	return FormField{Name: name, Label: label, Kind: KindBoolean, DisplayForm: true, DisplayHistory: true}
}

func File(name, label string) FormField {
	return FormField{Name: name, Label: label, Kind: KindFile, DisplayForm: true, DisplayHistory: true}
}

// Note is instructional text shown inline on the form.
func Note(name, label string) FormField {
	return FormField{Name: name, Label: label, Kind: KindNote, DisplayForm: true}
}

// Spacer is an empty layout row.
func Spacer() FormField {
	return FormField{Kind: KindSpacer, DisplayForm: true}
}
