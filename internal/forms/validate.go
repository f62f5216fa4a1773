package forms

import "strconv"

// Default rejection messages per field kind.
const (
	msgRequired     = "This field is required."
	msgInteger      = "Must be an integer."
	msgNumber       = "Must be a number."
	msgBoolean      = "Please select yes or no."
	msgFileRequired = "File is required."
)

// ValidateField checks one raw submitted value. A named custom validator,
// when present, fully decides the result; otherwise the field kind's
// default check applies. existing carries previously stored entry data so a
// file field keeps an earlier upload when no new file is chosen.
func ValidateField(f FormField, value string, existing map[string]interface{}) (bool, string) {
	if fn := LookupValidator(f.Validator); fn != nil {
		return fn(value)
	}

	switch f.Kind {
	case KindInteger:
		if value == "" {
			return false, msgRequired
		}
		if _, err := strconv.Atoi(value); err != nil {
			return false, msgInteger
		}
	case KindFloat:
		if value == "" {
			return false, msgRequired
		}
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return false, msgNumber
		}
	case KindBoolean:
		if value != "yes" && value != "no" {
			return false, msgBoolean
		}
	case KindFile:
		if value == "" && !hasStoredValue(f.Name, existing) {
			return false, msgFileRequired
		}
	}
	// text, note and spacer carry no default constraint
	return true, ""
}

// ValidatePage runs ValidateField over every input field of a page and
// collects a field-name -> message map. The page is valid iff the map is
// empty. For file fields the caller supplies the uploaded filename (or "")
// in values.
func ValidatePage(fields []FormField, values map[string]string, existing map[string]interface{}) map[string]string {
	errors := make(map[string]string)
	for _, f := range fields {
		if !f.TakesInput() || f.Name == "" {
			continue
		}
		if ok, msg := ValidateField(f, values[f.Name], existing); !ok {
			errors[f.Name] = msg
		}
	}
	return errors
}

func hasStoredValue(name string, existing map[string]interface{}) bool {
	if existing == nil {
		return false
	}
	v, ok := existing[name]
	if !ok {
		return false
	}
	s, isStr := v.(string)
	return !isStr || s != ""
}
