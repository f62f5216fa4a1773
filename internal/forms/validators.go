package forms

import (
	"fmt"
	"strconv"
)

// Serial number bounds for Apollo CM boards. The serial field enforces the
// range through the named validator below rather than the generic engine,
// so the bound stays declaratively swappable in the form config.
const (
	SerialMin = 3000
	SerialMax = 3050
)

// SerialValidatorName is the registry key for the serial-range validator.
const SerialValidatorName = "validate_serial"

// ValidatorFunc checks a raw submitted value and returns ok plus a
// user-facing message on rejection.
type ValidatorFunc func(value string) (bool, string)

// ValidateSerial accepts integers within [SerialMin, SerialMax].
func ValidateSerial(value string) (bool, string) {
	n, err := strconv.Atoi(value)
	if err != nil || value == "" {
		return false, fmt.Sprintf("Must be an integer between %d and %d", SerialMin, SerialMax)
	}
	if n < SerialMin || n > SerialMax {
		return false, fmt.Sprintf("Must be between %d and %d", SerialMin, SerialMax)
	}
	return true, ""
}

// ParseSerial parses and range-checks a serial number string.
func ParseSerial(value string) (int, bool) {
	n, err := strconv.Atoi(value)
	if err != nil || n < SerialMin || n > SerialMax {
		return 0, false
	}
	return n, true
}

// LookupValidator resolves a validator by its serialized name.
func LookupValidator(name string) ValidatorFunc {
	if name == SerialValidatorName {
		return ValidateSerial
	}
	return nil
}
