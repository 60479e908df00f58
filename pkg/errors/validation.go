package errors

import (
	"fmt"
	"strings"
)

// ValidationErrorData contains structured data for validation errors
type ValidationErrorData struct {
	Field      string      `json:"field"`
	Value      interface{} `json:"value,omitempty"`
	Expected   string      `json:"expected,omitempty"`
	Constraint string      `json:"constraint,omitempty"`
}

// ValidationError creates a generic validation error
func ValidationError(message string) MCPError {
	return NewError(CodeValidationError, message, CategoryValidation, SeverityError)
}

// ValidationErrorf creates a generic validation error with formatting
func ValidationErrorf(format string, args ...interface{}) MCPError {
	return NewErrorf(CodeValidationError, CategoryValidation, SeverityError, format, args...)
}

// RequiredFieldMissing creates an error for missing required fields
func RequiredFieldMissing(field string) MCPError {
	return ValidationErrorf("required field '%s' is missing", field).
		WithData(&ValidationErrorData{
			Field:      field,
			Expected:   "non-empty value",
			Constraint: "required",
		})
}

// TooManyItems creates an error for collections above their size limit
func TooManyItems(field string, count, limit int) MCPError {
	return ValidationErrorf("field '%s' holds %d items, maximum is %d", field, count, limit).
		WithData(&ValidationErrorData{
			Field:      field,
			Value:      count,
			Expected:   fmt.Sprintf("at most %d items", limit),
			Constraint: "max_items",
		})
}

// OutOfRange creates an error for numeric values outside [lo, hi]
func OutOfRange(field string, value, lo, hi float64) MCPError {
	return ValidationErrorf("field '%s' value %v outside [%v, %v]", field, value, lo, hi).
		WithData(&ValidationErrorData{
			Field:      field,
			Value:      value,
			Expected:   fmt.Sprintf("[%v, %v]", lo, hi),
			Constraint: "range",
		})
}

// InvalidFormat creates an error for strings that do not follow a required format
func InvalidFormat(field, value, expected string) MCPError {
	return ValidationErrorf("field '%s' has invalid format: expected %s", field, expected).
		WithData(&ValidationErrorData{
			Field:      field,
			Value:      value,
			Expected:   expected,
			Constraint: "format",
		})
}

// InvalidEnum creates an error for invalid enumeration values
func InvalidEnum(field string, value interface{}, validValues []string) MCPError {
	return ValidationErrorf("invalid value for field '%s': must be one of %v", field, validValues).
		WithData(&ValidationErrorData{
			Field:      field,
			Value:      value,
			Expected:   fmt.Sprintf("one of %v", validValues),
			Constraint: "enumeration",
		})
}

// CombineValidationErrors folds several validation errors into one. It
// returns nil for an empty slice.
func CombineValidationErrors(errs []MCPError) MCPError {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}

	messages := make([]string, len(errs))
	data := make([]interface{}, len(errs))
	for i, err := range errs {
		messages[i] = err.Message()
		data[i] = err.Data()
	}

	return ValidationErrorf("multiple validation errors: %s", strings.Join(messages, "; ")).
		WithData(map[string]interface{}{
			"errors": data,
			"count":  len(errs),
		})
}
