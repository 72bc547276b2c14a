package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator checks request bodies and AI fragments against their struct tags
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a validator with the copilot's custom rules:
//
//	notblank  string is not empty after trimming whitespace
func NewValidator() *Validator {
	v := validator.New()
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return &Validator{validate: v}
}

// ValidateStruct validates a struct using struct tags
func (v *Validator) ValidateStruct(s interface{}) error {
	return v.validate.Struct(s)
}

// FormatValidationErrors maps each failing field, keyed by its namespace
// (e.g. "Fragment.Sections[0].Title"), to a readable message
func FormatValidationErrors(err error) map[string]string {
	fields := make(map[string]string)

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return fields
	}
	for _, e := range validationErrs {
		fields[e.Namespace()] = describe(e)
	}
	return fields
}

func describe(e validator.FieldError) string {
	unit := ""
	if e.Kind() == reflect.String {
		unit = " characters"
	} else if e.Kind() == reflect.Slice {
		unit = " item(s)"
	}

	switch e.Tag() {
	case "required", "notblank":
		return fmt.Sprintf("%s is required", e.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s%s", e.Field(), e.Param(), unit)
	case "max":
		return fmt.Sprintf("%s must be at most %s%s", e.Field(), e.Param(), unit)
	case "gte":
		return fmt.Sprintf("%s must be %s or more", e.Field(), e.Param())
	case "lte":
		return fmt.Sprintf("%s must be %s or less", e.Field(), e.Param())
	default:
		return fmt.Sprintf("%s is invalid", e.Field())
	}
}
