// Package validator builds the request validator shared by every inbound
// operation, with the custom rules the seat domain needs.
package validator

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/atakanes/seatlock/internal/domain"
)

func NewValidator() *validator.Validate {
	validator := validator.New(validator.WithRequiredStructEnabled())

	validator.RegisterValidation("seat_id", validateSeatID)

	return validator
}

// validateSeatID accepts the "A12" wire form: uppercase row label followed
// by a column number starting at 1.
func validateSeatID(fl validator.FieldLevel) bool {
	_, err := domain.ParseSeatID(fl.Field().String())

	return err == nil
}

// ValidationMessage converts validator errors into readable messages
func ValidationMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", err.Param())
	case "min":
		return fmt.Sprintf("must have at least %s entries", err.Param())
	case "max":
		return fmt.Sprintf("must have at most %s entries", err.Param())
	case "seat_id":
		return "must be a seat id like A12"
	default:
		return "is invalid"
	}
}
