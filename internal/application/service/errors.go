package service

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad input shape or type; it never touches storage
	ErrValidation = errors.New("validation failed")

	ErrNotFound       = errors.New("not found")
	ErrAlreadyLinked  = errors.New("invoice already linked")
	ErrNotLinkable    = errors.New("invoice status does not allow linking")
	ErrExtractionBusy = errors.New("extraction still pending")

	ErrStorage             = errors.New("blob storage failure")
	ErrPersistence         = errors.New("persistence failure")
	ErrExtractionTransport = errors.New("extraction service failure")
)

// ValidationError describes which input was rejected
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrValidation
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func newValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
