package call

import (
	"errors"
	"strings"
)

var (
	ErrValidation             = errors.New("invalid call request")
	ErrInvalidTransition      = errors.New("invalid call status transition")
	ErrNotFound               = errors.New("call not found")
	ErrStore                  = errors.New("call store failure")
	ErrUnknownProviderStatus  = errors.New("unknown provider status")
	ErrProviderCallIDMismatch = errors.New("provider call id does not match record")
)

type ValidationError struct {
	Problems []string
}

func (validationError *ValidationError) Error() string {
	return ErrValidation.Error() + ": " + strings.Join(validationError.Problems, "; ")
}

func (validationError *ValidationError) Unwrap() error {
	return ErrValidation
}
