package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sony/gobreaker/v2"
)

type Kind int

const (
	Transient Kind = iota
	Permanent
)

func (kind Kind) String() string {
	if kind == Permanent {
		return "permanent"
	}

	return "transient"
}

// CallSpec is what the provider needs to place one call.
type CallSpec struct {
	ExternalID     string
	CallerName     string
	CallerPhone    string
	Destination    string
	Action         string
	AdditionalInfo string
}

// ProviderStatus is a snapshot of a call as the provider sees it. Status is the
// provider's own vocabulary.
type ProviderStatus struct {
	Status          string
	DurationSeconds float64
	Transcript      string
}

type Gateway interface {
	Submit(ctx context.Context, spec CallSpec) (string, error)
	Poll(ctx context.Context, providerCallID string) (ProviderStatus, error)
}

type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Err        error
}

func (gatewayError *Error) Error() string {
	if gatewayError.StatusCode != 0 {
		return fmt.Sprintf("gateway %s %s error (status %d): %v",
			gatewayError.Op, gatewayError.Kind, gatewayError.StatusCode, gatewayError.Err)
	}

	return fmt.Sprintf("gateway %s %s error: %v", gatewayError.Op, gatewayError.Kind, gatewayError.Err)
}

func (gatewayError *Error) Unwrap() error {
	return gatewayError.Err
}

func NewTransient(op string, statusCode int, err error) *Error {
	return &Error{Kind: Transient, Op: op, StatusCode: statusCode, Err: err}
}

func NewPermanent(op string, statusCode int, err error) *Error {
	return &Error{Kind: Permanent, Op: op, StatusCode: statusCode, Err: err}
}

// IsTransient reports whether a retry may succeed. Unclassified errors count as
// transient only when they are timeouts, cancellations, network failures or an
// open breaker.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var gatewayError *Error
	if errors.As(err, &gatewayError) {
		return gatewayError.Kind == Transient
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}

	var netError net.Error

	return errors.As(err, &netError)
}

// IsInterrupted reports whether err comes from our own canceled context rather
// than from the provider.
func IsInterrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, context.Canceled)
}

func IsPermanent(err error) bool {
	return err != nil && !IsTransient(err)
}
