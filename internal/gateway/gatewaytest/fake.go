// Package gatewaytest provides an in-memory gateway.Gateway for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/gateway"
)

type Fake struct {
	// SubmitFunc overrides the default behaviour of accepting every call.
	SubmitFunc func(ctx context.Context, spec gateway.CallSpec) (string, error)
	// PollFunc overrides the lookup in Statuses.
	PollFunc func(ctx context.Context, providerCallID string) (gateway.ProviderStatus, error)

	mu       sync.Mutex
	submits  []gateway.CallSpec
	polls    []string
	statuses map[string]gateway.ProviderStatus
	sequence int
}

func New() *Fake {
	return &Fake{statuses: map[string]gateway.ProviderStatus{}}
}

func (fake *Fake) Submit(ctx context.Context, spec gateway.CallSpec) (string, error) {
	fake.mu.Lock()
	fake.submits = append(fake.submits, spec)
	fake.sequence++
	sequence := fake.sequence
	submitFunc := fake.SubmitFunc
	fake.mu.Unlock()

	if submitFunc != nil {
		return submitFunc(ctx, spec)
	}

	return fmt.Sprintf("provider-%d", sequence), nil
}

func (fake *Fake) Poll(ctx context.Context, providerCallID string) (gateway.ProviderStatus, error) {
	fake.mu.Lock()
	fake.polls = append(fake.polls, providerCallID)
	pollFunc := fake.PollFunc
	status, ok := fake.statuses[providerCallID]
	fake.mu.Unlock()

	if pollFunc != nil {
		return pollFunc(ctx, providerCallID)
	}

	if !ok {
		return gateway.ProviderStatus{Status: "queued"}, nil
	}

	return status, nil
}

// SetStatus makes later polls of providerCallID return status.
func (fake *Fake) SetStatus(providerCallID string, status gateway.ProviderStatus) {
	fake.mu.Lock()
	defer fake.mu.Unlock()

	fake.statuses[providerCallID] = status
}

func (fake *Fake) Submits() []gateway.CallSpec {
	fake.mu.Lock()
	defer fake.mu.Unlock()

	return append([]gateway.CallSpec(nil), fake.submits...)
}

func (fake *Fake) Polls() []string {
	fake.mu.Lock()
	defer fake.mu.Unlock()

	return append([]string(nil), fake.polls...)
}
