package call

import (
	"context"
	"errors"
	"fmt"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/gateway"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultTerminateReason = "terminated by user"

// MutateFunc changes record in place and reports whether anything changed.
type MutateFunc func(record *Record) (bool, error)

type CallService struct {
	Store      Store
	Locker     Locker
	Observers  []Observer
	MaxRetries int
	Now        func() time.Time
	NewID      func() string
}

func NewService(store Store, locker Locker, maxRetries int) *CallService {
	return &CallService{
		Store:      store,
		Locker:     locker,
		MaxRetries: maxRetries,
		Now:        func() time.Time { return time.Now().UTC() },
		NewID:      uuid.NewString,
	}
}

func (callService *CallService) AddObserver(observer Observer) {
	callService.Observers = append(callService.Observers, observer)
}

// SubmitCall validates request and stores a new PENDING or SCHEDULED record.
func (callService *CallService) SubmitCall(
	ctx context.Context,
	request Request,
	scheduledAt *time.Time,
) (string, error) {
	err := request.Validate()
	if err != nil {
		return "", err
	}

	record := NewRecord(callService.NewID(), request, scheduledAt, callService.MaxRetries, callService.Now())

	err = callService.Store.Put(ctx, record)
	if err != nil {
		logging.Logger.Error("[SubmitCall] Failed to store call",
			zap.String("call_id", record.ID),
			zap.String("error", err.Error()),
		)

		return "", err
	}

	logging.Logger.Info("[SubmitCall] Call accepted",
		zap.String("call_id", record.ID),
		zap.String("status", string(record.Status)),
		zap.Time("scheduled_at", record.ScheduledAt),
	)

	callService.notify(ctx, []Event{{
		CallID: record.ID,
		To:     record.Status,
		At:     record.CreatedAt,
		Record: record.Clone(),
	}})

	return record.ID, nil
}

// SubmitBulk schedules requests[i] at first + i*interval. Nothing is stored when
// any request is invalid.
func (callService *CallService) SubmitBulk(
	ctx context.Context,
	requests []Request,
	first time.Time,
	interval time.Duration,
) ([]string, error) {
	var problems []string

	for idx, request := range requests {
		err := request.Validate()

		var validationError *ValidationError
		if errors.As(err, &validationError) {
			for _, problem := range validationError.Problems {
				problems = append(problems, fmt.Sprintf("calls[%d]: %s", idx, problem))
			}
		}
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	ids := make([]string, 0, len(requests))

	for idx, request := range requests {
		scheduledAt := first.Add(time.Duration(idx) * interval)

		id, err := callService.SubmitCall(ctx, request, &scheduledAt)
		if err != nil {
			return ids, err
		}

		ids = append(ids, id)
	}

	return ids, nil
}

func (callService *CallService) GetCall(ctx context.Context, id string) (*Record, error) {
	return callService.Store.Get(ctx, id)
}

// ListCalls returns records in any of statuses, or every record when statuses is empty.
func (callService *CallService) ListCalls(ctx context.Context, statuses []Status) ([]*Record, error) {
	if len(statuses) == 0 {
		statuses = AllStatuses
	}

	return callService.Store.QueryByStatus(ctx, statuses)
}

// TerminateCall forces the call to FAILED. Terminal calls are returned unchanged.
func (callService *CallService) TerminateCall(ctx context.Context, id, reason string) (*Record, error) {
	if reason == "" {
		reason = DefaultTerminateReason
	}

	return callService.Update(ctx, id, func(record *Record) (bool, error) {
		return record.Terminate(reason, callService.Now()), nil
	})
}

// ApplyProviderStatus reconciles the record with what the provider reported.
// Unknown provider statuses are logged and ignored.
func (callService *CallService) ApplyProviderStatus(
	ctx context.Context,
	id string,
	providerCallID string,
	status gateway.ProviderStatus,
) (*Record, error) {
	return callService.Update(ctx, id, func(record *Record) (bool, error) {
		if providerCallID != "" && record.ProviderCallID != "" && providerCallID != record.ProviderCallID {
			return false, ErrProviderCallIDMismatch
		}

		changed, err := record.ApplyProviderStatus(status.Status, callService.Now())
		if errors.Is(err, ErrUnknownProviderStatus) {
			logging.Logger.Warn("[ApplyProviderStatus] Ignoring unrecognized provider status",
				zap.String("call_id", id),
				zap.String("provider_status", status.Status),
			)

			return false, nil
		}

		if err != nil {
			return false, err
		}

		return applyProviderMetadata(record, status) || changed, nil
	})
}

func applyProviderMetadata(record *Record, status gateway.ProviderStatus) bool {
	changed := false

	if record.Metadata == nil {
		record.Metadata = map[string]any{}
	}

	// Stored values come back from JSON with any shape, so compare typed values only.
	duration, _ := record.Metadata[MetadataProviderDuration].(float64)
	if status.DurationSeconds > 0 && duration != status.DurationSeconds {
		record.Metadata[MetadataProviderDuration] = status.DurationSeconds
		changed = true
	}

	transcript, _ := record.Metadata[MetadataTranscript].(string)
	if status.Transcript != "" && transcript != status.Transcript {
		record.Metadata[MetadataTranscript] = status.Transcript
		changed = true
	}

	return changed
}

// Update runs mutate on a fresh copy of the record while holding its lock and
// persists the result when mutate reports a change.
func (callService *CallService) Update(ctx context.Context, id string, mutate MutateFunc) (*Record, error) {
	unlock, err := callService.Locker.Lock(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lock call %s: %w", id, err)
	}

	record, events, err := callService.updateLocked(ctx, id, mutate)

	unlock()

	if err != nil {
		return record, err
	}

	callService.notify(ctx, events)

	return record, nil
}

func (callService *CallService) updateLocked(ctx context.Context, id string, mutate MutateFunc) (*Record, []Event, error) {
	record, err := callService.Store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	before := record.Status

	changed, err := mutate(record)
	if err != nil {
		return record, nil, err
	}

	if !changed {
		return record, nil, nil
	}

	err = callService.Store.Put(ctx, record)
	if err != nil {
		logging.Logger.Error("[Update] Failed to store call",
			zap.String("call_id", id),
			zap.String("error", err.Error()),
		)

		return nil, nil, err
	}

	if record.Status == before {
		return record, nil, nil
	}

	logging.Logger.Info("[Update] Call status changed",
		zap.String("call_id", id),
		zap.String("from", string(before)),
		zap.String("to", string(record.Status)),
	)

	event := Event{
		CallID: id,
		From:   before,
		To:     record.Status,
		At:     record.UpdatedAt,
		Record: record.Clone(),
	}

	return record, []Event{event}, nil
}

func (callService *CallService) notify(ctx context.Context, events []Event) {
	for _, event := range events {
		for _, observer := range callService.Observers {
			observer.OnTransition(ctx, event)
		}
	}
}
