package call

import (
	"strings"
	"time"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusInitiating},
	StatusScheduled:  {StatusInitiating},
	StatusInitiating: {StatusDialing, StatusScheduled, StatusFailed},
	StatusDialing:    {StatusInProgress, StatusNoAnswer, StatusBusy, StatusFailed},
	StatusInProgress: {StatusCompleted, StatusFailed},
}

var providerVocabulary = map[string]Status{
	"queue":       StatusDialing,
	"queued":      StatusDialing,
	"initiated":   StatusDialing,
	"ringing":     StatusDialing,
	"dialing":     StatusDialing,
	"in_progress": StatusInProgress,
	"ongoing":     StatusInProgress,
	"answered":    StatusInProgress,
	"active":      StatusInProgress,
	"completed":   StatusCompleted,
	"complete":    StatusCompleted,
	"ended":       StatusCompleted,
	"hangup":      StatusCompleted,
	"finished":    StatusCompleted,
	"failed":      StatusFailed,
	"error":       StatusFailed,
	"canceled":    StatusFailed,
	"cancelled":   StatusFailed,
	"rejected":    StatusFailed,
	"no_answer":   StatusNoAnswer,
	"noanswer":    StatusNoAnswer,
	"busy":        StatusBusy,
}

func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}

// MapProviderStatus translates a provider status string into an internal status.
func MapProviderStatus(observed string) (Status, bool) {
	normalized := strings.ToLower(strings.TrimSpace(observed))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)

	status, ok := providerVocabulary[normalized]

	return status, ok
}

// NewRecord builds a PENDING record, or SCHEDULED when scheduledAt lies after now.
func NewRecord(id string, request Request, scheduledAt *time.Time, maxRetries int, now time.Time) *Record {
	record := &Record{
		ID:          id,
		Request:     request.Normalized(),
		Status:      StatusPending,
		ScheduledAt: now,
		MaxRetries:  maxRetries,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if scheduledAt != nil {
		record.ScheduledAt = *scheduledAt
	}

	if record.ScheduledAt.After(now) {
		record.Status = StatusScheduled
	}

	return record
}

// Transition moves record to next when the table allows it. On error nothing changes.
func (record *Record) Transition(next Status, now time.Time) error {
	if !CanTransition(record.Status, next) {
		return ErrInvalidTransition
	}

	record.Status = next
	record.UpdatedAt = now

	if next == StatusDialing && record.DialedAt == nil {
		dialedAt := now
		record.DialedAt = &dialedAt
	}

	if next.IsTerminal() && record.CompletedAt == nil {
		completedAt := now
		record.CompletedAt = &completedAt
	}

	return nil
}

func (record *Record) BeginDispatch(now time.Time) error {
	return record.Transition(StatusInitiating, now)
}

func (record *Record) MarkDialing(providerCallID string, now time.Time) error {
	if providerCallID == "" {
		return ErrInvalidTransition
	}

	err := record.Transition(StatusDialing, now)
	if err != nil {
		return err
	}

	record.ProviderCallID = providerCallID

	return nil
}

// Reschedule counts a failed attempt and sends an INITIATING record back to
// SCHEDULED for another attempt at at.
func (record *Record) Reschedule(at, now time.Time) error {
	if record.RetryCount+1 >= record.MaxRetries {
		return ErrInvalidTransition
	}

	err := record.Transition(StatusScheduled, now)
	if err != nil {
		return err
	}

	record.RetryCount++
	record.ScheduledAt = at

	return nil
}

// Requeue returns an INITIATING record to SCHEDULED at now without counting an
// attempt. It is used when the submission was interrupted locally.
func (record *Record) Requeue(now time.Time) error {
	err := record.Transition(StatusScheduled, now)
	if err != nil {
		return err
	}

	record.ScheduledAt = now

	return nil
}

// Exhaust counts the last failed attempt and fails the record.
func (record *Record) Exhaust(reason string, now time.Time) error {
	err := record.Fail(reason, now)
	if err != nil {
		return err
	}

	if record.RetryCount < record.MaxRetries {
		record.RetryCount++
	}

	return nil
}

func (record *Record) Fail(reason string, now time.Time) error {
	err := record.Transition(StatusFailed, now)
	if err != nil {
		return err
	}

	record.ErrorMessage = reason

	return nil
}

// Terminate forces FAILED from any non-terminal status and reports whether record changed.
func (record *Record) Terminate(reason string, now time.Time) bool {
	if record.Status.IsTerminal() {
		return false
	}

	completedAt := now

	record.Status = StatusFailed
	record.ErrorMessage = reason
	record.UpdatedAt = now
	record.CompletedAt = &completedAt

	return true
}

// ApplyProviderStatus moves record toward the status the provider reported and
// reports whether record changed. Observations only apply once the provider has
// accepted the call. A DIALING record that observes COMPLETED passes through
// IN_PROGRESS.
func (record *Record) ApplyProviderStatus(observed string, now time.Time) (bool, error) {
	target, ok := MapProviderStatus(observed)
	if !ok {
		return false, ErrUnknownProviderStatus
	}

	if target == record.Status {
		return false, nil
	}

	if record.Status.IsTerminal() || record.ProviderCallID == "" {
		return false, ErrInvalidTransition
	}

	if CanTransition(record.Status, target) {
		return true, record.Transition(target, now)
	}

	if record.Status == StatusDialing && target == StatusCompleted {
		err := record.Transition(StatusInProgress, now)
		if err != nil {
			return false, err
		}

		return true, record.Transition(StatusCompleted, now)
	}

	return false, ErrInvalidTransition
}
