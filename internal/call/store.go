package call

import (
	"context"
	"slices"
	"time"
)

type Store interface {
	Get(ctx context.Context, id string) (*Record, error)
	// Put replaces the whole record.
	Put(ctx context.Context, record *Record) error
	// QueryByStatusAndDue returns records in any of statuses with ScheduledAt <= now
	// in dispatch order.
	QueryByStatusAndDue(ctx context.Context, statuses []Status, now time.Time) ([]*Record, error)
	QueryByStatus(ctx context.Context, statuses []Status) ([]*Record, error)
}

// Locker serializes mutations of one record. The returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

type Observer interface {
	OnTransition(ctx context.Context, event Event)
}

type ObserverFunc func(ctx context.Context, event Event)

func (observerFunc ObserverFunc) OnTransition(ctx context.Context, event Event) {
	observerFunc(ctx, event)
}

// SortForDispatch orders records by ScheduledAt, then CreatedAt, then ID.
func SortForDispatch(records []*Record) {
	slices.SortStableFunc(records, CompareForDispatch)
}

func CompareForDispatch(left, right *Record) int {
	if c := left.ScheduledAt.Compare(right.ScheduledAt); c != 0 {
		return c
	}

	if c := left.CreatedAt.Compare(right.CreatedAt); c != 0 {
		return c
	}

	switch {
	case left.ID < right.ID:
		return -1
	case left.ID > right.ID:
		return 1
	default:
		return 0
	}
}
