package deadletter

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/retry"
	"github.com/stretchr/testify/require"
)

type memoryRepository struct {
	mu      sync.Mutex
	letters map[string]*Letter
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{letters: map[string]*Letter{}}
}

func (repo *memoryRepository) Create(_ context.Context, letter *Letter) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	stored := *letter
	repo.letters[letter.ID] = &stored

	return nil
}

func (repo *memoryRepository) Claim(_ context.Context, now time.Time, maxAttempts, limit int) ([]Letter, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	var due []*Letter

	for _, letter := range repo.letters {
		if letter.State == StatePending && !letter.NextAttemptAt.After(now) && letter.Attempts < maxAttempts {
			due = append(due, letter)
		}
	}

	slices.SortFunc(due, func(left, right *Letter) int { return left.NextAttemptAt.Compare(right.NextAttemptAt) })

	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]Letter, 0, len(due))

	for _, letter := range due {
		claimedAt := now
		letter.State = StateClaimed
		letter.ClaimedAt = &claimedAt
		claimed = append(claimed, *letter)
	}

	return claimed, nil
}

func (repo *memoryRepository) Release(_ context.Context, letter *Letter, errMsg string, nextAttemptAt time.Time) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	stored := repo.letters[letter.ID]
	stored.State = StatePending
	stored.Attempts++
	stored.LastError = errMsg
	stored.NextAttemptAt = nextAttemptAt
	stored.ClaimedAt = nil

	return nil
}

func (repo *memoryRepository) ReleaseStale(_ context.Context, claimedBefore time.Time) (int64, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	var released int64

	for _, letter := range repo.letters {
		if letter.State == StateClaimed && letter.ClaimedAt.Before(claimedBefore) {
			letter.State = StatePending
			letter.ClaimedAt = nil
			released++
		}
	}

	return released, nil
}

func (repo *memoryRepository) Resolve(_ context.Context, letter *Letter) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	delete(repo.letters, letter.ID)

	return nil
}

func (repo *memoryRepository) all() []Letter {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	var letters []Letter
	for _, letter := range repo.letters {
		letters = append(letters, *letter)
	}

	return letters
}

type recordingSender struct {
	mu   sync.Mutex
	err  error
	sent []string
}

func (sender *recordingSender) SendMessage(topic string, key, _ []byte) (int32, int64, error) {
	sender.mu.Lock()
	defer sender.mu.Unlock()

	if sender.err != nil {
		return 0, 0, sender.err
	}

	sender.sent = append(sender.sent, topic+"/"+string(key))

	return 0, int64(len(sender.sent)), nil
}

func newTestWorker(t *testing.T, sender *recordingSender) (*DeadLetterWorker, *memoryRepository, *time.Time) {
	t.Helper()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	repo := newMemoryRepository()

	service := NewService(repo, sender, retry.NewController(time.Minute, time.Hour, 0))
	service.Now = func() time.Time { return now }

	worker, err := NewWorker(service, 2, time.Minute, 10, 3)
	require.NoError(t, err)
	t.Cleanup(worker.WorkerPool.Release)

	return worker, repo, &now
}

func park(t *testing.T, worker *DeadLetterWorker, callID string) {
	t.Helper()

	err := worker.DLService.MarkEvent(context.Background(), callID, "call-events", []byte(`{}`), "broker down")
	require.NoError(t, err)
}

func TestDrainDeletesDeliveredLetters(t *testing.T) {
	sender := &recordingSender{}
	worker, repo, now := newTestWorker(t, sender)

	park(t, worker, "call-1")
	park(t, worker, "call-2")

	*now = now.Add(time.Minute)
	worker.Drain(context.Background())

	require.ElementsMatch(t, []string{"call-events/call-1", "call-events/call-2"}, sender.sent)
	require.Empty(t, repo.all())
}

func TestFailedResendBacksOff(t *testing.T) {
	sender := &recordingSender{err: errors.New("still down")}
	worker, repo, now := newTestWorker(t, sender)

	park(t, worker, "call-1")

	*now = now.Add(time.Minute)
	worker.Drain(context.Background())

	letters := repo.all()
	require.Len(t, letters, 1)
	require.Equal(t, 1, letters[0].Attempts)
	require.Equal(t, StatePending, letters[0].State)
	require.Equal(t, "still down", letters[0].LastError)
	require.Equal(t, now.Add(2*time.Minute), letters[0].NextAttemptAt)

	*now = now.Add(time.Minute)
	worker.Drain(context.Background())
	require.Equal(t, 1, repo.all()[0].Attempts)
}

func TestLettersWaitUntilDue(t *testing.T) {
	sender := &recordingSender{}
	worker, repo, _ := newTestWorker(t, sender)

	park(t, worker, "call-1")

	worker.Drain(context.Background())

	require.Empty(t, sender.sent)
	require.Len(t, repo.all(), 1)
}

func TestExhaustedLettersAreLeftAlone(t *testing.T) {
	sender := &recordingSender{}
	worker, repo, now := newTestWorker(t, sender)

	park(t, worker, "call-1")
	for _, letter := range repo.letters {
		letter.Attempts = worker.MaxAttempts
	}

	*now = now.Add(time.Hour)
	worker.Drain(context.Background())

	require.Empty(t, sender.sent)
	require.Len(t, repo.all(), 1)
}

func TestDrainReleasesAbandonedClaims(t *testing.T) {
	sender := &recordingSender{}
	worker, repo, now := newTestWorker(t, sender)

	park(t, worker, "call-1")

	*now = now.Add(time.Minute)
	_, err := repo.Claim(context.Background(), *now, worker.MaxAttempts, 10)
	require.NoError(t, err)

	worker.Drain(context.Background())
	require.Empty(t, sender.sent)

	*now = now.Add(worker.ClaimTimeout + time.Second)
	worker.Drain(context.Background())

	require.Equal(t, []string{"call-events/call-1"}, sender.sent)
	require.Empty(t, repo.all())
}
