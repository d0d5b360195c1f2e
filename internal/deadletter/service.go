package deadletter

import (
	"context"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/retry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Sender interface {
	SendMessage(topic string, key, value []byte) (int32, int64, error)
}

// DeadLetterService parks events the broker refused and resends them with
// exponential backoff between attempts.
type DeadLetterService struct {
	Repository Repository
	Sender     Sender
	Backoff    *retry.Controller
	Now        func() time.Time
}

func NewService(repository Repository, sender Sender, backoff *retry.Controller) *DeadLetterService {
	return &DeadLetterService{
		Repository: repository,
		Sender:     sender,
		Backoff:    backoff,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

// MarkEvent parks msg for topic. The first resend is due one backoff step later.
func (dlService *DeadLetterService) MarkEvent(ctx context.Context, callID, topic string, msg []byte, errMsg string) error {
	err := dlService.Repository.Create(ctx, &Letter{
		ID:            uuid.NewString(),
		CallID:        callID,
		Topic:         topic,
		Payload:       msg,
		LastError:     errMsg,
		State:         StatePending,
		NextAttemptAt: dlService.Now().Add(dlService.Backoff.Delay(0)),
	})
	if err != nil {
		return err
	}

	logging.Logger.Info("[MarkEvent] Event parked as dead letter",
		zap.String("call_id", callID),
		zap.String("topic", topic),
	)

	return nil
}

// Resend publishes a claimed letter. Delivered letters are deleted and failed
// ones go back to pending with a longer delay.
func (dlService *DeadLetterService) Resend(ctx context.Context, letter *Letter) {
	partition, offset, err := dlService.Sender.SendMessage(letter.Topic, []byte(letter.CallID), letter.Payload)
	if err != nil {
		next := dlService.Now().Add(dlService.Backoff.Delay(letter.Attempts + 1))

		logging.Logger.Warn("[Resend] Dead letter still undeliverable",
			zap.String("call_id", letter.CallID),
			zap.Int("attempts", letter.Attempts+1),
			zap.Time("next_attempt_at", next),
			zap.String("error", err.Error()),
		)

		_ = dlService.Repository.Release(ctx, letter, err.Error(), next)

		return
	}

	logging.Logger.Info("[Resend] Dead letter delivered",
		zap.String("call_id", letter.CallID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)

	_ = dlService.Repository.Resolve(ctx, letter)
}
