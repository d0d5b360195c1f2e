package events

import (
	"context"
	"errors"
	"strings"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/gateway"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/logging"
	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

var ErrMissingCallID = errors.New("status update has no call id")

// StatusUpdate is a provider status pushed to us. CallID is our record id.
type StatusUpdate struct {
	CallID         string  `json:"call_id"`
	ProviderCallID string  `json:"provider_call_id,omitempty"`
	Status         string  `json:"status"`
	Duration       float64 `json:"duration,omitempty"`
	Transcript     string  `json:"transcript,omitempty"`
}

// Apply reconciles the record named by update with the reported status.
func (update StatusUpdate) Apply(ctx context.Context, callService *call.CallService) (*call.Record, error) {
	callID := strings.TrimSpace(update.CallID)
	if callID == "" {
		return nil, ErrMissingCallID
	}

	return callService.ApplyProviderStatus(ctx, callID, update.ProviderCallID, gateway.ProviderStatus{
		Status:          update.Status,
		DurationSeconds: update.Duration,
		Transcript:      update.Transcript,
	})
}

type StatusConsumer struct {
	CallService *call.CallService
}

func NewStatusConsumer(callService *call.CallService) *StatusConsumer {
	return &StatusConsumer{CallService: callService}
}

// HandleMessage applies one pushed status. Bad messages are logged and dropped
// so they never block the partition.
func (consumer *StatusConsumer) HandleMessage(ctx context.Context, message *sarama.ConsumerMessage) {
	var update StatusUpdate

	err := json.Unmarshal(message.Value, &update)
	if err != nil {
		logging.Logger.Error("[HandleMessage] Failed to decode status update",
			zap.Int32("partition", message.Partition),
			zap.Int64("offset", message.Offset),
			zap.String("error", err.Error()),
		)

		return
	}

	record, err := update.Apply(ctx, consumer.CallService)
	if err != nil {
		logging.Logger.Warn("[HandleMessage] Status update not applied",
			zap.String("call_id", update.CallID),
			zap.String("provider_status", update.Status),
			zap.String("error", err.Error()),
		)

		return
	}

	logging.Logger.Info("[HandleMessage] Status update applied",
		zap.String("call_id", record.ID),
		zap.String("status", string(record.Status)),
	)
}
