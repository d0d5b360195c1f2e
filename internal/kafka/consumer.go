package kafka

import (
	"context"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/logging"
	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage)

type Consumer struct {
	Client sarama.ConsumerGroup
}

func NewConsumer(groupID string) (*Consumer, error) {
	client, err := createConsumerGroup(OptionsFromConfig(), groupID)
	if err != nil {
		return nil, err
	}

	return &Consumer{Client: client}, nil
}

// Consume blocks, passing every message of topic to messageHandler, until ctx is canceled.
func (c *Consumer) Consume(ctx context.Context, topic string, messageHandler MessageHandler) {
	runConsumerLoop(ctx, c.Client, topic, &ConsumerGroupHandler{MessageHandler: messageHandler})
}

func (c *Consumer) Close() error {
	err := c.Client.Close()
	if err != nil {
		logging.Logger.Error("[Close] Failed to close Kafka consumer", zap.String("error", err.Error()))

		return err
	}

	logging.Logger.Info("[Close] Kafka consumer closed")

	return nil
}

// ConsumerGroupHandler hands messages to MessageHandler one at a time and
// commits each once it returns, including when it panics.
type ConsumerGroupHandler struct {
	MessageHandler MessageHandler
}

func (h *ConsumerGroupHandler) Setup(session sarama.ConsumerGroupSession) error {
	logging.Logger.Info("[Setup] Partitions assigned", zap.Any("claims", session.Claims()))

	return nil
}

func (h *ConsumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *ConsumerGroupHandler) ConsumeClaim(
	session sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			h.handle(session.Context(), message)
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *ConsumerGroupHandler) handle(ctx context.Context, message *sarama.ConsumerMessage) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logging.Logger.Error("[ConsumeClaim] panic in message handler",
				zap.String("topic", message.Topic),
				zap.Int32("partition", message.Partition),
				zap.Int64("offset", message.Offset),
				zap.Any("recover", recovered),
			)
		}
	}()

	h.MessageHandler(ctx, message)
}
