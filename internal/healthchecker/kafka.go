package healthchecker

import (
	"context"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/kafka"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/logging"
	"go.uber.org/zap"
)

func CheckKafkaProducer(_ context.Context) error {
	kafkaProducer, err := kafka.NewProducer()
	if err != nil {
		logging.Logger.Error("[CheckKafkaProducer] Failed to create Kafka producer", zap.String("error", err.Error()))

		return err
	}

	return kafkaProducer.Close()
}
