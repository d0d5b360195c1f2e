package kafka

import (
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/circuitbreak"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/logging"
	prometheusDialer "git.mci.dev/mse/sre/phoenix/golang/dialer/internal/prometheus"
	"github.com/IBM/sarama"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	outcomeSent   = "sent"
	outcomeFailed = "failed"
)

type delivery struct {
	partition int32
	offset    int64
}

// Producer publishes keyed messages synchronously behind the kafka producer breaker.
type Producer struct {
	Client         sarama.SyncProducer
	CircuitBreaker *gobreaker.CircuitBreaker[delivery]
}

func NewProducer() (*Producer, error) {
	options := OptionsFromConfig()

	client, err := sarama.NewSyncProducer(options.Brokers, newSaramaConfig(options))
	if err != nil {
		logging.Logger.Error("[NewProducer] Failed to create Kafka producer",
			zap.Strings("brokers", options.Brokers),
			zap.String("error", err.Error()),
		)

		return nil, err
	}

	logging.Logger.Info("[NewProducer] Kafka producer ready",
		zap.Strings("brokers", options.Brokers),
		zap.Bool("sasl", options.Username != ""),
	)

	return NewProducerWithClient(client), nil
}

func NewProducerWithClient(client sarama.SyncProducer) *Producer {
	settings := circuitbreak.Settings(
		circuitbreak.KafkaProducerService,
		time.Duration(config.Conf.KafkaIntervalCB)*time.Second,
		max(config.Conf.KafkaConsecutiveFailuresCB, 1),
	)

	return &Producer{
		Client:         client,
		CircuitBreaker: gobreaker.NewCircuitBreaker[delivery](settings),
	}
}

// SendMessage publishes value to topic under key and returns where it landed.
func (p *Producer) SendMessage(topic string, key, value []byte) (int32, int64, error) {
	result, err := p.CircuitBreaker.Execute(func() (delivery, error) {
		partition, offset, err := p.Client.SendMessage(&sarama.ProducerMessage{
			Topic: topic,
			Key:   sarama.ByteEncoder(key),
			Value: sarama.ByteEncoder(value),
		})

		return delivery{partition: partition, offset: offset}, err
	})
	if err != nil {
		prometheusDialer.KafkaMessagesTotal.WithLabelValues(topic, outcomeFailed).Inc()
		logging.Logger.Error("[SendMessage] Kafka publish failed",
			zap.String("topic", topic),
			zap.ByteString("key", key),
			zap.String("error", err.Error()),
		)

		return 0, 0, err
	}

	prometheusDialer.KafkaMessagesTotal.WithLabelValues(topic, outcomeSent).Inc()
	logging.Logger.Debug("[SendMessage] Kafka message published",
		zap.String("topic", topic),
		zap.Int32("partition", result.partition),
		zap.Int64("offset", result.offset),
	)

	return result.partition, result.offset, nil
}

func (p *Producer) Close() error {
	err := p.Client.Close()
	if err != nil {
		logging.Logger.Error("[Close] Failed to close Kafka producer", zap.String("error", err.Error()))

		return err
	}

	logging.Logger.Info("[Close] Kafka producer closed")

	return nil
}
