package kafka

import (
	"context"
	"strings"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/logging"
	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

const (
	clientID             = "dialer"
	consumeRetryInterval = time.Second
	producerRetryMax     = 5
)

type Options struct {
	Brokers       []string
	Username      string
	Password      string
	SASLMechanism string
}

// OptionsFromConfig reads the KAFKA_* settings of config.Conf. The bootstrap
// server may list several brokers separated by commas.
func OptionsFromConfig() Options {
	var brokers []string

	for _, broker := range strings.Split(config.Conf.KafkaBootstrapServer, ",") {
		broker = strings.TrimSpace(broker)
		if broker != "" {
			brokers = append(brokers, broker)
		}
	}

	return Options{
		Brokers:       brokers,
		Username:      config.Conf.KafkaUsername,
		Password:      config.Conf.KafkaPassword,
		SASLMechanism: config.Conf.KafkaSASLMechanism,
	}
}

// newSaramaConfig enables SCRAM only when a username is set. Messages are
// partitioned by key so the events of one call stay in order.
func newSaramaConfig(options Options) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Version = sarama.V3_8_0_0

	if options.Username != "" {
		mechanism, hashGenerator := saslMechanism(options.SASLMechanism)

		cfg.Net.SASL.Enable = true
		cfg.Net.SASL.Handshake = true
		cfg.Net.SASL.Mechanism = mechanism
		cfg.Net.SASL.User = options.Username
		cfg.Net.SASL.Password = options.Password
		cfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &scramClient{hashGenerator: hashGenerator}
		}
	}

	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Producer.Retry.Max = producerRetryMax

	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Group.ResetInvalidOffsets = true
	cfg.Consumer.Return.Errors = true

	return cfg
}

func createConsumerGroup(options Options, groupID string) (sarama.ConsumerGroup, error) {
	client, err := sarama.NewConsumerGroup(options.Brokers, groupID, newSaramaConfig(options))
	if err != nil {
		logging.Logger.Error("[createConsumerGroup] Failed to create Kafka consumer group",
			zap.Strings("brokers", options.Brokers),
			zap.String("group_id", groupID),
			zap.String("error", err.Error()),
		)

		return nil, err
	}

	logging.Logger.Info("[createConsumerGroup] Joined Kafka consumer group",
		zap.Strings("brokers", options.Brokers),
		zap.String("group_id", groupID),
	)

	return client, nil
}

// runConsumerLoop rejoins the group after every rebalance or failure until
// ctx is canceled.
func runConsumerLoop(
	ctx context.Context,
	client sarama.ConsumerGroup,
	topic string,
	handler sarama.ConsumerGroupHandler,
) {
	go func() {
		for err := range client.Errors() {
			logging.Logger.Error("[runConsumerLoop] Kafka consumer internal error",
				zap.String("topic", topic),
				zap.String("error", err.Error()),
			)
		}
	}()

	topics := []string{topic}

	for {
		err := client.Consume(ctx, topics, handler)
		if ctx.Err() != nil {
			logging.Logger.Info("[runConsumerLoop] Kafka consumer stopping", zap.String("topic", topic))

			return
		}

		if err == nil {
			continue
		}

		logging.Logger.Error("[runConsumerLoop] Kafka consume error",
			zap.String("topic", topic),
			zap.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(consumeRetryInterval):
		}
	}
}
