package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/agentpay/agentpay/internal/domain"
)

// Kafka topics carrying the audit trail. Messages are keyed by
// subscription id so transitions of one record stay ordered.
const (
	TopicSubscriptionCreated   = "agentpay.subscription.created"
	TopicSubscriptionCancelled = "agentpay.subscription.cancelled"
	TopicPaymentExecuted       = "agentpay.payment.executed"
)

// KafkaPublisher writes audit events through a synchronous producer so a
// returned nil means the broker acknowledged the write.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	logger   zerolog.Logger
}

func NewKafkaPublisher(brokers []string, logger zerolog.Logger) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Retry.Max = 5
	config.Producer.Retry.Backoff = 500 * time.Millisecond
	config.Producer.Timeout = 10 * time.Second
	config.Producer.RequiredAcks = sarama.WaitForAll

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		logger.Error().Err(err).Msg("failed to create Kafka SyncProducer")
		return nil, err
	}

	logger.Info().Strs("brokers", brokers).Msg("Kafka audit publisher initialized")
	return &KafkaPublisher{producer: producer, logger: logger}, nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

func (p *KafkaPublisher) SubscriptionCreated(ctx context.Context, ev domain.SubscriptionCreatedEvent) error {
	return p.send(TopicSubscriptionCreated, ev.SubscriptionID, ev)
}

func (p *KafkaPublisher) SubscriptionCancelled(ctx context.Context, ev domain.SubscriptionCancelledEvent) error {
	return p.send(TopicSubscriptionCancelled, ev.SubscriptionID, ev)
}

func (p *KafkaPublisher) PaymentExecuted(ctx context.Context, ev domain.PaymentExecutedEvent) error {
	return p.send(TopicPaymentExecuted, ev.SubscriptionID, ev)
}

func (p *KafkaPublisher) send(topic string, id int64, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(id, 10)),
		Value: sarama.ByteEncoder(payload),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.Error().
			Err(err).
			Str("topic", topic).
			Int64("subscription_id", id).
			Msg("failed to send audit event")
		return err
	}

	p.logger.Debug().
		Str("topic", topic).
		Int64("subscription_id", id).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("audit event sent")
	return nil
}
