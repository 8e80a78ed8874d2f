package events

import (
	"context"
	"strings"

	"github.com/segmentio/kafka-go"

	"signato.org/internal/auditlog"
)

// Topic layout: signing activity, recipient churn, and everything else each
// get a stream so downstream consumers subscribe to what they care about.
const (
	TopicSigning    = "signato.signing"
	TopicRecipients = "signato.recipients"
	TopicDocuments  = "signato.documents"
)

var topicByEvent = map[string]string{
	string(auditlog.EventFieldSigned):        TopicSigning,
	string(auditlog.EventFieldUnsigned):      TopicSigning,
	string(auditlog.EventRecipientCompleted): TopicSigning,
	string(auditlog.EventRecipientRejected):  TopicSigning,
	string(auditlog.EventTwoFactor):          TopicSigning,
	string(auditlog.EventRecipientCreated):   TopicRecipients,
	string(auditlog.EventRecipientUpdated):   TopicRecipients,
	string(auditlog.EventRecipientDeleted):   TopicRecipients,
}

// KafkaPublisher writes staged records to Kafka. One writer handles all
// topics; the hash balancer keeps a partition key on one partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	topic, ok := topicByEvent[eventType]
	if !ok {
		topic = TopicDocuments
	}
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(partitionKey),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(eventType)},
		},
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// ParseBrokers splits a comma separated broker list from configuration.
func ParseBrokers(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
