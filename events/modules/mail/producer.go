package mail

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/ortelius/community-site/internal/metrics"
	"github.com/ortelius/community-site/restapi/modules/auth"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the producer uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes outgoing mail to Kafka. It satisfies auth.Mailer so the
// auth service can hand off delivery without holding an SMTP connection.
type Producer struct {
	Writer messageWriter
	now    func() time.Time
}

var _ auth.Mailer = (*Producer)(nil)

// NewProducer initializes a Kafka writer for mail events. transport may be
// nil for an unauthenticated local broker.
func NewProducer(brokers []string, topic string, transport kafka.RoundTripper) *Producer {
	return &Producer{
		Writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			Transport:              transport,
		},
		now: time.Now,
	}
}

// Send publishes msg as a mail.requested event keyed by recipient
func (p *Producer) Send(ctx context.Context, msg auth.Message) error {
	now := time.Now
	if p.now != nil {
		now = p.now
	}

	event := RequestedEvent{
		EventType:     EventTypeMailRequested,
		EventID:       uuid.New().String(),
		EventTime:     now().UTC(),
		SchemaVersion: SchemaVersion,
		Mail: Envelope{
			To:      msg.To,
			Subject: msg.Subject,
			Body:    msg.Body,
		},
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = p.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.To),
		Value: payload,
	})
	metrics.RecordMail("kafka", err)
	return err
}

// Close flushes and closes the Kafka writer
func (p *Producer) Close() error {
	return p.Writer.Close()
}
