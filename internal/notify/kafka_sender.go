// README: Kafka transport; one message per recipient keyed by recipient id.
package notify

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"bidride/internal/types"
)

// MessageWriter is the subset of *kafka.Writer used here.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type KafkaSender struct {
	writer MessageWriter
	now    func() time.Time
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

func NewKafkaSender(w MessageWriter) *KafkaSender {
	return &KafkaSender{writer: w, now: time.Now}
}

func (s *KafkaSender) Send(ctx context.Context, recipient types.UserID, title, body string, data map[string]string) error {
	payload, err := encode(recipient, title, body, data, s.now())
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(recipient),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(data["kind"])},
		},
	})
}
