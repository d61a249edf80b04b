// README: RabbitMQ transport; publishes to a topic exchange keyed by notification kind.
package notify

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"bidride/internal/types"
)

const DefaultExchange = "notifications"

// Publisher is the subset of *amqp.Channel used here.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type AMQPSender struct {
	ch       Publisher
	exchange string
	now      func() time.Time
}

// DeclareExchange creates the durable topic exchange the sender publishes to.
func DeclareExchange(ch *amqp.Channel, exchange string) error {
	return ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
}

func NewAMQPSender(ch Publisher, exchange string) *AMQPSender {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &AMQPSender{ch: ch, exchange: exchange, now: time.Now}
}

func (s *AMQPSender) Send(ctx context.Context, recipient types.UserID, title, body string, data map[string]string) error {
	payload, err := encode(recipient, title, body, data, s.now())
	if err != nil {
		return err
	}
	return s.ch.PublishWithContext(ctx,
		s.exchange,             // exchange
		"notify."+data["kind"], // routing key
		false,                  // mandatory
		false,                  // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    s.now(),
			Body:         payload,
			Headers:      amqp.Table{"recipient": string(recipient)},
		},
	)
}
