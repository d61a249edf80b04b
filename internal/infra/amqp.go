// README: RabbitMQ connection for the amqp notification transport.
package infra

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const amqpDialAttempts = 5

// DialAMQP connects with a short retry loop so the API can start alongside the broker.
func DialAMQP(ctx context.Context, url string, log *slog.Logger) (*amqp.Connection, *amqp.Channel, error) {
	var lastErr error
	for i := 0; i < amqpDialAttempts; i++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			ch, err := conn.Channel()
			if err == nil {
				return conn, ch, nil
			}
			_ = conn.Close()
			lastErr = err
		} else {
			lastErr = err
		}
		log.Warn("rabbitmq not ready, retrying", "attempt", i+1, "err", lastErr)
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil, nil, fmt.Errorf("connect rabbitmq: %w", lastErr)
}
