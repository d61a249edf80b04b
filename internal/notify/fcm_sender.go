// README: Firebase Cloud Messaging transport; device tokens come from the presence store.
package notify

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/messaging"

	"bidride/internal/types"
)

// MessageClient is the subset of *messaging.Client used here.
type MessageClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// TokenSource resolves a user's device token; "" means none registered.
type TokenSource interface {
	DeviceToken(ctx context.Context, id types.UserID) (string, error)
}

type FCMSender struct {
	client MessageClient
	tokens TokenSource
}

func NewFCMSender(client MessageClient, tokens TokenSource) *FCMSender {
	return &FCMSender{client: client, tokens: tokens}
}

func (s *FCMSender) Send(ctx context.Context, recipient types.UserID, title, body string, data map[string]string) error {
	token, err := s.tokens.DeviceToken(ctx, recipient)
	if err != nil {
		return fmt.Errorf("resolving device token for %s: %w", recipient, err)
	}
	if token == "" {
		return ErrNoDevice
	}

	msg := &messaging.Message{
		Token: token,
		Data:  data,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
	if _, err := s.client.Send(ctx, msg); err != nil {
		return fmt.Errorf("sending FCM to %s: %w", recipient, err)
	}
	return nil
}
