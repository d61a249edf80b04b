package notify

import (
	"encoding/json"
	"time"

	"bidride/internal/types"
)

// envelope is the wire form used by the broker transports.
type envelope struct {
	Kind      string            `json:"kind"`
	Recipient string            `json:"recipient"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	SentAt    time.Time         `json:"sent_at"`
}

func encode(recipient types.UserID, title, body string, data map[string]string, now time.Time) ([]byte, error) {
	return json.Marshal(envelope{
		Kind:      data["kind"],
		Recipient: string(recipient),
		Title:     title,
		Body:      body,
		Data:      data,
		SentAt:    now.UTC(),
	})
}
