// Package messaging defines the chat-platform collaborator surface. The
// platform transport and webhook signature verification live outside this
// repository; inbound deliveries arrive already normalized.
package messaging

import "context"

type EventType string

const (
	EventMessage  EventType = "message"
	EventFollow   EventType = "follow"
	EventUnfollow EventType = "unfollow"
)

// Inbound is one normalized chat event.
type Inbound struct {
	ChatUserID string    `json:"chat_user_id"`
	Text       string    `json:"text"`
	EventType  EventType `json:"event_type"`
}

type Messenger interface {
	SendMessage(ctx context.Context, chatUserID string, content string) error
}

type NoOpMessenger struct{}

func (NoOpMessenger) SendMessage(ctx context.Context, chatUserID string, content string) error {
	return nil
}
