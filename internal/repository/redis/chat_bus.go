package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const chatChannelPrefix = "chat:"

// ChatBus fans chat inserts out to every server instance over Redis pub/sub
type ChatBus struct {
	client *Client
}

// NewChatBus creates a new chat event bus
func NewChatBus(client *Client) *ChatBus {
	return &ChatBus{client: client}
}

// ChatChannel returns the pub/sub channel of a session
func ChatChannel(sessionID uuid.UUID) string {
	return chatChannelPrefix + sessionID.String()
}

// Publish announces a persisted message
func (b *ChatBus) Publish(ctx context.Context, event domain.MessageEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal message event: %w", err)
	}

	if err := b.client.rdb.Publish(ctx, ChatChannel(event.SessionID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish message event: %w", err)
	}
	return nil
}

// Subscribe streams message events of a session until ctx is cancelled or
// the returned stop func is called. The channel is closed afterwards.
func (b *ChatBus) Subscribe(ctx context.Context, sessionID uuid.UUID) (<-chan domain.MessageEvent, func(), error) {
	sub := b.client.rdb.Subscribe(ctx, ChatChannel(sessionID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to chat: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	events := make(chan domain.MessageEvent, 16)

	go func() {
		defer close(events)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event domain.MessageEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					log.Warn().Err(err).Str("channel", msg.Channel).Msg("Dropping malformed chat event")
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, cancel, nil
}
