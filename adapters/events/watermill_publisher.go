package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/layer-3/turnstile/ports"
)

const (
	// TopicRevoked carries SessionRevoked events
	TopicRevoked = "turnstile.session.revoked"

	// TopicRevokedAll carries SessionsRevokedAll events
	TopicRevokedAll = "turnstile.session.revoked_all"

	// TopicRotated carries SessionRotated events
	TopicRotated = "turnstile.session.rotated"
)

// SessionRevoked is published when a single session is revoked
type SessionRevoked struct {
	OwnerID    string    `json:"owner_id"`
	TokenID    string    `json:"token_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// SessionsRevokedAll is published when every session of an owner is revoked
type SessionsRevokedAll struct {
	OwnerID    string    `json:"owner_id"`
	Count      int       `json:"count"`
	OccurredAt time.Time `json:"occurred_at"`
}

// SessionRotated is published when a refresh token is exchanged for a new pair
type SessionRotated struct {
	OwnerID     string    `json:"owner_id"`
	FromTokenID string    `json:"from_token_id"`
	ToTokenID   string    `json:"to_token_id"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
	now       func() time.Time
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{
		publisher: publisher,
		now:       time.Now,
	}
}

var _ ports.EventPublisher = (*WatermillPublisher)(nil)

// PublishRevoked publishes a SessionRevoked event
func (p *WatermillPublisher) PublishRevoked(ctx context.Context, ownerID, tokenID string) error {
	return p.publish(ctx, TopicRevoked, ownerID, SessionRevoked{
		OwnerID:    ownerID,
		TokenID:    tokenID,
		OccurredAt: p.now().UTC(),
	})
}

// PublishRevokedAll publishes a SessionsRevokedAll event
func (p *WatermillPublisher) PublishRevokedAll(ctx context.Context, ownerID string, count int) error {
	return p.publish(ctx, TopicRevokedAll, ownerID, SessionsRevokedAll{
		OwnerID:    ownerID,
		Count:      count,
		OccurredAt: p.now().UTC(),
	})
}

// PublishRotated publishes a SessionRotated event
func (p *WatermillPublisher) PublishRotated(ctx context.Context, ownerID, fromTokenID, toTokenID string) error {
	return p.publish(ctx, TopicRotated, ownerID, SessionRotated{
		OwnerID:     ownerID,
		FromTokenID: fromTokenID,
		ToTokenID:   toTokenID,
		OccurredAt:  p.now().UTC(),
	})
}

func (p *WatermillPublisher) publish(ctx context.Context, topic, ownerID string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("owner_id", ownerID)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Close closes the underlying publisher
func (p *WatermillPublisher) Close() error {
	return p.publisher.Close()
}
