package ports

import "context"

// EventPublisher notifies other instances about session lifecycle changes
type EventPublisher interface {
	PublishRevoked(ctx context.Context, ownerID, tokenID string) error
	PublishRevokedAll(ctx context.Context, ownerID string, count int) error
	PublishRotated(ctx context.Context, ownerID, fromTokenID, toTokenID string) error
}
