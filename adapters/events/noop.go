package events

import (
	"context"

	"github.com/layer-3/turnstile/ports"
)

// NoopPublisher drops every event
type NoopPublisher struct{}

var _ ports.EventPublisher = NoopPublisher{}

// PublishRevoked does nothing
func (NoopPublisher) PublishRevoked(context.Context, string, string) error { return nil }

// PublishRevokedAll does nothing
func (NoopPublisher) PublishRevokedAll(context.Context, string, int) error { return nil }

// PublishRotated does nothing
func (NoopPublisher) PublishRotated(context.Context, string, string, string) error { return nil }
