package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/layer-3/turnstile/ports"
)

type options struct {
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
	events ports.EventPublisher
}

// Option configures the services in this package
type Option func(*options)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator overrides how token ids are generated
func WithIDGenerator(newID func() string) Option {
	return func(o *options) { o.newID = newID }
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEvents sets the session event publisher
func WithEvents(events ports.EventPublisher) Option {
	return func(o *options) { o.events = events }
}

func newOptions(opts []Option) options {
	o := options{
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default(),
		events: noopEvents{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type noopEvents struct{}

func (noopEvents) PublishRevoked(context.Context, string, string) error         { return nil }
func (noopEvents) PublishRevokedAll(context.Context, string, int) error         { return nil }
func (noopEvents) PublishRotated(context.Context, string, string, string) error { return nil }
