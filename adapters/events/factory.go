package events

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
)

// NewMessagePublisher builds the watermill publisher for the given driver.
// "memory" uses an in-process channel and "redis" uses Redis streams.
func NewMessagePublisher(driver string, client redis.UniversalClient) (message.Publisher, error) {
	logger := watermill.NewStdLogger(false, false)

	switch driver {
	case "memory":
		return gochannel.NewGoChannel(gochannel.Config{}, logger), nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("redis events driver requires a redis client")
		}
		pub, err := redisstream.NewPublisher(redisstream.PublisherConfig{
			Client:     client,
			Marshaller: redisstream.DefaultMarshallerUnmarshaller{},
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis stream publisher: %w", err)
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown events driver %q", driver)
	}
}
