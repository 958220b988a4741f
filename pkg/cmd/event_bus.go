package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/stagehand/pkg/channels/gochannel"
	"github.com/dukex/stagehand/pkg/channels/kafka"
	"github.com/dukex/stagehand/pkg/config"
	"github.com/dukex/stagehand/pkg/eventbus"
)

var ErrUnsupportedProvider = errors.New("unsupported provider")

// NewEventBus builds the bus for the configured provider. gochannel only connects components
// of the same process.
func NewEventBus(bus config.Bus, logger *slog.Logger) (eventbus.EventBus, error) {
	var (
		pub message.Publisher
		sub message.Subscriber
		err error
	)

	watermillLogger := watermill.NewSlogLogger(logger)

	switch bus.Provider {
	case config.ProviderKafka:
		pub, sub, err = kafka.CreateChannel(watermillLogger, bus.KafkaBrokers, bus.ConsumerGroup)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}
	case config.ProviderGoChannel:
		pub, sub, err = gochannel.CreateChannel(watermillLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-process pub/sub: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: event bus %q", ErrUnsupportedProvider, bus.Provider)
	}

	return eventbus.NewWatermillEventBus(pub, sub, logger), nil
}
