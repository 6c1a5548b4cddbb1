// Package bus carries program lifecycle events between Ladder components.
package bus

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/ladder/internal/domain"
)

var (
	// ErrMerchantRequired is returned when a call omits the merchant scope.
	ErrMerchantRequired = errors.New("merchantID is required")

	// ErrClosed is returned by a bus after Close.
	ErrClosed = errors.New("bus is closed")
)

// New creates an event bus based on configuration.
// "channel" returns an in-process ChannelBus, "nats" a NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

func newMessage(merchantID, topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:         uuid.New().String(),
		MerchantID: merchantID,
		Topic:      topic,
		Payload:    payload,
		Metadata:   make(map[string]string),
		Timestamp:  time.Now().UnixNano(),
	}
}
