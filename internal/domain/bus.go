package domain

import (
	"context"
)

// EventBus defines the interface for program lifecycle events.
// Supports Go channels (Community) or NATS (Pro).
// All methods require merchantID for strict merchant isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, merchantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, merchantID string, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID         string            `json:"id"`
	MerchantID string            `json:"merchantId"`
	Topic      string            `json:"topic"`
	Payload    []byte            `json:"payload"`
	Metadata   map[string]string `json:"metadata"`
	Timestamp  int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings (Community tier)
	ChannelBufferSize int

	// NATS settings (Pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// GlobalMerchantID is the subscription scope that receives events for every merchant.
const GlobalMerchantID = "_global"

// Program lifecycle topics.
const (
	TopicProgramSaved   = "ladder.program.saved"
	TopicProgramDeleted = "ladder.program.deleted"
)

// ProgramEvent is the payload published on program lifecycle topics.
type ProgramEvent struct {
	MerchantID   string `json:"merchantId"`
	ProgramID    string `json:"programId"`
	Name         string `json:"name,omitempty"`
	TotalRewards int    `json:"totalRewards,omitempty"`
	Actor        string `json:"actor,omitempty"`
	Created      bool   `json:"created,omitempty"`
}
