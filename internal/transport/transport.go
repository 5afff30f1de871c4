// Package transport defines the interface for pluggable message transports.
//
// Each transport (gRPC, HTTP/WebSocket, MQTT) accepts utterances, hands them
// to the dispatcher through a Handler and returns the interpreted result to
// the sender. The same adapters deliver results to downstream targets, so
// the dispatcher only ever sees the Sender side for routing.
package transport

import (
	"context"

	"github.com/nadzzz/homenlu/internal/message"
)

// Handler processes an incoming message and returns the result for the sender.
// The dispatcher provides this handler to each transport.
type Handler func(ctx context.Context, msg *message.Message) (*message.DispatchResult, error)

// Sender delivers an encoded result to a downstream target.
type Sender interface {
	// Name returns the protocol identifier (e.g., "grpc", "http", "mqtt").
	// It is matched against message.Target.Protocol.
	Name() string

	// Send delivers payload to target using this transport's protocol.
	Send(ctx context.Context, target message.Target, payload []byte) error
}

// Transport is the interface that every transport adapter must implement.
type Transport interface {
	Sender

	// Listen starts accepting incoming messages and dispatches them to the handler.
	// It blocks until the context is cancelled.
	Listen(ctx context.Context, handler Handler) error

	// Close gracefully shuts down the transport, draining in-flight work.
	Close() error
}
