// Package transport defines the stub-call contract consumed by the stream
// proxy and provides the concrete adapters: gRPC streaming attempts and
// JSON-RPC unary calls for the page engine.
package transport

import (
	"context"

	"github.com/vietddude/relay/internal/core/domain"
)

// Stream is one upstream attempt. Events arrive in protocol order
// (metadata? data* status end | error) and the channel is closed after the
// terminal event. Cancel causes termination without further data.
type Stream interface {
	Events() <-chan domain.Event
	Cancel()
}

// SendStream adds the write half for client-streaming and bidi calls.
type SendStream interface {
	Stream
	Send(msg any) error
	CloseSend() error
}

// StubCall launches one attempt with the given request. The proxy owns the
// returned stream exclusively.
type StubCall func(ctx context.Context, req any) Stream
