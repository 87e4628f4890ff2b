// Package transport defines the message channel a streamrpc session runs over
// and ships an in-process implementation.
package transport

import (
	"context"
	"errors"

	"github.com/ggoodman/streamrpc-go/wire"
)

// ErrClosed is returned by Send once the transport has been closed.
var ErrClosed = errors.New("transport: closed")

// Transport is a bidirectional, message-oriented connection.
//
// Handlers registered with OnMessage receive inbound messages in arrival
// order. Handlers registered with OnClose run once when the connection goes
// away. Send must be safe for concurrent use.
type Transport interface {
	OnMessage(fn func(wire.Message))
	OnClose(fn func())
	Send(ctx context.Context, m wire.Message) error
}
