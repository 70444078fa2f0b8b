// Package bridge connects the host context and the UI context with an
// ordered, asynchronous message channel pair. Messages are JSON-encoded on
// send and decoded on receive, so nothing is shared between the two sides
// except bytes in flight.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/fpang/erasebg-relay/internal/protocol"
)

// DefaultBuffer is the per-direction queue length used by the relay.
const DefaultBuffer = 32

// ErrClosed is returned by Send after either side closed, and by Recv once
// the peer closed and its queued messages have been drained.
var ErrClosed = errors.New("bridge: closed")

// Endpoint is one side of the bridge.
type Endpoint struct {
	name  string
	sends protocol.Direction

	out      chan<- []byte
	in       <-chan []byte
	done     chan struct{}
	peerDone <-chan struct{}

	closeOnce sync.Once
}

// New returns the host-side and UI-side endpoints of a fresh bridge.
// Each direction is FIFO with the given buffer.
func New(buffer int) (host, ui *Endpoint) {
	if buffer < 0 {
		buffer = 0
	}
	toHost := make(chan []byte, buffer)
	toUI := make(chan []byte, buffer)
	hostDone := make(chan struct{})
	uiDone := make(chan struct{})

	host = &Endpoint{
		name:     "host",
		sends:    protocol.HostToUI,
		out:      toUI,
		in:       toHost,
		done:     hostDone,
		peerDone: uiDone,
	}
	ui = &Endpoint{
		name:     "ui",
		sends:    protocol.UIToHost,
		out:      toHost,
		in:       toUI,
		done:     uiDone,
		peerDone: hostDone,
	}
	return host, ui
}

// Name returns "host" or "ui".
func (e *Endpoint) Name() string { return e.name }

// Send queues msg for the peer. It rejects message types that this side is
// not allowed to send, and blocks only until there is queue space, ctx ends,
// or either side closes.
func (e *Endpoint) Send(ctx context.Context, msg protocol.Message) error {
	dir, ok := protocol.DirectionOf(msg.Type)
	if !ok {
		return fmt.Errorf("bridge %s: unknown message type %q", e.name, msg.Type)
	}
	if dir != e.sends {
		return fmt.Errorf("bridge %s: message %s travels the other way", e.name, msg.Type)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("bridge %s: encode %s: %w", e.name, msg.Type, err)
	}

	select {
	case <-e.done:
		return ErrClosed
	case <-e.peerDone:
		return ErrClosed
	default:
	}

	select {
	case e.out <- data:
		log.Trace().Str("from", e.name).Str("type", string(msg.Type)).Str("requestId", msg.RequestID).Msg("Message sent")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrClosed
	case <-e.peerDone:
		return ErrClosed
	}
}

// Recv returns the next message from the peer in send order. Messages that
// fail to decode are logged and skipped.
func (e *Endpoint) Recv(ctx context.Context) (protocol.Message, error) {
	for {
		var data []byte
		select {
		case data = <-e.in:
		case <-ctx.Done():
			return protocol.Message{}, ctx.Err()
		case <-e.done:
			return protocol.Message{}, ErrClosed
		case <-e.peerDone:
			select {
			case data = <-e.in:
			default:
				return protocol.Message{}, ErrClosed
			}
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Str("endpoint", e.name).Msg("Dropping undecodable message")
			continue
		}
		return msg, nil
	}
}

// Close marks this side as finished. Further sends from either side fail
// with ErrClosed; the peer can still drain what was already queued.
func (e *Endpoint) Close() {
	e.closeOnce.Do(func() {
		close(e.done)
		log.Debug().Str("endpoint", e.name).Msg("Bridge endpoint closed")
	})
}

// Done is closed when this endpoint closes.
func (e *Endpoint) Done() <-chan struct{} { return e.done }
