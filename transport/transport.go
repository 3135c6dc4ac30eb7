// Package transport defines the message transport used between the link
// server and its targets, independent of the process boundary it crosses.
//
// A Conn is one end of a bidirectional channel. Messages are osc.Message
// values whose Address is the channel name. Every Conn dispatches the
// messages it receives on a single goroutine, so handlers registered on one
// Conn never run concurrently with each other and messages are handled in
// the order they were sent.
package transport

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/scgolang/osc"
)

// ErrClosed is returned when sending on a closed Conn.
var ErrClosed = errors.New("transport closed")

// Subscription identifies a registered listener.
type Subscription struct {
	Address string
	id      uint64
}

// Conn is the capability set every transport provides.
type Conn interface {
	// Send delivers m to the other end. It does not wait for handlers.
	Send(m osc.Message) error

	// On registers h for every message received on address.
	On(address string, h osc.Method) Subscription

	// Once registers h for the next message received on address.
	Once(address string, h osc.Method) Subscription

	// RemoveListener removes a listener. Removing twice is a no-op.
	RemoveListener(s Subscription)

	// Invoke sends m and waits for the next message on reply.
	Invoke(ctx context.Context, m osc.Message, reply string) (osc.Message, error)

	// Done is closed when the Conn is closed by either end.
	Done() <-chan struct{}

	Close() error
}

// Invoke implements request/response on top of Once and Send.
func Invoke(ctx context.Context, c Conn, m osc.Message, reply string) (osc.Message, error) {
	replies := make(chan osc.Message, 1)
	sub := c.Once(reply, func(r osc.Message) error {
		TrySend(replies, r)
		return nil
	})
	defer c.RemoveListener(sub)

	if err := c.Send(m); err != nil {
		return osc.Message{}, errors.Wrapf(err, "sending %s", m.Address)
	}
	select {
	case r := <-replies:
		return r, nil
	case <-c.Done():
		return osc.Message{}, errors.Wrapf(ErrClosed, "waiting for %s", reply)
	case <-ctx.Done():
		return osc.Message{}, errors.Wrapf(ctx.Err(), "waiting for %s", reply)
	}
}

// TrySend is a helper function to send a value to a channel if it is not full.
// It is guaranteed to be non-blocking. Return true if the value was sent, false
// otherwise.
func TrySend[T any](c chan<- T, v T) bool {
	select {
	case c <- v:
	default:
		return false
	}
	return true
}

// TimeoutReceive is a helper function to block until a value is received from a
// channel, or timing out after t. ok will be false if the timeout occurred or
// if the channel is closed.
func TimeoutReceive[T any](c <-chan T, t time.Duration) (v T, ok bool) {
	select {
	case v, ok = <-c:
		return v, ok
	case <-time.After(t):
		return v, false
	}
}
