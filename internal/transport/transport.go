package transport

import (
	"context"
	"errors"
)

var (
	// ErrUnknownClient is returned when a reply names an identity with no live connection.
	ErrUnknownClient = errors.New("transport: unknown client")

	// ErrDuplicateIdentity is returned when a client connects with an identity already in use.
	ErrDuplicateIdentity = errors.New("transport: identity already connected")

	// ErrEmptyReply is returned when a reply carries no identity frame.
	ErrEmptyReply = errors.New("transport: reply without identity frame")

	// ErrClosed is returned when sending on a closed transport.
	ErrClosed = errors.New("transport: closed")

	// ErrSlowClient is returned when a client's send queue is full. The
	// client is disconnected.
	ErrSlowClient = errors.New("transport: client send queue full")

	// ErrConnectionLost is returned by a Client whose connection failed or
	// was abandoned mid-request. The Client must be replaced.
	ErrConnectionLost = errors.New("transport: connection lost")
)

// Sender routes reply frames back to a client. The first frame is the
// client identity taken from the matching request.
type Sender interface {
	Send(frames [][]byte) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(frames [][]byte) error

// Send calls f.
func (f SenderFunc) Send(frames [][]byte) error { return f(frames) }

// Inbound is one request received by a transport: the frames
// [identity][payload] and the Sender its reply must go through.
type Inbound struct {
	Frames [][]byte
	Reply  Sender
}

// Deliver hands frames to the inbound queue, giving up when ctx ends.
func Deliver(ctx context.Context, queue chan<- Inbound, frames [][]byte, reply Sender) bool {
	select {
	case queue <- Inbound{Frames: frames, Reply: reply}:
		return true
	case <-ctx.Done():
		return false
	}
}
