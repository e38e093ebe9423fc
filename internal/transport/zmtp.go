package transport

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/go-zeromq/zmq4/security/null"
)

const (
	// DefaultHandshakeTimeout bounds the ZMTP greeting of a new connection.
	DefaultHandshakeTimeout = 5 * time.Second

	// DefaultMaxFrameSize is the default maximum frame size (64 KB).
	DefaultMaxFrameSize = 65536

	// MaxIdentitySize is the longest routing identity ZMTP can carry.
	MaxIdentitySize = 255

	// identityProperty is the READY metadata key holding the routing identity.
	identityProperty = "Identity"
)

var (
	// ErrFrameTooLarge indicates a frame exceeds the maximum size.
	ErrFrameTooLarge = errors.New("transport: frame too large")

	// ErrEmptyMessage indicates a message with no frames.
	ErrEmptyMessage = errors.New("transport: message has no frames")
)

// handshake runs the ZMTP greeting and READY exchange on nc with the NULL
// mechanism. The deadline covers the whole exchange and is cleared after it.
func handshake(nc net.Conn, typ zmq4.SocketType, identity string, server bool, deadline time.Time) (*zmq4.Conn, error) {
	//nolint:errcheck // a failed deadline surfaces as a handshake error
	nc.SetDeadline(deadline)

	zc, err := zmq4.Open(nc, null.Security(), typ, zmq4.SocketIdentity(identity), server, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: zmtp handshake: %w", err)
	}

	//nolint:errcheck // cleared deadline; failures surface on I/O
	nc.SetDeadline(time.Time{})
	return zc, nil
}

// peerIdentity returns the routing identity announced by the peer, empty
// when it did not set one.
func peerIdentity(zc *zmq4.Conn) string {
	return zc.Peer.Meta[identityProperty]
}

// readMessage returns the frames of the next data message, skipping ZMTP
// commands such as PING.
func readMessage(zc *zmq4.Conn, maxFrameSize int) ([][]byte, error) {
	for {
		msg, err := zc.RecvMsg()
		if err != nil {
			return nil, err
		}
		if msg.Type != zmq4.UsrMsg {
			continue
		}
		if len(msg.Frames) == 0 {
			return nil, ErrEmptyMessage
		}
		for _, f := range msg.Frames {
			if len(f) > maxFrameSize {
				return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(f), maxFrameSize)
			}
		}
		return msg.Frames, nil
	}
}
