package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"

	"github.com/nerrad567/hwsim/internal/message"
)

// ErrBadReply is returned when a reply does not have the [empty][payload] shape.
var ErrBadReply = errors.New("transport: unexpected reply shape")

var errNoReply = errors.New("connection closed before reply")

// ClientOptions configures Dial.
type ClientOptions struct {
	// Identity is the routing identity to announce. Empty picks a UUID.
	Identity string

	// Codec defaults to JSON. It must match the server's codec.
	Codec message.Codec

	// MaxFrameSize defaults to DefaultMaxFrameSize.
	MaxFrameSize int
}

// Client is a ZMTP DEALER client for the router. Requests are serialised;
// one is in flight at a time.
//
// Replies carry no request id, so a reply that arrives after its request
// was abandoned would be read as the answer to the next one. A request that
// fails or whose context ends therefore closes the connection, and every
// later call returns ErrConnectionLost.
type Client struct {
	nc           net.Conn
	zc           *zmq4.Conn
	codec        message.Codec
	identity     string
	maxFrameSize int

	mu sync.Mutex // serialises requests

	errMu sync.Mutex
	err   error
}

// Dial connects to a router and completes the ZMTP handshake.
//
// Returns:
//   - *Client: connected client; Identity reports the announced identity
//   - error: dial or handshake failure
func Dial(ctx context.Context, addr string, opts ClientOptions) (*Client, error) {
	if opts.Codec == nil {
		opts.Codec = message.JSON{}
	}
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = DefaultMaxFrameSize
	}
	identity := opts.Identity
	if identity == "" {
		identity = uuid.NewString()
	}
	if len(identity) > MaxIdentitySize {
		return nil, fmt.Errorf("transport: identity longer than %d bytes", MaxIdentitySize)
	}

	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	deadline := time.Now().Add(DefaultHandshakeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	stop := context.AfterFunc(ctx, func() {
		//nolint:errcheck // unblocks the handshake
		nc.SetDeadline(time.Now())
	})
	zc, err := handshake(nc, zmq4.Dealer, identity, false, deadline)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		nc.Close()
		return nil, err
	}

	return &Client{
		nc:           nc,
		zc:           zc,
		codec:        opts.Codec,
		identity:     identity,
		maxFrameSize: opts.MaxFrameSize,
	}, nil
}

// Identity returns the routing identity announced to the router.
func (c *Client) Identity() string {
	return c.identity
}

// Err returns the error that retired the connection, or nil while it is usable.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// fail retires the connection. The first cause is kept.
func (c *Client) fail(cause error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = fmt.Errorf("%w (%v)", ErrConnectionLost, cause)
	}
	c.errMu.Unlock()
	c.nc.Close()
}

// exchange writes one message and reads one back. A deadline from ctx
// bounds both; cancellation interrupts them.
func (c *Client) exchange(ctx context.Context, frames [][]byte) ([][]byte, error) {
	deadline, _ := ctx.Deadline()
	//nolint:errcheck // a failed deadline surfaces as an I/O error
	c.nc.SetDeadline(deadline)

	stop := context.AfterFunc(ctx, func() {
		//nolint:errcheck // unblocks pending I/O
		c.nc.SetDeadline(time.Now())
	})

	reply, err := c.roundTrip(frames)
	if !stop() {
		// ctx ended while the exchange was in flight and the deadline may
		// already be in the past.
		if err == nil {
			c.fail(ctx.Err())
			return reply, nil
		}
		return nil, ctx.Err()
	}
	if err != nil && !deadline.IsZero() && !time.Now().Before(deadline) {
		return nil, context.DeadlineExceeded
	}
	return reply, err
}

func (c *Client) roundTrip(frames [][]byte) ([][]byte, error) {
	if err := c.zc.SendMsg(zmq4.NewMsgFrom(frames...)); err != nil {
		return nil, err
	}
	reply, err := readMessage(c.zc, c.maxFrameSize)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errNoReply
		}
		return nil, err
	}
	return reply, nil
}

// Request sends m and returns the decoded reply.
//
// Returns:
//   - *message.Message: the decoded reply
//   - error: ctx's error when it ends first, ErrConnectionLost once the
//     connection has been retired, ErrBadReply for a malformed reply
func (c *Client) Request(ctx context.Context, m *message.Message) (*message.Message, error) {
	payload, err := c.codec.Encode(m)
	if err != nil {
		return nil, fmt.Errorf("transport: encode request: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("transport: request: %w", err)
	}

	frames, err := c.exchange(ctx, [][]byte{{}, payload})
	if err != nil {
		c.fail(err)
		return nil, fmt.Errorf("transport: request: %w", err)
	}
	if len(frames) != 2 || len(frames[0]) != 0 {
		return nil, fmt.Errorf("%w: %d frames", ErrBadReply, len(frames))
	}
	return c.codec.Decode(frames[1])
}

// Command builds a CMD message from val and params, sends it and returns the
// REPLY text of the answer.
func (c *Client) Command(ctx context.Context, val string, params map[string]any) (string, error) {
	m := message.New(val)
	for k, v := range params {
		m.SetParam(k, v)
	}
	reply, err := c.Request(ctx, m)
	if err != nil {
		return "", err
	}
	return reply.StringParam(message.ParamReply)
}

// Close closes the connection. Later calls return ErrConnectionLost.
func (c *Client) Close() error {
	c.errMu.Lock()
	if c.err == nil {
		c.err = fmt.Errorf("%w (%v)", ErrConnectionLost, ErrClosed)
	}
	c.errMu.Unlock()
	return c.nc.Close()
}
