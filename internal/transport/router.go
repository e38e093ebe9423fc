package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"
)

const (
	// DefaultSendQueueSize is the number of replies buffered per client.
	DefaultSendQueueSize = 64

	// DefaultWriteTimeout bounds a single reply write.
	DefaultWriteTimeout = 5 * time.Second

	// Accept retry delays after a failed Accept, doubling up to the max.
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Logger defines the logging interface for transports.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// RouterOptions configures a Router.
type RouterOptions struct {
	// Address to listen on, e.g. "0.0.0.0:5555". Port 0 picks a free port.
	Address string

	// Identity is announced to peers in the ZMTP handshake.
	Identity string

	// MaxFrameSize defaults to DefaultMaxFrameSize.
	MaxFrameSize int

	// HandshakeTimeout defaults to DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// SendQueueSize defaults to DefaultSendQueueSize.
	SendQueueSize int

	// WriteTimeout defaults to DefaultWriteTimeout.
	WriteTimeout time.Duration

	// Logger is optional.
	Logger Logger
}

// Router is the TCP request/reply endpoint, a ZMTP 3 ROUTER socket.
//
// Peers are DEALER or REQ sockets. Each is known by the routing identity it
// announces in the handshake; a peer without one is assigned a UUID. A
// connection announcing an identity that is already connected is closed.
//
// Each client message is queued as [identity][frames...]. Send routes a
// reply by its first frame and queues the remaining frames on that client's
// send queue. A client that lets its queue fill, or does not accept a write
// within WriteTimeout, is disconnected so it cannot hold up other clients.
type Router struct {
	opts RouterOptions
	log  Logger

	mu       sync.Mutex
	listener net.Listener
	peers    map[string]*peer
	closed   bool

	wg sync.WaitGroup
}

// peer is one connected client.
type peer struct {
	identity string
	nc       net.Conn
	zc       *zmq4.Conn
	out      chan zmq4.Msg
	gone     chan struct{}
	once     sync.Once
}

// drop closes the connection; the reader and writer goroutines then exit.
func (p *peer) drop() {
	p.once.Do(func() {
		close(p.gone)
		p.nc.Close()
	})
}

// NewRouter creates a router. Call Listen or Serve to bind it.
func NewRouter(opts RouterOptions) *Router {
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = DefaultMaxFrameSize
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = DefaultSendQueueSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	log := opts.Logger
	if log == nil {
		log = noopLogger{}
	}
	return &Router{
		opts:  opts,
		log:   log,
		peers: make(map[string]*peer),
	}
}

// Listen binds the listening socket without accepting connections.
func (r *Router) Listen() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if r.listener != nil {
		return errors.New("transport: router already listening")
	}
	ln, err := net.Listen("tcp", r.opts.Address)
	if err != nil {
		return fmt.Errorf("transport: listen on %s: %w", r.opts.Address, err)
	}
	r.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (r *Router) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Serve accepts connections and queues their requests until ctx is
// cancelled. It closes every connection before returning.
//
// A failed Accept is retried after a delay that starts at 5ms and doubles
// up to one second, resetting after the next successful Accept.
func (r *Router) Serve(ctx context.Context, queue chan<- Inbound) error {
	if r.Addr() == nil {
		if err := r.Listen(); err != nil {
			return err
		}
	}
	stop := context.AfterFunc(ctx, r.shutdown)
	defer stop()

	r.log.Info("router listening", "address", r.Addr().String())

	r.mu.Lock()
	ln := r.listener
	r.mu.Unlock()

	var delay time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				break
			}
			delay = nextAcceptDelay(delay)
			r.log.Warn("accept failed", "error", err, "retry_in", delay)
			if !sleepContext(ctx, delay) {
				break
			}
			continue
		}
		delay = 0

		r.wg.Add(1)
		go r.handle(ctx, nc, queue)
	}

	r.shutdown()
	r.wg.Wait()
	r.log.Info("router stopped")
	return nil
}

func nextAcceptDelay(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptDelay
	}
	return min(2*d, maxAcceptDelay)
}

// sleepContext waits for d, returning false if ctx ends first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Router) shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	if r.listener != nil {
		r.listener.Close()
	}
	for _, p := range r.peers {
		p.drop()
	}
}

func (r *Router) handle(ctx context.Context, nc net.Conn, queue chan<- Inbound) {
	defer r.wg.Done()
	defer nc.Close()

	remote := nc.RemoteAddr().String()

	zc, err := handshake(nc, zmq4.Router, r.opts.Identity, true, time.Now().Add(r.opts.HandshakeTimeout))
	if err != nil {
		r.log.Debug("handshake failed", "remote", remote, "error", err)
		return
	}

	identity := peerIdentity(zc)
	if len(identity) > MaxIdentitySize {
		r.log.Warn("identity too long", "remote", remote, "length", len(identity))
		return
	}
	if identity == "" {
		identity = uuid.NewString()
	}

	p := &peer{
		identity: identity,
		nc:       nc,
		zc:       zc,
		out:      make(chan zmq4.Msg, r.opts.SendQueueSize),
		gone:     make(chan struct{}),
	}
	if err := r.register(p); err != nil {
		r.log.Warn("client refused", "identity", identity, "remote", remote, "error", err)
		return
	}
	defer r.unregister(p)
	defer p.drop()

	r.wg.Add(1)
	go r.write(p)

	r.log.Info("client connected", "identity", identity, "remote", remote)

	for {
		frames, err := readMessage(zc, r.opts.MaxFrameSize)
		if err != nil {
			select {
			case <-p.gone:
				r.log.Debug("client connection closed", "identity", identity)
			default:
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					r.log.Info("client disconnected", "identity", identity)
				} else {
					r.log.Warn("client read failed", "identity", identity, "error", err)
				}
			}
			return
		}

		req := make([][]byte, 0, len(frames)+1)
		req = append(req, []byte(identity))
		req = append(req, frames...)
		if !Deliver(ctx, queue, req, r) {
			return
		}
	}
}

// write drains p's send queue. A write that fails or misses the deadline
// drops the client.
func (r *Router) write(p *peer) {
	defer r.wg.Done()

	for {
		select {
		case <-p.gone:
			return
		case msg := <-p.out:
			//nolint:errcheck // a failed deadline surfaces as a write error
			p.nc.SetWriteDeadline(time.Now().Add(r.opts.WriteTimeout))
			if err := p.zc.SendMsg(msg); err != nil {
				r.log.Warn("dropping client, reply write failed", "identity", p.identity, "error", err)
				p.drop()
				return
			}
		}
	}
}

func (r *Router) register(p *peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if _, dup := r.peers[p.identity]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateIdentity, p.identity)
	}
	r.peers[p.identity] = p
	return nil
}

func (r *Router) unregister(p *peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.peers[p.identity] == p {
		delete(r.peers, p.identity)
	}
}

// Send queues frames[1:] for the client whose identity is frames[0]. It
// never blocks: a client whose queue is full is disconnected and
// ErrSlowClient returned.
func (r *Router) Send(frames [][]byte) error {
	if len(frames) == 0 || len(frames[0]) == 0 {
		return ErrEmptyReply
	}
	identity := string(frames[0])

	r.mu.Lock()
	p, ok := r.peers[identity]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClient, identity)
	}

	select {
	case <-p.gone:
		return fmt.Errorf("%w: %s", ErrUnknownClient, identity)
	default:
	}

	select {
	case p.out <- zmq4.NewMsgFrom(frames[1:]...):
		return nil
	default:
		r.log.Warn("dropping slow client", "identity", identity, "queued", len(p.out))
		p.drop()
		return fmt.Errorf("%w: %s", ErrSlowClient, identity)
	}
}

// Identities returns the connected client identities, sorted.
func (r *Router) Identities() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ConnectionCount returns the number of connected clients.
func (r *Router) ConnectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}
