package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/hwsim/internal/message"
)

// startRouter runs a router on a free port with an echo responder that
// answers "<identity> <msg_val> <DEVICE>".
func startRouter(t *testing.T, opts RouterOptions) (*Router, string) {
	t.Helper()
	return startRouterWith(t, opts, echo)
}

func startRouterWith(t *testing.T, opts RouterOptions, respond func(<-chan Inbound)) (*Router, string) {
	t.Helper()

	opts.Address = "127.0.0.1:0"
	r := NewRouter(opts)
	require.NoError(t, r.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	queue := make(chan Inbound, 8)
	served := make(chan error, 1)
	go func() { served <- r.Serve(ctx, queue) }()
	go respond(queue)

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-served:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return after cancel")
		}
		close(queue)
	})
	return r, r.Addr().String()
}

// echo answers inline, like the dispatcher does.
func echo(queue <-chan Inbound) {
	codec := message.JSON{}
	for in := range queue {
		identity := in.Frames[0]
		req, err := codec.Decode(in.Frames[len(in.Frames)-1])
		if err != nil {
			continue
		}
		alias, _ := req.StringParam(message.ParamDevice)
		data, _ := codec.Encode(message.NewReply(string(identity) + " " + req.MsgVal + " " + alias))
		in.Reply.Send([][]byte{identity, {}, data})
	}
}

func dial(t *testing.T, addr, identity string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, addr, ClientOptions{Identity: identity})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// rawPeer completes a DEALER handshake and returns the bare connection.
func rawPeer(t *testing.T, addr, identity string) (net.Conn, *zmq4.Conn) {
	t.Helper()
	nc, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { nc.Close() })

	zc, err := handshake(nc, zmq4.Dealer, identity, false, time.Now().Add(2*time.Second))
	require.NoError(t, err)
	return nc, zc
}

func TestRouter_RequestReply(t *testing.T) {
	_, addr := startRouter(t, RouterOptions{})
	c := dial(t, addr, "bench-1")

	assert.Equal(t, "bench-1", c.Identity())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	text, err := c.Command(ctx, message.ValStatus, map[string]any{message.ParamDevice: "LED_BLUE"})
	require.NoError(t, err)
	assert.Equal(t, "bench-1 STATUS LED_BLUE", text)

	text, err = c.Command(ctx, message.ValRead, map[string]any{message.ParamDevice: "TEMP"})
	require.NoError(t, err)
	assert.Equal(t, "bench-1 READ TEMP", text)
}

func TestClient_DefaultIdentity(t *testing.T) {
	r, addr := startRouter(t, RouterOptions{})
	c := dial(t, addr, "")

	assert.Len(t, c.Identity(), 36)
	assert.Eventually(t, func() bool {
		ids := r.Identities()
		return len(ids) == 1 && ids[0] == c.Identity()
	}, time.Second, 10*time.Millisecond)
}

func TestRouter_AssignsIdentityToAnonymousPeer(t *testing.T) {
	r, addr := startRouter(t, RouterOptions{})
	rawPeer(t, addr, "")

	assert.Eventually(t, func() bool {
		ids := r.Identities()
		return len(ids) == 1 && len(ids[0]) == 36
	}, time.Second, 10*time.Millisecond)
}

func TestRouter_RoutesRepliesPerClient(t *testing.T) {
	_, addr := startRouter(t, RouterOptions{})
	a := dial(t, addr, "client-a")
	b := dial(t, addr, "client-b")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	textB, err := b.Command(ctx, message.ValStatus, map[string]any{message.ParamDevice: "POWER"})
	require.NoError(t, err)
	textA, err := a.Command(ctx, message.ValStatus, map[string]any{message.ParamDevice: "TEMP"})
	require.NoError(t, err)

	assert.Equal(t, "client-a STATUS TEMP", textA)
	assert.Equal(t, "client-b STATUS POWER", textB)
}

func TestRouter_DuplicateIdentity(t *testing.T) {
	r, addr := startRouter(t, RouterOptions{})
	first := dial(t, addr, "dup")
	require.Eventually(t, func() bool { return r.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	second := dial(t, addr, "dup")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := second.Command(ctx, message.ValStatus, map[string]any{message.ParamDevice: "X"})
	assert.Error(t, err, "the router closes a connection claiming a live identity")
	assert.ErrorIs(t, second.Err(), ErrConnectionLost)

	text, err := first.Command(ctx, message.ValStatus, map[string]any{message.ParamDevice: "X"})
	require.NoError(t, err, "first client must keep working")
	assert.Equal(t, "dup STATUS X", text)
	assert.Equal(t, 1, r.ConnectionCount())
}

func TestRouter_ReleasesIdentityOnDisconnect(t *testing.T) {
	r, addr := startRouter(t, RouterOptions{})

	c := dial(t, addr, "again")
	require.Eventually(t, func() bool { return r.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return r.ConnectionCount() == 0 }, time.Second, 10*time.Millisecond)

	c2 := dial(t, addr, "again")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	text, err := c2.Command(ctx, message.ValStatus, map[string]any{message.ParamDevice: "X"})
	require.NoError(t, err)
	assert.Equal(t, "again STATUS X", text)
}

func TestRouter_PrependsIdentityToMultiFrameMessages(t *testing.T) {
	r := NewRouter(RouterOptions{Address: "127.0.0.1:0"})
	require.NoError(t, r.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue := make(chan Inbound, 1)
	go r.Serve(ctx, queue)

	_, zc := rawPeer(t, r.Addr().String(), "raw")
	require.NoError(t, zc.SendMsg(zmq4.NewMsgFrom([]byte{}, []byte("payload"))))

	select {
	case in := <-queue:
		assert.Equal(t, [][]byte{[]byte("raw"), {}, []byte("payload")}, in.Frames)

		require.NoError(t, in.Reply.Send([][]byte{[]byte("raw"), {}, []byte("reply")}))
		got, err := readMessage(zc, DefaultMaxFrameSize)
		require.NoError(t, err)
		assert.Equal(t, [][]byte{{}, []byte("reply")}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("request not queued")
	}
}

func TestRouter_DropsOversizedFrame(t *testing.T) {
	r, addr := startRouter(t, RouterOptions{MaxFrameSize: 16})

	_, zc := rawPeer(t, addr, "big")
	require.Eventually(t, func() bool { return r.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, zc.SendMsg(zmq4.NewMsgFrom([]byte{}, []byte(strings.Repeat("x", 32)))))
	assert.Eventually(t, func() bool { return r.ConnectionCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestRouter_SendErrors(t *testing.T) {
	r := NewRouter(RouterOptions{})

	assert.ErrorIs(t, r.Send(nil), ErrEmptyReply)
	assert.ErrorIs(t, r.Send([][]byte{{}, []byte("x")}), ErrEmptyReply)
	assert.ErrorIs(t, r.Send([][]byte{[]byte("ghost"), {}, []byte("x")}), ErrUnknownClient)
}

func TestRouter_HandshakeTimeout(t *testing.T) {
	_, addr := startRouter(t, RouterOptions{HandshakeTimeout: 50 * time.Millisecond})

	nc, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer nc.Close()

	require.NoError(t, nc.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = io.ReadAll(nc)
	assert.NoError(t, err, "router should close a connection that never greets")
}

func TestRouter_SlowClientDoesNotStallOthers(t *testing.T) {
	r, addr := startRouter(t, RouterOptions{SendQueueSize: 4, WriteTimeout: 200 * time.Millisecond})

	// "slow" sends large requests and never reads the replies.
	nc, zc := rawPeer(t, addr, "slow")
	big := message.New(message.ValStatus)
	big.SetParam(message.ParamDevice, strings.Repeat("x", 16<<10))
	payload, err := message.JSON{}.Encode(big)
	require.NoError(t, err)

	flooding := make(chan struct{})
	go func() {
		defer close(flooding)
		for {
			if err := zc.SendMsg(zmq4.NewMsgFrom([]byte{}, payload)); err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() {
		nc.Close()
		<-flooding
	})

	fast := dial(t, addr, "fast")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	text, err := fast.Command(ctx, message.ValStatus, map[string]any{message.ParamDevice: "LED_BLUE"})
	require.NoError(t, err)
	assert.Equal(t, "fast STATUS LED_BLUE", text)

	assert.Eventually(t, func() bool {
		return !slices.Contains(r.Identities(), "slow")
	}, 10*time.Second, 20*time.Millisecond, "the router drops a client that stops reading")

	text, err = fast.Command(ctx, message.ValRead, map[string]any{message.ParamDevice: "TEMP"})
	require.NoError(t, err)
	assert.Equal(t, "fast READ TEMP", text)
}

func TestRouter_SendQueueOverflow(t *testing.T) {
	r := NewRouter(RouterOptions{SendQueueSize: 1})
	client, server := net.Pipe()
	defer client.Close()

	p := &peer{
		identity: "stuck",
		nc:       server,
		out:      make(chan zmq4.Msg, 1),
		gone:     make(chan struct{}),
	}
	require.NoError(t, r.register(p))

	reply := [][]byte{[]byte("stuck"), {}, []byte("one")}
	require.NoError(t, r.Send(reply))
	assert.ErrorIs(t, r.Send(reply), ErrSlowClient)

	select {
	case <-p.gone:
	default:
		t.Fatal("overflowing client was not dropped")
	}
	assert.ErrorIs(t, r.Send(reply), ErrUnknownClient)
}

func TestRouter_ServeClosesClients(t *testing.T) {
	r := NewRouter(RouterOptions{Address: "127.0.0.1:0"})
	require.NoError(t, r.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	queue := make(chan Inbound, 1)
	served := make(chan error, 1)
	go func() { served <- r.Serve(ctx, queue) }()

	c := dial(t, r.Addr().String(), "leaving")
	require.Eventually(t, func() bool { return r.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}

	reqCtx, reqCancel := context.WithTimeout(context.Background(), time.Second)
	defer reqCancel()
	_, err := c.Command(reqCtx, message.ValStatus, map[string]any{message.ParamDevice: "X"})
	assert.Error(t, err)

	assert.ErrorIs(t, r.Listen(), ErrClosed)
}

// failingListener fails the first fails Accepts, then blocks until closed.
type failingListener struct {
	fails  int
	closed chan struct{}
	once   sync.Once

	mu    sync.Mutex
	calls []time.Time
}

func (l *failingListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	l.calls = append(l.calls, time.Now())
	n := len(l.calls)
	l.mu.Unlock()

	if n <= l.fails {
		return nil, errors.New("accept: too many open files")
	}
	<-l.closed
	return nil, net.ErrClosed
}

func (l *failingListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *failingListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5555}
}

func (l *failingListener) attempts() []time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.calls)
}

func TestRouter_AcceptErrorsBackOff(t *testing.T) {
	ln := &failingListener{fails: 4, closed: make(chan struct{})}
	r := NewRouter(RouterOptions{})
	r.listener = ln

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- r.Serve(ctx, make(chan Inbound)) }()

	require.Eventually(t, func() bool { return len(ln.attempts()) == 5 }, 2*time.Second, time.Millisecond)

	calls := ln.attempts()
	want := minAcceptDelay
	for i := 1; i < len(calls); i++ {
		gap := calls[i].Sub(calls[i-1])
		assert.GreaterOrEqual(t, gap, want, "retry %d came too soon", i)
		want *= 2
	}

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestNextAcceptDelay(t *testing.T) {
	tests := []struct {
		prev, want time.Duration
	}{
		{0, 5 * time.Millisecond},
		{5 * time.Millisecond, 10 * time.Millisecond},
		{320 * time.Millisecond, 640 * time.Millisecond},
		{640 * time.Millisecond, time.Second},
		{time.Second, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, nextAcceptDelay(tt.prev), "after %s", tt.prev)
	}
}

func TestClient_RequestHonoursContext(t *testing.T) {
	r := NewRouter(RouterOptions{Address: "127.0.0.1:0"})
	require.NoError(t, r.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Nobody drains the queue, so requests are never answered.
	go r.Serve(ctx, make(chan Inbound))

	c := dial(t, r.Addr().String(), "patient")

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer reqCancel()
	_, err := c.Command(reqCtx, message.ValStatus, map[string]any{message.ParamDevice: "X"})
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "err = %v", err)
	assert.ErrorIs(t, c.Err(), ErrConnectionLost)
}

func TestClient_LateReplyIsNeverReadAsTheNextAnswer(t *testing.T) {
	// The first request is answered late; every other one at once.
	respond := func(queue <-chan Inbound) {
		codec := message.JSON{}
		for in := range queue {
			req, err := codec.Decode(in.Frames[len(in.Frames)-1])
			if err != nil {
				continue
			}
			data, _ := codec.Encode(message.NewReply("reply for " + req.MsgVal))
			frames := [][]byte{in.Frames[0], {}, data}
			if req.MsgVal == message.ValStatus {
				reply := in.Reply
				time.AfterFunc(700*time.Millisecond, func() { reply.Send(frames) })
				continue
			}
			in.Reply.Send(frames)
		}
	}
	_, addr := startRouterWith(t, RouterOptions{}, respond)
	c := dial(t, addr, "impatient")

	first, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := c.Command(first, message.ValStatus, map[string]any{message.ParamDevice: "X"})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	time.Sleep(700 * time.Millisecond)

	second, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	text, err := c.Command(second, message.ValRead, map[string]any{message.ParamDevice: "X"})
	assert.ErrorIs(t, err, ErrConnectionLost)
	assert.NotEqual(t, "reply for STATUS", text)

	fresh := dial(t, addr, "impatient-2")
	text, err = fresh.Command(second, message.ValRead, map[string]any{message.ParamDevice: "X"})
	require.NoError(t, err)
	assert.Equal(t, "reply for READ", text)
}

func TestClient_CloseRetiresClient(t *testing.T) {
	_, addr := startRouter(t, RouterOptions{})
	c := dial(t, addr, "closing")

	require.NoError(t, c.Close())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := c.Command(ctx, message.ValStatus, map[string]any{message.ParamDevice: "X"})
	assert.ErrorIs(t, err, ErrConnectionLost)
}
