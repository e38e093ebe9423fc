package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/hwsim/internal/infrastructure/mqtt"
)

type fakeMQTT struct {
	mu        sync.Mutex
	handlers  map[string]mqtt.MessageHandler
	published map[string][]byte
	subErr    error
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{
		handlers:  make(map[string]mqtt.MessageHandler),
		published: make(map[string][]byte),
	}
}

func (f *fakeMQTT) Subscribe(topic string, h mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return f.subErr
	}
	f.handlers[topic] = h
	return nil
}

func (f *fakeMQTT) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	return nil
}

func (f *fakeMQTT) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[topic] = payload
	return nil
}

func (f *fakeMQTT) handler(topic string) mqtt.MessageHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[topic]
}

func TestMQTTBridge_QueuesRequestsAndPublishesReplies(t *testing.T) {
	client := newFakeMQTT()
	bridge := NewMQTTBridge(client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	queue := make(chan Inbound, 1)
	served := make(chan error, 1)
	go func() { served <- bridge.Serve(ctx, queue) }()

	var h mqtt.MessageHandler
	require.Eventually(t, func() bool {
		h = client.handler("hwsim/request/+")
		return h != nil
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h("hwsim/request/bench-1", []byte("payload")))

	in := <-queue
	assert.Equal(t, [][]byte{[]byte("bench-1"), []byte("payload")}, in.Frames)

	require.NoError(t, in.Reply.Send([][]byte{[]byte("bench-1"), {}, []byte("reply")}))
	assert.Equal(t, []byte("reply"), client.published["hwsim/reply/bench-1"])

	cancel()
	require.NoError(t, <-served)
	assert.Nil(t, client.handler("hwsim/request/+"), "bridge should unsubscribe on shutdown")
}

func TestMQTTBridge_RejectsBadTopic(t *testing.T) {
	client := newFakeMQTT()
	bridge := NewMQTTBridge(client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue := make(chan Inbound, 1)
	go bridge.Serve(ctx, queue)

	var h mqtt.MessageHandler
	require.Eventually(t, func() bool {
		h = client.handler("hwsim/request/+")
		return h != nil
	}, time.Second, 5*time.Millisecond)

	assert.Error(t, h("hwsim/request/", []byte("x")))
	assert.Empty(t, queue)
}

func TestMQTTBridge_SubscribeFailure(t *testing.T) {
	client := newFakeMQTT()
	client.subErr = errors.New("broker down")

	err := NewMQTTBridge(client, nil).Serve(context.Background(), make(chan Inbound))
	assert.ErrorContains(t, err, "broker down")
}

func TestMQTTBridge_SendErrors(t *testing.T) {
	bridge := NewMQTTBridge(newFakeMQTT(), nil)

	assert.ErrorIs(t, bridge.Send([][]byte{[]byte("only-identity")}), ErrEmptyReply)
	assert.ErrorIs(t, bridge.Send([][]byte{{}, []byte("x")}), ErrEmptyReply)
}

func TestDeliver_GivesUpOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok := Deliver(ctx, make(chan Inbound), [][]byte{[]byte("a"), []byte("b")}, SenderFunc(func([][]byte) error { return nil }))
	assert.False(t, ok)
}
