package transport

import (
	"bytes"
	"context"
	"fmt"

	"github.com/nerrad567/hwsim/internal/infrastructure/mqtt"
)

// MQTTClient is the subset of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Subscribe(topic string, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte) error
}

// MQTTBridge carries requests over MQTT. A payload published on
// hwsim/request/{identity} is queued as [identity][payload]; the reply
// payload is published on hwsim/reply/{identity}.
type MQTTBridge struct {
	client MQTTClient
	log    Logger
}

// NewMQTTBridge creates a bridge over a connected client.
// logger is optional - if nil, nothing is logged.
func NewMQTTBridge(client MQTTClient, logger Logger) *MQTTBridge {
	if logger == nil {
		logger = noopLogger{}
	}
	return &MQTTBridge{client: client, log: logger}
}

// Serve subscribes to every request topic and queues requests until ctx is
// cancelled.
func (b *MQTTBridge) Serve(ctx context.Context, queue chan<- Inbound) error {
	topic := mqtt.Topics{}.AllRequests()

	err := b.client.Subscribe(topic, func(t string, payload []byte) error {
		identity, ok := mqtt.Topics{}.IdentityFromRequest(t)
		if !ok {
			return fmt.Errorf("transport: no identity in topic %q", t)
		}
		Deliver(ctx, queue, [][]byte{[]byte(identity), bytes.Clone(payload)}, b)
		return nil
	})
	if err != nil {
		return fmt.Errorf("transport: subscribe %s: %w", topic, err)
	}
	b.log.Info("mqtt bridge subscribed", "topic", topic)

	<-ctx.Done()

	if err := b.client.Unsubscribe(topic); err != nil {
		b.log.Warn("mqtt bridge unsubscribe failed", "error", err)
	}
	return nil
}

// Send publishes the last frame to the reply topic of frames[0].
func (b *MQTTBridge) Send(frames [][]byte) error {
	if len(frames) < 2 || len(frames[0]) == 0 {
		return ErrEmptyReply
	}
	identity := string(frames[0])
	return b.client.Publish(mqtt.Topics{}.Reply(identity), frames[len(frames)-1])
}
