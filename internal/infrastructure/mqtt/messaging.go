package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publish sends payload to topic at the configured QoS and waits for the
// broker to acknowledge it.
func (c *Client) Publish(topic string, payload []byte) error {
	return c.PublishQoS(topic, payload, byte(c.cfg.QoS), false)
}

// PublishQoS sends payload with an explicit QoS and retain flag.
func (c *Client) PublishQoS(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload %d bytes exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	return wait(c.paho.Publish(topic, qos, retained, payload), ErrPublishFailed, topic)
}

// Subscribe registers handler for topic, which may contain wildcards. The
// subscription is restored after reconnects.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	qos := byte(c.cfg.QoS)

	c.subsMu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.subsMu.Unlock()

	if !c.IsConnected() {
		// Picked up by onConnect.
		return nil
	}
	return wait(c.paho.Subscribe(topic, qos, c.wrap(handler)), ErrSubscribeFailed, topic)
}

// Unsubscribe removes the subscription for topic.
func (c *Client) Unsubscribe(topic string) error {
	c.subsMu.Lock()
	delete(c.subs, topic)
	c.subsMu.Unlock()

	if !c.IsConnected() {
		return nil
	}
	return wait(c.paho.Unsubscribe(topic), ErrSubscribeFailed, topic)
}

func wait(token pahomqtt.Token, sentinel error, topic string) error {
	if !token.WaitTimeout(defaultOpTimeout) {
		return fmt.Errorf("%w: %s: timeout after %v", sentinel, topic, defaultOpTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", sentinel, topic, err)
	}
	return nil
}
