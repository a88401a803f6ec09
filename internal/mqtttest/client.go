// Package mqtttest provides an in-memory mqtt.Client for tests.
package mqtttest

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type Message struct {
	Topic    string
	Retained bool
	Payload  string
}

// Client records publishes and subscriptions. Methods it does not override
// panic through the nil embedded interface.
type Client struct {
	mqtt.Client

	mu            sync.Mutex
	published     []Message
	subscriptions map[string]mqtt.MessageHandler

	PublishErr error
}

func NewClient() *Client {
	return &Client{
		subscriptions: make(map[string]mqtt.MessageHandler),
	}
}

func (c *Client) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.PublishErr != nil {
		return &token{err: c.PublishErr}
	}

	var body string
	switch p := payload.(type) {
	case []byte:
		body = string(p)
	case string:
		body = p
	default:
		body = fmt.Sprint(p)
	}

	c.published = append(c.published, Message{Topic: topic, Retained: retained, Payload: body})
	return &token{}
}

func (c *Client) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subscriptions[topic] = callback
	return &token{}
}

func (c *Client) Published() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]Message(nil), c.published...)
}

// Last returns the most recent message published on topic.
func (c *Client) Last(topic string) (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := len(c.published) - 1; i >= 0; i-- {
		if c.published[i].Topic == topic {
			return c.published[i], true
		}
	}
	return Message{}, false
}

func (c *Client) Count(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, m := range c.published {
		if m.Topic == topic {
			n++
		}
	}
	return n
}

func (c *Client) Subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.subscriptions[topic]
	return ok
}

// Deliver calls the handler subscribed to topic synchronously.
func (c *Client) Deliver(topic string, payload string) error {
	c.mu.Lock()
	handler, ok := c.subscriptions[topic]
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("no subscription for %v", topic)
	}

	handler(c, &message{topic: topic, payload: []byte(payload)})
	return nil
}

type token struct {
	err error
}

func (t *token) Wait() bool                       { return true }
func (t *token) WaitTimeout(_ time.Duration) bool { return true }
func (t *token) Error() error                     { return t.err }

func (t *token) Done() <-chan struct{} {
	done := make(chan struct{})
	close(done)
	return done
}

type message struct {
	topic   string
	payload []byte
}

func (m *message) Duplicate() bool   { return false }
func (m *message) Qos() byte         { return 0 }
func (m *message) Retained() bool    { return false }
func (m *message) Topic() string     { return m.topic }
func (m *message) MessageID() uint16 { return 0 }
func (m *message) Payload() []byte   { return m.payload }
func (m *message) Ack()              {}
