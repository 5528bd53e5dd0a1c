package testutils

import (
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// FakeToken is a pahomqtt.Token completed by hand.
type FakeToken struct {
	done chan struct{}
	err  error
}

// CompletedToken returns a token that is already done with err.
func CompletedToken(err error) *FakeToken {
	t := &FakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

// PendingToken returns a token that never completes.
func PendingToken() *FakeToken {
	return &FakeToken{done: make(chan struct{})}
}

func (t *FakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *FakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *FakeToken) Done() <-chan struct{} { return t.done }
func (t *FakeToken) Error() error          { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// Published is one message handed to FakeMQTTClient.Publish.
type Published struct {
	Topic   string
	Payload []byte
}

// FakeMQTTClient records publishes and subscriptions of the paho client methods
// the cloud sink uses. Every call returns Token, or a completed token when nil.
type FakeMQTTClient struct {
	mu           sync.Mutex
	published    []Published
	handlers     map[string]pahomqtt.MessageHandler
	unsubscribed []string
	Token        pahomqtt.Token
}

func NewFakeMQTTClient() *FakeMQTTClient {
	return &FakeMQTTClient{handlers: map[string]pahomqtt.MessageHandler{}}
}

func (c *FakeMQTTClient) next() pahomqtt.Token {
	if c.Token != nil {
		return c.Token
	}
	return CompletedToken(nil)
}

func (c *FakeMQTTClient) Publish(topic string, _ byte, _ bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, Published{Topic: topic, Payload: payload.([]byte)})
	return c.next()
}

func (c *FakeMQTTClient) Subscribe(topic string, _ byte, cb pahomqtt.MessageHandler) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = cb
	return c.next()
}

func (c *FakeMQTTClient) Unsubscribe(topics ...string) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = append(c.unsubscribed, topics...)
	return c.next()
}

// Published returns a copy of everything published so far.
func (c *FakeMQTTClient) Published() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Published(nil), c.published...)
}

// Unsubscribed returns the topic filters removed so far.
func (c *FakeMQTTClient) Unsubscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.unsubscribed...)
}

// Subscribed reports whether a handler is registered for filter.
func (c *FakeMQTTClient) Subscribed(filter string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[filter]
	return ok
}

// Deliver hands a message on topic to the handler registered for filter.
func (c *FakeMQTTClient) Deliver(filter, topic, payload string) {
	c.mu.Lock()
	h := c.handlers[filter]
	c.mu.Unlock()
	h(nil, fakeMessage{topic: topic, payload: []byte(payload)})
}
