package mqtt

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/linkstage/internal/events"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	outboxSize     = 256
)

// Options configures the broker connection.
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// DefaultBroker is used when Options.Broker is empty.
const DefaultBroker = "tcp://localhost:1883"

type outgoing struct {
	topic    string
	retained bool
	payload  []byte
}

// Client wraps the Paho MQTT client for linkstage. Sends go through a
// bounded outbox drained by one publisher goroutine.
type Client struct {
	client paho.Client
	broker string

	mu        sync.Mutex
	onConnect []func()

	outbox  chan outgoing
	drain   sync.Once
	stop    chan struct{}
	stopped sync.Once
	dropped atomic.Uint64
}

func newClient(broker string) *Client {
	return &Client{
		broker: broker,
		outbox: make(chan outgoing, outboxSize),
		stop:   make(chan struct{}),
	}
}

// NewClient creates a new MQTT client but does not connect.
func NewClient(o Options) *Client {
	broker := o.Broker
	if broker == "" {
		broker = DefaultBroker
	}

	c := newClient(broker)
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(o.ClientID).
		SetUsername(o.Username).
		SetPassword(o.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetOnConnectHandler(func(paho.Client) { c.handleConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) { c.handleLost(err) })

	c.client = paho.NewClient(opts)
	return c
}

// Broker returns the broker URL.
func (c *Client) Broker() string { return c.broker }

// OnConnect registers fn to run after every (re)connect. Subscriptions are
// re-established here since sessions are clean.
func (c *Client) OnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = append(c.onConnect, fn)
	c.mu.Unlock()
}

func (c *Client) handleConnect() {
	events.Emit("info", "transport.connected", "", map[string]interface{}{
		"broker": c.broker,
	})
	c.mu.Lock()
	hooks := append([]func(){}, c.onConnect...)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (c *Client) handleLost(err error) {
	fields := map[string]interface{}{"broker": c.broker}
	if err != nil {
		fields["error"] = err.Error()
	}
	events.Emit("warning", "transport.disconnected", "", fields)
}

// Connect attempts to connect to the broker.
// Returns an error if connection fails, but does not block indefinitely.
func (c *Client) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return &ConnectTimeoutError{Broker: c.broker}
	}
	return token.Error()
}

// Subscribe subscribes to a topic with the given handler.
func (c *Client) Subscribe(topic string, handler paho.MessageHandler) error {
	token := c.client.Subscribe(topic, 1, handler)
	if !token.WaitTimeout(connectTimeout) {
		return &SubscribeTimeoutError{Topic: topic}
	}
	return token.Error()
}

// Send queues a publish and returns at once; it is safe to call from the
// frame loop. A full outbox drops the message and counts it. Failures are
// reported as transport.error events.
func (c *Client) Send(topic string, retained bool, payload []byte) {
	c.drain.Do(func() { go c.publishLoop() })
	select {
	case c.outbox <- outgoing{topic: topic, retained: retained, payload: payload}:
	default:
		c.dropped.Add(1)
	}
}

// Dropped returns the number of sends lost to a full outbox.
func (c *Client) Dropped() uint64 { return c.dropped.Load() }

func (c *Client) publishLoop() {
	for {
		select {
		case <-c.stop:
			return
		case m := <-c.outbox:
			c.publish(m)
		}
	}
}

func (c *Client) publish(m outgoing) {
	token := c.client.Publish(m.topic, 0, m.retained, m.payload)
	var err error
	if !token.WaitTimeout(publishTimeout) {
		err = &PublishTimeoutError{Topic: m.topic}
	} else {
		err = token.Error()
	}
	if err != nil {
		events.Emit("error", "transport.error", "publish failed", map[string]interface{}{
			"topic": m.topic,
			"error": err.Error(),
		})
	}
}

// Disconnect stops the publisher and disconnects from the broker. Queued
// sends are discarded.
func (c *Client) Disconnect() {
	c.stopped.Do(func() { close(c.stop) })
	c.client.Disconnect(1000)
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// ConnectTimeoutError indicates connection timed out.
type ConnectTimeoutError struct {
	Broker string
}

func (e *ConnectTimeoutError) Error() string {
	return "mqtt connect timeout: " + e.Broker
}

// SubscribeTimeoutError indicates subscription timed out.
type SubscribeTimeoutError struct {
	Topic string
}

func (e *SubscribeTimeoutError) Error() string {
	return "mqtt subscribe timeout: " + e.Topic
}

// PublishTimeoutError indicates a publish was not acknowledged in time.
type PublishTimeoutError struct {
	Topic string
}

func (e *PublishTimeoutError) Error() string {
	return "mqtt publish timeout: " + e.Topic
}

// Start connects, logging errors but not crashing. Paho keeps retrying in
// the background; OnConnect hooks run once it succeeds.
// Returns true if connected.
func (c *Client) Start() bool {
	if err := c.Connect(); err != nil {
		log.Printf("mqtt: failed to connect to %s: %v", c.broker, err)
		events.Emit("error", "transport.error", "connect failed", map[string]interface{}{
			"broker": c.broker,
			"error":  err.Error(),
		})
		return false
	}
	log.Printf("mqtt: connected to %s", c.broker)
	return true
}
