package mqtt

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/sweeney/coffee-machine/internal/machine"
)

// DefaultBufferSize is how many messages are held while offline.
const DefaultBufferSize = 256

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	BufferSize int
	Now        func() time.Time
	// OnConnectionChange, if set, is called on every connect and loss.
	OnConnectionChange func(connected bool)
	Logger             zerolog.Logger
}

// RealPublisher publishes to a broker through paho. While the connection
// is down, messages go to a ring buffer that is replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	opts   Options
	log    zerolog.Logger

	mu  sync.Mutex
	buf *ringBuffer

	connectedOnce atomic.Bool
}

// NewRealPublisher connects to the broker. A broker that is not reachable
// within ten seconds is not an error: paho keeps retrying and messages are
// buffered meanwhile.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	if o.Broker == "" {
		return nil, fmt.Errorf("mqtt: empty broker address")
	}
	if o.ClientID == "" {
		o.ClientID = "coffee-machine"
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	p := &RealPublisher{
		opts: o,
		log:  o.Logger.With().Str("component", "mqtt").Logger(),
		buf:  newRingBuffer(o.BufferSize),
	}

	will, err := FormatSystemPayload(SystemEvent{Timestamp: o.Now(), Event: "SHUTDOWN", Reason: "MQTT_DISCONNECT"})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	popts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(TopicSystem, string(will), 1, false).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(popts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		p.log.Warn().Str("broker", o.Broker).Msg("broker not reachable yet, buffering")
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// IsConnected reports whether the connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

var _ Publisher = (*RealPublisher)(nil)

// PublishStatus sends the snapshot retained at QoS 0 without waiting.
func (p *RealPublisher) PublishStatus(s machine.Snapshot) error {
	payload, err := FormatStatusPayload(s)
	if err != nil {
		return fmt.Errorf("format status payload: %w", err)
	}
	return p.send(bufferedMsg{topic: TopicStatus, payload: payload, qos: 0, retained: true}, false)
}

// PublishSystem sends a system event at QoS 1 and waits for the broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.send(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained}, true)
}

func (p *RealPublisher) send(m bufferedMsg, wait bool) error {
	p.mu.Lock()
	if !p.client.IsConnectionOpen() {
		if p.buf.push(m) {
			p.log.Warn().Int("capacity", p.opts.BufferSize).Msg("buffer full, dropping oldest")
		}
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !wait {
		return nil
	}
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	pending := p.buf.drainAll()
	p.mu.Unlock()

	for _, m := range pending {
		c.Publish(m.topic, m.qos, m.retained, m.payload)
	}
	reconnect := p.connectedOnce.Swap(true)
	p.log.Info().Bool("reconnect", reconnect).Int("replayed", len(pending)).Msg("connected")
	if reconnect {
		if payload, err := FormatSystemPayload(SystemEvent{Timestamp: p.opts.Now(), Event: "RECONNECTED"}); err == nil {
			c.Publish(TopicSystem, 1, false, payload)
		}
	}
	if p.opts.OnConnectionChange != nil {
		p.opts.OnConnectionChange(true)
	}
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.log.Warn().Err(err).Msg("connection lost")
	if p.opts.OnConnectionChange != nil {
		p.opts.OnConnectionChange(false)
	}
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
