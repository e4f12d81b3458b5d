package mqtt

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/sweeney/irrigationd/internal/events"
)

// Config configures the broker connection.
type Config struct {
	Broker     string
	ClientID   string
	Topic      string
	BufferSize int
}

// client is the subset of paho.Client used by Publisher.
type client interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

const publishTimeout = 5 * time.Second

// Publisher sends events to the broker. While the connection is down, events
// are held in a ring buffer and replayed in order on reconnect.
type Publisher struct {
	log   zerolog.Logger
	topic string

	mu     sync.Mutex
	client client
	buf    *ring[events.Event]
}

// Connect creates a publisher connected to cfg.Broker. The connection is
// retried in the background; events published before it comes up are buffered.
func Connect(cfg Config, log zerolog.Logger) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "irrigationd"
	}
	p := newPublisher(nil, cfg, log)

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(paho.Client) { p.flush() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.log.Warn().Err(err).Msg("connection lost")
		})

	c := paho.NewClient(opts)
	p.mu.Lock()
	p.client = c
	p.mu.Unlock()

	token := c.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		p.log.Warn().Str("broker", cfg.Broker).Msg("broker not reachable yet, buffering events")
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrap(err, "connect to broker")
	}
	return p, nil
}

func newPublisher(c client, cfg Config, log zerolog.Logger) *Publisher {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	return &Publisher{
		log:    log.With().Str("component", "mqtt").Logger(),
		topic:  cfg.Topic,
		client: c,
		buf:    newRing[events.Event](cfg.BufferSize),
	}
}

// Append implements events.Sink. An event that cannot be sent is buffered for
// replay and the send error is returned.
func (p *Publisher) Append(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil || !p.client.IsConnectionOpen() {
		p.bufferLocked(e)
		return nil
	}
	// Earlier failures go out first to keep order.
	if err := p.replayLocked(); err != nil {
		p.bufferLocked(e)
		return err
	}
	if err := p.publishLocked(e); err != nil {
		p.bufferLocked(e)
		return err
	}
	return nil
}

func (p *Publisher) bufferLocked(e events.Event) {
	if p.buf.push(e) {
		p.log.Warn().Int("capacity", p.buf.capacity()).Msg("buffer full, dropping oldest")
	}
}

// Buffered returns the number of events waiting for a connection.
func (p *Publisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// IsConnected reports whether the broker connection is up.
func (p *Publisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client != nil && p.client.IsConnectionOpen()
}

// flush replays buffered events after a (re)connect.
func (p *Publisher) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.replayLocked(); err != nil {
		p.log.Error().Err(err).Msg("replay failed, re-buffering")
	}
}

// replayLocked sends buffered events oldest first. On failure the unsent
// remainder goes back into the buffer.
func (p *Publisher) replayLocked() error {
	pending := p.buf.drain()
	if len(pending) == 0 {
		return nil
	}
	p.log.Info().Int("count", len(pending)).Msg("replaying buffered events")
	for i, e := range pending {
		if err := p.publishLocked(e); err != nil {
			for _, rest := range pending[i:] {
				p.buf.push(rest)
			}
			return err
		}
	}
	return nil
}

func (p *Publisher) publishLocked(e events.Event) error {
	payload, err := FormatPayload(e)
	if err != nil {
		return errors.Wrap(err, "format payload")
	}
	token := p.client.Publish(DeviceTopic(p.topic, e), 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.New("publish timeout")
	}
	if err := token.Error(); err != nil {
		return errors.Wrap(err, "publish")
	}
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.Disconnect(1000)
	}
	return nil
}
