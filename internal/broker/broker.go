package broker

import (
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"github.com/makischu/ebusd-light-B5/internal/ebus"
)

// This file is the message-bus collaborator spec.md §6 calls "request
// ingest" and "egress publish": original_source/ebusd-light.cpp is an MQTT
// bridge built on paho.mqtt.c, so the Go port uses paho.mqtt.golang, the
// same client family, for the same two topics (TOPIC_TX subscribed, TOPIC_RXD
// published).

// ErrNotConnected mirrors comm.ErrNotConnected for the broker side of the
// driver: Publish/Requests called before Connect.
var ErrNotConnected = errors.New("broker: not connected")

// Broker wires one MQTT client to the two topics the link driver cares
// about. Inbound telegram requests are delivered over a buffered channel
// fed from the client's message callback (paho's callback runs on its own
// goroutine, so this is the one boundary in the daemon that does need a
// channel rather than direct method calls).
type Broker struct {
	cfg BrokerConfig

	mu     sync.Mutex
	client mqtt.Client

	requests chan ebus.Telegram
}

// BrokerConfig holds what Broker needs to dial and name itself.
type BrokerConfig struct {
	URL      string
	ClientID string
	RxTopic  string
	TxTopic  string
}

// New returns a Broker that is not yet connected.
func New(cfg BrokerConfig) *Broker {
	return &Broker{
		cfg:      cfg,
		requests: make(chan ebus.Telegram, 1),
	}
}

// Connect dials the broker and subscribes to TxTopic. Malformed inbound
// payloads are dropped with a diagnostic rather than surfaced as an error,
// consistent with the request-ingest contract's tolerant parsing.
func (b *Broker) Connect() error {
	opts := mqtt.NewClientOptions().
		AddBroker(b.cfg.URL).
		SetClientID(b.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(3 * time.Second)

	opts.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
		b.onMessage(msg.Payload())
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if ok := token.WaitTimeout(5 * time.Second); !ok {
		return errors.New("broker: connect timed out")
	}
	if err := token.Error(); err != nil {
		return errors.Wrap(err, "connecting to broker")
	}

	subTok := client.Subscribe(b.cfg.TxTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		b.onMessage(msg.Payload())
	})
	if ok := subTok.WaitTimeout(5 * time.Second); !ok {
		return errors.New("broker: subscribe timed out")
	}
	if err := subTok.Error(); err != nil {
		return errors.Wrapf(err, "subscribing to %s", b.cfg.TxTopic)
	}

	b.mu.Lock()
	b.client = client
	b.mu.Unlock()
	return nil
}

func (b *Broker) onMessage(payload []byte) {
	tg, err := DecodeRequest(payload)
	if err != nil {
		log.Printf("broker: dropping malformed request %q: %v", payload, err)
		return
	}
	select {
	case b.requests <- tg:
	default:
		// a request is already queued; the driver has not drained it yet.
	}
}

// Requests exposes the channel of decoded inbound requests. The link driver
// polls this non-blockingly (select/default) from its cooperative loop.
func (b *Broker) Requests() <-chan ebus.Telegram { return b.requests }

// Publish sends t to RxTopic as the egress JSON envelope. Per §6 this is a
// single one-deep slot at the driver level; Broker itself does not enforce
// that, it just publishes whatever it is given.
func (b *Broker) Publish(t ebus.Telegram) error {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		return ErrNotConnected
	}
	token := client.Publish(b.cfg.RxTopic, 0, false, EncodeTelegram(t))
	if ok := token.WaitTimeout(3 * time.Second); !ok {
		return errors.New("broker: publish timed out")
	}
	return errors.Wrap(token.Error(), "publishing telegram")
}

// Close disconnects the client cleanly.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		b.client.Disconnect(250)
		b.client = nil
	}
	return nil
}
