package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/jgoulah/securepeak/internal/contract"
	"github.com/jgoulah/securepeak/internal/metrics"
)

// Publisher publishes raw payloads. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// ConnectNATS dials url with reconnects enabled and connection status exported as a metric
func ConnectNATS(url string, timeout time.Duration, log zerolog.Logger) (*nats.Conn, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	conn, err := nats.Connect(url,
		nats.Name("securepeak"),
		nats.Timeout(timeout),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	metrics.NATSConnectionStatus.Set(1)
	return conn, nil
}

// Forwarder publishes record events as JSON on <prefix>.created and <prefix>.updated
type Forwarder struct {
	pub    Publisher
	prefix string
	log    zerolog.Logger
}

// Message is the JSON body published for each event
type Message struct {
	ChainID  uint64 `json:"chain_id"`
	Contract string `json:"contract"`
	*contract.RecordEvent
}

// NewForwarder creates a forwarder publishing under prefix
func NewForwarder(pub Publisher, prefix string, log zerolog.Logger) *Forwarder {
	return &Forwarder{
		pub:    pub,
		prefix: prefix,
		log:    log.With().Str("component", "nats").Logger(),
	}
}

// Subject returns the subject an event kind is published on
func (f *Forwarder) Subject(kind string) string {
	switch kind {
	case contract.EventRecordCreated:
		return f.prefix + ".created"
	case contract.EventRecordUpdated:
		return f.prefix + ".updated"
	}
	return f.prefix + ".unknown"
}

// Forward publishes ev. Errors are returned and counted.
func (f *Forwarder) Forward(chainID uint64, address string, ev *contract.RecordEvent) error {
	data, err := json.Marshal(Message{ChainID: chainID, Contract: address, RecordEvent: ev})
	if err != nil {
		metrics.EventsForwardFailed.WithLabelValues(ev.Kind).Inc()
		return fmt.Errorf("marshaling event: %w", err)
	}
	subject := f.Subject(ev.Kind)
	if err := f.pub.Publish(subject, data); err != nil {
		metrics.EventsForwardFailed.WithLabelValues(ev.Kind).Inc()
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	f.log.Debug().Str("subject", subject).Uint64("record_id", ev.RecordID).Msg("event forwarded")
	return nil
}

// Handler adapts the forwarder to a watcher handler for session's active deployment
func (f *Forwarder) Handler(session Session) Handler {
	return func(_ context.Context, ev *contract.RecordEvent) {
		d := session.Descriptor()
		var address string
		if d.Address != nil {
			address = d.Address.Hex()
		}
		if err := f.Forward(d.ChainID, address, ev); err != nil {
			f.log.Error().Err(err).Str("event", ev.Kind).Msg("forwarding event")
		}
	}
}
