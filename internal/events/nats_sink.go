package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// DefaultSubjectPrefix is prepended to the event type to form the NATS subject.
const DefaultSubjectPrefix = "settlement.events"

// NATSSink publishes each event as JSON on <prefix>.<chainId>.<type>.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSSink wraps an existing connection.
func NewNATSSink(conn *nats.Conn, prefix string) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{conn: conn, prefix: prefix}
}

// ConnectNATS dials url with reconnect handling and returns a sink owning the connection.
func ConnectNATS(url, prefix string, log logrus.FieldLogger) (*NATSSink, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	opts := []nats.Option{
		nats.Name("settlement-ledger"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
	}
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return NewNATSSink(conn, prefix), nil
}

// Conn returns the underlying connection, for subscribers sharing it.
func (s *NATSSink) Conn() *nats.Conn { return s.conn }

// Subject returns the subject an event is published on.
func (s *NATSSink) Subject(e Event) string {
	return fmt.Sprintf("%s.%d.%s", s.prefix, e.ChainID, e.Type)
}

func (s *NATSSink) Publish(_ context.Context, batch []Event) error {
	for _, e := range batch {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		if err := s.conn.Publish(s.Subject(e), data); err != nil {
			return fmt.Errorf("failed to publish event: %w", err)
		}
	}
	return nil
}

// Close drains and closes the connection.
func (s *NATSSink) Close() {
	if s.conn != nil {
		s.conn.Drain()
		s.conn.Close()
	}
}
