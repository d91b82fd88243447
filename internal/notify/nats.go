package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"versus-quiz-service/internal/domain"
)

// Publisher is the part of *nats.Conn the notifier needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes lifecycle events as JSON on <prefix>.<event type>.
type NATSNotifier struct {
	pub    Publisher
	prefix string
	conn   *nats.Conn
}

func NewNATSNotifier(pub Publisher, prefix string) *NATSNotifier {
	return &NATSNotifier{pub: pub, prefix: prefix}
}

// Connect dials NATS and returns a notifier that owns the connection.
func Connect(url, prefix string) (*NATSNotifier, error) {
	opts := []nats.Option{
		nats.Name("versus-quiz-service"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	n := NewNATSNotifier(nc, prefix)
	n.conn = nc
	return n, nil
}

func (n *NATSNotifier) Notify(ctx context.Context, event domain.LifecycleEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := n.prefix + "." + string(event.Type)
	if err := n.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close drains the owned connection, if any.
func (n *NATSNotifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}
