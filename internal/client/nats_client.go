package client

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// MessagePublisher publishes one message. msgID is used by the broker for
// duplicate detection and may be empty.
type MessagePublisher interface {
	Publish(ctx context.Context, subject string, data []byte, msgID string) error
}

// NATSClient is a thin wrapper around a NATS connection.
type NATSClient struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// ConnectNATS dials the NATS server and keeps reconnecting in the background.
func ConnectNATS(url, name string, log zerolog.Logger) (*NATSClient, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSClient{conn: conn, log: log}, nil
}

// Publish sends data on subject, tagging it with the Nats-Msg-Id header so
// JetStream-backed consumers can drop redeliveries.
func (c *NATSClient) Publish(ctx context.Context, subject string, data []byte, msgID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	if msgID != "" {
		msg.Header.Set(nats.MsgIdHdr, msgID)
	}
	if err := c.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// JetStream returns a JetStream context on the connection.
func (c *NATSClient) JetStream() (jetstream.JetStream, error) {
	js, err := jetstream.New(c.conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return js, nil
}

// Healthy reports whether the connection is up.
func (c *NATSClient) Healthy() bool {
	return c.conn.IsConnected()
}

// Close drains subscriptions and closes the connection.
func (c *NATSClient) Close() error {
	return c.conn.Drain()
}
