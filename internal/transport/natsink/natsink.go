// Package natsink publishes notifications as JSON onto a NATS subject so
// other services can consume signup changes without parsing chat text.
package natsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"signupbot/internal/transport"
	logx "signupbot/pkg/logx"
)

type Config struct {
	URL     string
	Subject string
	Name    string
	// MaxReconnects bounds reconnect attempts after a lost connection.
	// 0 uses the client default, negative retries forever.
	MaxReconnects int
	ReconnectWait time.Duration
	// Flush waits for the server to acknowledge each publish.
	Flush bool
}

// Publisher is a transport.Sender backed by a NATS connection.
type Publisher struct {
	conn    *nats.Conn
	subject string
	flush   bool
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Publisher, error) {
	if strings.TrimSpace(cfg.Subject) == "" {
		return nil, errors.New("nats subject is empty")
	}
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		url = nats.DefaultURL
	}
	name := cfg.Name
	if name == "" {
		name = "signupbot"
	}
	wait := cfg.ReconnectWait
	if wait <= 0 {
		wait = 2 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(maxReconnects(cfg.MaxReconnects)),
		nats.ReconnectWait(wait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", logx.Err(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", logx.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Warn("nats connection closed")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats: connect: %w", err)
	}
	log.Info("nats connected", logx.String("url", conn.ConnectedUrl()), logx.String("subject", cfg.Subject))
	return NewWithConn(conn, cfg.Subject, cfg.Flush, log), nil
}

func maxReconnects(n int) int {
	switch {
	case n == 0:
		return nats.DefaultMaxReconnect
	case n < 0:
		return -1
	}
	return n
}

// NewWithConn wraps an existing connection.
func NewWithConn(conn *nats.Conn, subject string, flush bool, log logx.Logger) *Publisher {
	return &Publisher{conn: conn, subject: subject, flush: flush, log: log}
}

func (p *Publisher) Name() string { return "nats" }

func (p *Publisher) Deliver(ctx context.Context, msg transport.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("nats: marshal: %w", err)
	}
	subject := p.subject
	if msg.Kind != "" {
		subject = p.subject + "." + msg.Kind
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats: publish %s: %w", subject, err)
	}
	if p.flush {
		if err := p.conn.FlushWithContext(ctx); err != nil {
			return fmt.Errorf("nats: flush: %w", err)
		}
	}
	p.log.Debug("published", logx.String("subject", subject), logx.Int("bytes", len(data)))
	return nil
}

func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
