package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the subject prefix job events are published on.
const DefaultSubject = "voicetrack.jobs"

// ErrNoServers is returned when no NATS URL is configured.
var ErrNoServers = errors.New("notify: no NATS servers configured")

// Compile-time check that NATSNotifier implements Notifier.
var _ Notifier = (*NATSNotifier)(nil)

// publisher is the part of *nats.Conn the notifier uses.
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes events as JSON on <subject>.<status>, so
// subscribers can listen to voicetrack.jobs.> or a single status.
type NATSNotifier struct {
	conn    *nats.Conn
	pub     publisher
	subject string
	logger  *slog.Logger
}

// NewNATSNotifier connects to the comma-separated NATS servers in url.
func NewNATSNotifier(url, subject string, logger *slog.Logger) (*NATSNotifier, error) {
	if strings.TrimSpace(url) == "" {
		return nil, ErrNoServers
	}
	if logger == nil {
		logger = slog.Default()
	}
	if subject == "" {
		subject = DefaultSubject
	}

	conn, err := nats.Connect(url,
		nats.Name("voicetrack"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	logger.Info("connected to NATS", slog.String("servers", url), slog.String("subject", subject))

	return &NATSNotifier{conn: conn, pub: conn, subject: subject, logger: logger}, nil
}

// Notify publishes the event.
func (n *NATSNotifier) Notify(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := n.pub.Publish(n.subjectFor(event), data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (n *NATSNotifier) subjectFor(event Event) string {
	if event.Status == "" {
		return n.subject
	}
	return n.subject + "." + strings.ToLower(event.Status)
}

// Close drains pending messages and closes the connection.
func (n *NATSNotifier) Close() error {
	if n == nil || n.conn == nil {
		return nil
	}
	n.logger.Info("closing NATS connection")
	err := n.conn.Drain()
	n.conn.Close()
	return err
}
