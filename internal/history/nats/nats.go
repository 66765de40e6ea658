// Package nats publishes history events as JSON messages on a NATS subject.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/loykin/sharedws/internal/history"
)

// DefaultSubject is used when the DSN names no subject.
const DefaultSubject = "sharedws.history"

type publisher interface {
	Publish(subject string, data []byte) error
}

// Sink publishes each event to subject.<type>, e.g. sharedws.history.reclaim.
type Sink struct {
	conn    *nats.Conn
	pub     publisher
	subject string
}

// New connects to url and returns a sink publishing under subject.
func New(url, subject string) (*Sink, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("empty NATS URL")
	}
	if subject == "" {
		subject = DefaultSubject
	}
	conn, err := nats.Connect(url, nats.Name("sharedws-history"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	slog.Info("NATS history sink initialized", "url", url, "subject", subject)
	return &Sink{conn: conn, pub: conn, subject: subject}, nil
}

// Subject returns the subject an event of type t is published on.
func (s *Sink) Subject(t history.EventType) string {
	return s.subject + "." + string(t)
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := s.pub.Publish(s.Subject(e.Type), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	slog.Debug("Published history event", "subject", s.Subject(e.Type), "id", e.ID)
	return nil
}

// Close drains pending messages and closes the connection.
func (s *Sink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}
