package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/annotation/internal/core/domain"
)

const (
	// RuleStream holds every rule event for replay by durable consumers.
	RuleStream = "ANNOTATION_RULES"
	// RuleSubjectPrefix is followed by the event type, e.g. annotation.rule.created.
	RuleSubjectPrefix = "annotation.rule."
	// BroadcastSubject carries ad-hoc notices to websocket clients; it is not persisted.
	BroadcastSubject = "annotation.broadcast"
)

// RuleSubject returns the subject an event of type t is published on.
func RuleSubject(t domain.RuleEventType) string {
	return RuleSubjectPrefix + string(t)
}

// Publisher implements ports.EventPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and enables JetStream.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := RawConn(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	if err := ensureStream(js); err != nil {
		return nil, err
	}

	return &Publisher{conn: conn, js: js}, nil
}

func ensureStream(js nats.JetStreamContext) error {
	cfg := nats.StreamConfig{
		Name:      RuleStream,
		Subjects:  []string{RuleSubjectPrefix + ">"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   nats.FileStorage,
	}
	if _, err := js.AddStream(&cfg); err != nil {
		// Stream may already exist, try update
		if _, err := js.UpdateStream(&cfg); err != nil {
			return fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// PublishRuleEvent publishes to annotation.rule.<type>.
func (p *Publisher) PublishRuleEvent(ctx context.Context, event domain.RuleEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(RuleSubject(event.Type), data, nats.Context(ctx))
	return err
}

func (p *Publisher) PublishBroadcast(ctx context.Context, data []byte) error {
	return p.conn.Publish(BroadcastSubject, data)
}

// Conn exposes the underlying connection, e.g. for the websocket relay.
func (p *Publisher) Conn() *nats.Conn {
	return p.conn
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// RawConn creates a plain NATS connection for subscribing (e.g. WebSocket relay).
func RawConn(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}
