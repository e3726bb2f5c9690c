// Package stream publishes coarse cross-cutting envelopes (mission,
// approval and tool lifecycle signals) for observers outside a single
// run's scope. Per-run event delivery stays in eventlog; this is the
// out-of-band channel.
package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Scopes for envelope subjects.
const (
	ScopeRun      = "run"
	ScopeMission  = "mission"
	ScopeApproval = "approval"
	ScopeTool     = "tool"
	ScopeRoutine  = "routine"
)

// Envelope is the raw cross-cutting signal record.
type Envelope struct {
	Scope     string         `json:"scope"`
	Kind      string         `json:"kind"`
	RunID     string         `json:"run_id,omitempty"`
	MissionID string         `json:"mission_id,omitempty"`
	RefID     string         `json:"ref_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Publisher delivers envelopes to observers.
type Publisher interface {
	Publish(env Envelope) error
	Close()
}

// Nop discards every envelope. Used when no stream URL is configured.
type Nop struct{}

func (Nop) Publish(Envelope) error { return nil }
func (Nop) Close()                 {}

// NATSPublisher publishes envelopes to conductor.<scope>.<kind> subjects.
type NATSPublisher struct {
	conn *nats.Conn
}

// Connect dials the NATS server. The connection retries in the background
// so a briefly unavailable broker does not fail engine startup.
func Connect(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to stream broker: %w", err)
	}
	return &NATSPublisher{conn: conn}, nil
}

// Publish sends one envelope. Delivery is best effort; the event log
// remains the durable record.
func (p *NATSPublisher) Publish(env Envelope) error {
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	subject := fmt.Sprintf("conductor.%s.%s", env.Scope, env.Kind)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing %s: %w", subject, err)
	}
	return nil
}

// Close drains the connection.
func (p *NATSPublisher) Close() {
	if p.conn != nil {
		p.conn.Drain()
	}
}

// New returns a NATS publisher for url, or a Nop when url is empty.
func New(url string) (Publisher, error) {
	if url == "" {
		return Nop{}, nil
	}
	return Connect(url)
}
