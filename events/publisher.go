// Package events publishes post-write notifications for external collaborators
// (notification fan-out, dashboards). Publishing is always best-effort.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subjects emitted by the core.
const (
	SubjectUsageMerged = "usage.merged"
	SubjectVoteCast    = "votes.cast"
	SubjectVoteRemoved = "votes.removed"
)

// Publisher sends a JSON payload on a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, string, any) error { return nil }

// NATSPublisher publishes JSON events over a NATS connection.
type NATSPublisher struct {
	conn   *nats.Conn
	logger *zap.Logger
}

// Connect establishes a connection to the NATS server with reconnect handling.
func Connect(natsAddress string, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("connecting to NATS", zap.String("address", natsAddress))

	nc, err := nats.Connect(
		natsAddress,
		nats.Name("usageboard"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Warn("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", natsAddress, err)
	}
	return NewNATSPublisher(nc, logger), nil
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(nc *nats.Conn, logger *zap.Logger) *NATSPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{conn: nc, logger: logger}
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", subject, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("NATS drain failed", zap.Error(err))
	}
}

// UsageMerged is emitted after an accepted merge.
type UsageMerged struct {
	UserID      string    `json:"user_id"`
	DeviceID    string    `json:"device_id"`
	Day         string    `json:"day"`
	TotalTokens int64     `json:"total_tokens"`
	TotalCost   string    `json:"total_cost"`
	At          time.Time `json:"at"`
}

// VoteChanged is emitted after a vote is cast or removed.
type VoteChanged struct {
	VoterID  string    `json:"voter_id"`
	TargetID string    `json:"target_id"`
	Weight   int       `json:"weight"`
	Previous int       `json:"previous"`
	Tier     string    `json:"tier,omitempty"`
	At       time.Time `json:"at"`
}
