// Package events publishes collection, project and invitation lifecycle
// events to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/softwareforge/forge/internal/logging"
	"go.uber.org/zap"
)

// Type names an event. The NATS subject is "<prefix>.<type>".
type Type string

const (
	CollectionCreated Type = "collection.created"
	CollectionRemoved Type = "collection.removed"
	ProjectCreated    Type = "project.created"
	InvitationCreated Type = "invitation.created"
)

// Event is the JSON envelope written to the bus.
type Event struct {
	ID         string      `json:"id"`
	Type       Type        `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	RequestID  string      `json:"request_id,omitempty"`
	Data       interface{} `json:"data"`
}

// Publisher emits lifecycle events. Delivery is best effort: failures are
// logged and never reach the caller.
type Publisher interface {
	Publish(ctx context.Context, typ Type, data interface{})
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Type, interface{}) {}

// NATSPublisher publishes events as core NATS messages.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
}

// NewNATSPublisher publishes on nc under subject prefix.
func NewNATSPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) *NATSPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logger: logger}
}

// Connect dials the NATS server at url, retrying in the background if it
// is not up yet.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("forge"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// Subject returns the subject typ is published on.
func (p *NATSPublisher) Subject(typ Type) string {
	return p.prefix + "." + string(typ)
}

func (p *NATSPublisher) Publish(ctx context.Context, typ Type, data interface{}) {
	ev := Event{
		ID:         uuid.NewString(),
		Type:       typ,
		OccurredAt: time.Now().UTC(),
		RequestID:  logging.RequestIDFromContext(ctx),
		Data:       data,
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("marshal event", zap.String("type", string(typ)), zap.Error(err))
		return
	}

	subject := p.Subject(typ)
	if err := p.nc.Publish(subject, payload); err != nil {
		p.logger.Warn("publish event failed",
			zap.String("subject", subject),
			zap.String("event.id", ev.ID),
			zap.Error(err))
		return
	}
	p.logger.Debug("event published", zap.String("subject", subject), zap.String("event.id", ev.ID))
}
