package delivery

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/leadswipe/leadswipe-api/pkg/natsutil"
)

// DefaultSubject is where run events are published.
const DefaultSubject = "leadswipe.runs.completed"

// RunEvent announces the end of a run to other services.
type RunEvent struct {
	SessionID     string    `json:"session_id"`
	State         string    `json:"state"`
	Sources       []string  `json:"groups"`
	TotalItems    int       `json:"total_posts"`
	Opportunities int       `json:"opportunities_found"`
	Cost          float64   `json:"cost"`
	Error         string    `json:"error,omitempty"`
	At            time.Time `json:"at"`
}

// EventPublisher publishes run events.
type EventPublisher interface {
	PublishRun(ctx context.Context, ev RunEvent) error
}

// NATSPublisher publishes run events as JSON on a NATS subject, carrying
// the trace context in message headers.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

// NewNATSPublisher creates a publisher on subject (DefaultSubject if empty).
func NewNATSPublisher(nc *nats.Conn, subject string) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{nc: nc, subject: subject}
}

// PublishRun implements EventPublisher.
func (p *NATSPublisher) PublishRun(ctx context.Context, ev RunEvent) error {
	return natsutil.Publish(ctx, p.nc, p.subject, ev)
}

// SubscribeRuns delivers run events published on subject (DefaultSubject if
// empty) to handler. Malformed messages are dropped.
func SubscribeRuns(nc *nats.Conn, subject string, handler func(context.Context, RunEvent)) (*nats.Subscription, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	return natsutil.Subscribe(nc, subject, handler)
}
