package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/leadswipe/leadswipe-api/engine/domain"
)

// DefaultPushWorkers bounds concurrent push sends.
const DefaultPushWorkers = 4

// Dispatcher owns every outbound side effect of a run. Nil sink, sender or
// events disable that channel.
type Dispatcher struct {
	sink     Sink
	sender   PushSender
	events   EventPublisher
	registry *Registry
	logger   *slog.Logger

	PushWorkers int
}

// NewDispatcher creates a Dispatcher. registry may be nil, in which case an
// empty one is created.
func NewDispatcher(sink Sink, sender PushSender, events EventPublisher, registry *Registry, logger *slog.Logger) *Dispatcher {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sink:        sink,
		sender:      sender,
		events:      events,
		registry:    registry,
		logger:      logger.With("component", "delivery"),
		PushWorkers: DefaultPushWorkers,
	}
}

// Registry returns the device token registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// PushEnabled reports whether a push sender is configured.
func (d *Dispatcher) PushEnabled() bool { return d.sender != nil }

// DeliveryOutcome reports what happened to a batch.
type DeliveryOutcome struct {
	Attempted bool
	Delivered bool
	Ack       Ack
	Err       error
}

// Deliver sends b to the sink. Empty batches and a missing sink are skipped.
func (d *Dispatcher) Deliver(ctx context.Context, b Batch) DeliveryOutcome {
	if len(b.Opportunities) == 0 {
		d.logger.Info("no opportunities to deliver", "run_id", b.RunID)
		return DeliveryOutcome{}
	}
	if d.sink == nil {
		d.logger.Warn("no ingestion sink configured, batch dropped", "run_id", b.RunID, "opportunities", len(b.Opportunities))
		return DeliveryOutcome{}
	}
	ack, err := d.sink.Ingest(ctx, b)
	if err != nil {
		err = domain.NewStageError("deliver", domain.ErrDelivery, err)
		d.logger.Error("batch delivery failed", "run_id", b.RunID, "err", err)
		return DeliveryOutcome{Attempted: true, Err: err}
	}
	d.logger.Info("batch delivered", "run_id", b.RunID, "opportunities", len(b.Opportunities), "remote_session_id", ack.SessionID, "message", ack.Message)
	return DeliveryOutcome{Attempted: true, Delivered: true, Ack: ack}
}

// NotifyOutcome counts the result of a push fan-out.
type NotifyOutcome struct {
	Enabled bool
	Sent    int
	Failed  int
	Pruned  int
}

// Notify sends n to every registered device. Tokens rejected as invalid are
// removed from the registry. Other failures are logged and counted.
func (d *Dispatcher) Notify(ctx context.Context, n Notification) NotifyOutcome {
	tokens := d.registry.Tokens()
	if d.sender == nil {
		d.logger.Info("push disabled, notification skipped", "title", n.Title, "body", n.Body, "devices", len(tokens))
		return NotifyOutcome{}
	}
	out := NotifyOutcome{Enabled: true}
	if len(tokens) == 0 {
		return out
	}

	var (
		mu      sync.Mutex
		invalid []string
		g       errgroup.Group
	)
	g.SetLimit(max(d.PushWorkers, 1))
	for _, tok := range tokens {
		g.Go(func() error {
			err := d.sender.Send(ctx, tok, n)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				out.Sent++
			case errors.Is(err, ErrInvalidToken):
				out.Failed++
				invalid = append(invalid, tok)
			default:
				out.Failed++
				d.logger.Warn("push send failed", "token", redact(tok), "err", domain.NewStageError("notify", domain.ErrNotification, err))
			}
			return nil
		})
	}
	g.Wait()

	for _, tok := range invalid {
		if d.registry.Remove(tok) {
			out.Pruned++
		}
	}
	d.logger.Info("push fan-out complete", "sent", out.Sent, "failed", out.Failed, "pruned", out.Pruned)
	return out
}

// Publish emits a run event if a publisher is configured.
func (d *Dispatcher) Publish(ctx context.Context, ev RunEvent) {
	if d.events == nil {
		return
	}
	if err := d.events.PublishRun(ctx, ev); err != nil {
		d.logger.Warn("run event publish failed", "session_id", ev.SessionID, "err", err)
	}
}

// redact keeps only the tail of a device token for logs.
func redact(tok string) string {
	if len(tok) <= 8 {
		return "…"
	}
	return "…" + tok[len(tok)-8:]
}
