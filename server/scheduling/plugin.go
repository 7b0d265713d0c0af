package scheduling

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cyp0633/calstore/internal/icalutil"
	"github.com/cyp0633/calstore/server/notify"
	"github.com/emersion/go-ical"
)

// Outbox accepts messages for delivery. Implementations own transport,
// retries and bookkeeping of what was sent.
type Outbox interface {
	Deliver(ctx context.Context, msgs []Message) error
}

// OutboxFunc adapts a function to an Outbox.
type OutboxFunc func(ctx context.Context, msgs []Message) error

func (f OutboxFunc) Deliver(ctx context.Context, msgs []Message) error { return f(ctx, msgs) }

// Plugin listens to object notifications and hands the resulting
// scheduling messages to an Outbox. Objects of subscriptions are ignored.
type Plugin struct {
	broker *Broker
	outbox Outbox
	logger *slog.Logger
}

var _ notify.Listener = (*Plugin)(nil)

// NewPlugin creates a Plugin. A nil broker means NewBroker().
func NewPlugin(broker *Broker, outbox Outbox, logger *slog.Logger) *Plugin {
	if broker == nil {
		broker = NewBroker()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Plugin{broker: broker, outbox: outbox, logger: logger}
}

// Notify implements notify.Listener.
func (p *Plugin) Notify(ctx context.Context, ev notify.Event) error {
	switch ev.Type {
	case notify.ObjectCreated, notify.ObjectUpdated, notify.ObjectDeleted:
	default:
		return nil
	}
	if ev.Subscription {
		return nil
	}

	oldCal, err := decodeOptional(ev.OldData)
	if err != nil {
		return fmt.Errorf("old payload of %s: %w", ev.ObjectURI, err)
	}
	newCal, err := decodeOptional(ev.NewData)
	if err != nil {
		return fmt.Errorf("new payload of %s: %w", ev.ObjectURI, err)
	}

	msgs, err := p.broker.MessagesFor(oldCal, newCal)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	p.logger.Info("delivering scheduling messages",
		"calendar_id", ev.CalendarID,
		"uri", ev.ObjectURI,
		"count", len(msgs))
	if err := p.outbox.Deliver(ctx, msgs); err != nil {
		p.logger.Error("failed to deliver scheduling messages", "uri", ev.ObjectURI, "error", err)
		return fmt.Errorf("failed to deliver scheduling messages: %w", err)
	}
	return nil
}

func decodeOptional(data []byte) (*ical.Calendar, error) {
	if len(data) == 0 {
		return nil, nil
	}
	return icalutil.Decode(data)
}
