package mailstore

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
)

// Event names for delivery lifecycle events.
const (
	EventNameMessageDelivered = "mailstore.message.delivered"
	EventNameDeliveryFailed   = "mailstore.delivery.failed"
)

// MessageDeliveredEvent is published after a message is durably stored
// for one recipient: blob written, metadata inserted, counters adjusted.
type MessageDeliveredEvent struct {
	EventID     string    `json:"event_id"`
	MessageID   string    `json:"message_id"`
	Mailbox     string    `json:"mailbox"`
	Sender      string    `json:"sender"`
	Size        int64     `json:"size"`
	Labels      []int     `json:"labels"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// DeliveryFailedEvent is published when a recipient's delivery attempt
// ends in a non-OK reply code.
type DeliveryFailedEvent struct {
	EventID   string    `json:"event_id"`
	Recipient string    `json:"recipient"`
	Sender    string    `json:"sender"`
	Reply     ReplyCode `json:"reply"`
	Reason    string    `json:"reason"`
	FailedAt  time.Time `json:"failed_at"`
}

// AgentEvents provides access to per-agent event instances.
// Each agent creates its own events bound to its own event bus,
// enabling independent event routing and parallel testing.
//
// Subscribe to events:
//
//	agent.Events().MessageDelivered.Subscribe(ctx, handler)
//	agent.Events().DeliveryFailed.Subscribe(ctx, handler)
type AgentEvents struct {
	// MessageDelivered is published when a message is stored for a recipient.
	MessageDelivered event.Event[MessageDeliveredEvent]

	// DeliveryFailed is published when a recipient delivery fails.
	DeliveryFailed event.Event[DeliveryFailedEvent]
}

// newAgentEvents creates per-agent event instances with a unique name prefix.
func newAgentEvents(namePrefix string) *AgentEvents {
	return &AgentEvents{
		MessageDelivered: event.New[MessageDeliveredEvent](namePrefix + "." + EventNameMessageDelivered),
		DeliveryFailed:   event.New[DeliveryFailedEvent](namePrefix + "." + EventNameDeliveryFailed),
	}
}

// registerAgentEvents registers per-agent events with the given bus.
func registerAgentEvents(ctx context.Context, bus *event.Bus, events *AgentEvents) error {
	if err := event.Register(ctx, bus, events.MessageDelivered); err != nil {
		return fmt.Errorf("register MessageDelivered: %w", err)
	}
	if err := event.Register(ctx, bus, events.DeliveryFailed); err != nil {
		return fmt.Errorf("register DeliveryFailed: %w", err)
	}
	return nil
}
