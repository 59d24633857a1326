package delivery

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/coreybb/hermes/metrics"
	"github.com/coreybb/hermes/models"
	"github.com/google/uuid"
)

// NotificationChannel is the adapter interface for customer notification
// mechanisms. Implement this to add new channel types (email, chat card,
// webhook, etc.).
type NotificationChannel interface {
	// Type returns the channel type this implementation handles (e.g. "email").
	Type() string
	// Send delivers the fulfillment plan to the plan's recipient. A single
	// attempt; retry policy belongs to the payment processor's redelivery.
	Send(ctx context.Context, plan models.NotificationPlan) error
}

// Dispatcher fans a completed NotificationPlan out to every configured
// channel. Any channel failure makes the whole dispatch a failed fulfillment
// so the event source can redeliver.
type Dispatcher struct {
	channels []NotificationChannel
}

func NewDispatcher(channels ...NotificationChannel) *Dispatcher {
	return &Dispatcher{channels: channels}
}

// ChannelCount returns the number of configured channels.
func (d *Dispatcher) ChannelCount() int {
	return len(d.channels)
}

// Dispatch sends the plan on every channel, continuing past individual
// failures so one broken channel cannot silence the others, and returns the
// joined errors.
func (d *Dispatcher) Dispatch(ctx context.Context, plan models.NotificationPlan) error {
	if len(d.channels) == 0 {
		return fmt.Errorf("no notification channels configured")
	}

	attemptID := uuid.NewString()
	var errs []error
	for _, channel := range d.channels {
		if err := channel.Send(ctx, plan); err != nil {
			metrics.ChannelSendFailuresTotal.WithLabelValues(channel.Type()).Inc()
			log.Printf("ERROR (Dispatcher): Attempt %s via %s to %s failed: %v",
				attemptID, channel.Type(), plan.RecipientEmail, err)
			errs = append(errs, fmt.Errorf("%s channel: %w", channel.Type(), err))
			continue
		}
		log.Printf("INFO (Dispatcher): Attempt %s via %s to %s delivered %d items",
			attemptID, channel.Type(), plan.RecipientEmail, len(plan.Items))
	}
	return errors.Join(errs...)
}
