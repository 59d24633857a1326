package fulfillment

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coreybb/hermes/catalog"
	"github.com/coreybb/hermes/metrics"
	"github.com/coreybb/hermes/models"
	"github.com/coreybb/hermes/tokenlink"
)

// DefaultAttachmentSizeLimit is the ceiling for attaching a local file
// directly to the notification email. Anything larger is delivered as a
// signed download link instead.
const DefaultAttachmentSizeLimit = 18 * 1024 * 1024

// Outcome classifies how a purchase event terminated. Every outcome except
// a dispatch failure is acknowledged to the event source, so permanently
// unfulfillable events do not cause retry storms.
type Outcome string

const (
	OutcomeProcessed      Outcome = "processed"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeIgnoredKind    Outcome = "ignored_kind"
	OutcomeNoRecipient    Outcome = "no_recipient"
	OutcomeNoDeliverables Outcome = "no_deliverables"
)

// PlanDispatcher hands a completed plan to the configured notification
// channels. Satisfied by *delivery.Dispatcher.
type PlanDispatcher interface {
	Dispatch(ctx context.Context, plan models.NotificationPlan) error
}

// AdminAlerter surfaces operator-actionable conditions. Satisfied by
// *delivery.DiscordChannel.
type AdminAlerter interface {
	Alert(ctx context.Context, title, description string) error
}

// Orchestrator turns verified purchase events into dispatched notification
// plans: idempotency reservation, event-kind filter, recipient resolution,
// deliverable resolution, per-item disposition, dispatch.
type Orchestrator struct {
	registry   EventRegistry
	catalog    *catalog.Catalog
	codec      *tokenlink.Codec
	dispatcher PlanDispatcher
	alerter    AdminAlerter // optional

	baseURL         string
	linkTTL         time.Duration
	attachmentLimit int64
}

func NewOrchestrator(
	registry EventRegistry,
	cat *catalog.Catalog,
	codec *tokenlink.Codec,
	dispatcher PlanDispatcher,
	alerter AdminAlerter,
	baseURL string,
) *Orchestrator {
	return &Orchestrator{
		registry:        registry,
		catalog:         cat,
		codec:           codec,
		dispatcher:      dispatcher,
		alerter:         alerter,
		baseURL:         baseURL,
		linkTTL:         tokenlink.DefaultTTL,
		attachmentLimit: DefaultAttachmentSizeLimit,
	}
}

// Process runs the fulfillment state machine for one event. A nil error with
// a terminal outcome means the event source should receive a success
// acknowledgment; a non-nil error means dispatch failed and the reservation
// has been released so the processor's redelivery can retry.
func (o *Orchestrator) Process(ctx context.Context, event models.PurchaseEvent) (Outcome, error) {
	reserved, err := o.registry.Reserve(ctx, event.ID)
	if err != nil {
		return "", fmt.Errorf("failed to reserve event %s: %w", event.ID, err)
	}
	if !reserved {
		log.Printf("INFO (Orchestrator): Event %s already processed, skipping", event.ID)
		return OutcomeDuplicate, nil
	}

	if event.Kind != models.EventKindCheckoutCompleted && event.Kind != models.EventKindPaymentSucceeded {
		return OutcomeIgnoredKind, nil
	}

	recipient := event.RecipientEmail()
	if recipient == "" {
		log.Printf("WARN (Orchestrator): Event %s has no resolvable customer email, skipping", event.ID)
		return OutcomeNoRecipient, nil
	}

	resolved := o.catalog.Resolve(event.ItemIDs)
	if len(resolved) == 0 {
		log.Printf("WARN (Orchestrator): No configured deliverables for event %s, item ids: %v", event.ID, event.ItemIDs)
		if o.alerter != nil && len(event.ItemIDs) > 0 {
			alertErr := o.alerter.Alert(ctx, "Unmapped purchase",
				fmt.Sprintf("Event `%s` sold item ids %v with no configured deliverable. Customer %s received nothing.",
					event.ID, event.ItemIDs, recipient))
			if alertErr != nil {
				log.Printf("WARN (Orchestrator): Failed to send unmapped-purchase alert: %v", alertErr)
			}
		}
		return OutcomeNoDeliverables, nil
	}

	plan := models.NotificationPlan{
		RecipientEmail: recipient,
		OrderRef:       event.OrderRef,
	}
	for _, descriptor := range resolved {
		plan.Items = append(plan.Items, o.decideDisposition(recipient, descriptor))
	}

	if err := o.dispatcher.Dispatch(ctx, plan); err != nil {
		// Release so a redelivery of the same event id is processed again
		// rather than swallowed as idempotent.
		if releaseErr := o.registry.Release(ctx, event.ID); releaseErr != nil {
			log.Printf("ERROR (Orchestrator): Failed to release reservation for event %s: %v", event.ID, releaseErr)
		}
		return "", fmt.Errorf("dispatch failed for event %s: %w", event.ID, err)
	}

	log.Printf("INFO (Orchestrator): Event %s fulfilled for %s with %d items (%d deliverable)",
		event.ID, recipient, len(plan.Items), plan.DeliverableCount())
	return OutcomeProcessed, nil
}

// decideDisposition picks the delivery mechanism for one deliverable,
// independently of its siblings: remote URLs always get a signed link, local
// files are attached when small enough and linked otherwise, and a missing
// file degrades to an error entry without aborting the rest of the plan.
func (o *Orchestrator) decideDisposition(recipient string, d models.DeliverableDescriptor) models.ItemDisposition {
	if d.URL != "" {
		return o.mintLink(recipient, d.Name, "", d.URL)
	}

	info, err := os.Stat(d.Path)
	if err != nil {
		log.Printf("WARN (Orchestrator): Local file missing for %q: %v", d.Name, err)
		return models.ItemDisposition{
			Name:   d.Name,
			Kind:   models.DispositionError,
			Reason: fmt.Sprintf("file not found: %s", d.Path),
		}
	}

	if info.Size() <= o.attachmentLimit {
		return models.ItemDisposition{
			Name:       d.Name,
			Kind:       models.DispositionAttach,
			AttachPath: d.Path,
		}
	}
	return o.mintLink(recipient, d.Name, d.Path, "")
}

func (o *Orchestrator) mintLink(recipient, name, path, url string) models.ItemDisposition {
	link, err := o.codec.SignedLink(o.baseURL, recipient, name, path, url, o.linkTTL)
	if err != nil {
		log.Printf("ERROR (Orchestrator): Failed to mint link for %q: %v", name, err)
		return models.ItemDisposition{
			Name:   name,
			Kind:   models.DispositionError,
			Reason: "failed to generate download link",
		}
	}
	metrics.TokensMintedTotal.Inc()
	return models.ItemDisposition{
		Name: name,
		Kind: models.DispositionDirectLink,
		Link: link,
	}
}
