package webhooks

import (
	"context"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/coreybb/hermes/fulfillment"
	"github.com/coreybb/hermes/metrics"
	"github.com/coreybb/hermes/models"
	"github.com/coreybb/hermes/webutil"
	"github.com/stripe/stripe-go/v81"
)

const maxWebhookBodyBytes = 1 << 20

// EventProcessor runs the fulfillment state machine for one verified event.
// Satisfied by *fulfillment.Orchestrator.
type EventProcessor interface {
	Process(ctx context.Context, event models.PurchaseEvent) (fulfillment.Outcome, error)
}

// StripeWebhookHandler receives payment events, verifies them through the
// parser, expands line items, and hands the resulting PurchaseEvent to the
// orchestrator. Everything except a dispatch failure is acknowledged with
// 200 so Stripe does not retry permanently unfulfillable deliveries.
type StripeWebhookHandler struct {
	parser    EventParser
	expander  LineItemExpander
	processor EventProcessor
}

func NewStripeWebhookHandler(parser EventParser, expander LineItemExpander, processor EventProcessor) *StripeWebhookHandler {
	return &StripeWebhookHandler{
		parser:    parser,
		expander:  expander,
		processor: processor,
	}
}

func (h *StripeWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		webutil.RespondWithError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	defer r.Body.Close()

	stripeEvent, err := h.parser.ParseEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		log.Printf("WARN (StripeWebhook): Rejected delivery: %v", err)
		webutil.RespondWithError(w, http.StatusBadRequest, "Invalid signature or payload")
		return
	}

	event := h.purchaseEventFrom(r.Context(), stripeEvent)
	log.Printf("INFO (StripeWebhook): Event %s (%s)", event.ID, stripeEvent.Type)

	outcome, err := h.processor.Process(r.Context(), event)
	metrics.EventProcessingDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(metrics.OutcomeDispatchFailed).Inc()
		log.Printf("ERROR (StripeWebhook): Event %s failed: %v", event.ID, err)
		webutil.RespondWithError(w, http.StatusInternalServerError, "Fulfillment dispatch failed")
		return
	}
	metrics.WebhookEventsTotal.WithLabelValues(string(outcome)).Inc()

	switch outcome {
	case fulfillment.OutcomeDuplicate:
		webutil.RespondWithJSON(w, http.StatusOK, map[string]any{"ok": true, "idempotent": true})
	case fulfillment.OutcomeNoRecipient:
		webutil.RespondWithJSON(w, http.StatusOK, map[string]any{"ok": true, "note": "no customer email"})
	case fulfillment.OutcomeNoDeliverables:
		webutil.RespondWithJSON(w, http.StatusOK, map[string]any{"ok": true, "note": "no deliverables matched"})
	case fulfillment.OutcomeProcessed:
		webutil.RespondWithJSON(w, http.StatusOK, map[string]any{"ok": true, "customer": event.RecipientEmail()})
	default:
		webutil.RespondWithJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

// purchaseEventFrom flattens the Stripe event object into the fields the
// orchestrator needs. Line-item expansion failures degrade to an empty item
// id set rather than an error: the orchestrator reports that as an unmapped
// purchase, which is more useful than a retry loop.
func (h *StripeWebhookHandler) purchaseEventFrom(ctx context.Context, stripeEvent *stripe.Event) models.PurchaseEvent {
	kind, _ := models.IsValidEventKind(string(stripeEvent.Type))

	var obj map[string]interface{}
	if stripeEvent.Data != nil {
		obj = stripeEvent.Data.Object
	}

	event := models.PurchaseEvent{
		ID:                   stripeEvent.ID,
		Kind:                 kind,
		CustomerDetailsEmail: nestedString(obj, "customer_details", "email"),
		ReceiptEmail:         stringField(obj, "receipt_email"),
		ChargeBillingEmail:   firstChargeBillingEmail(obj),
		LegacyCustomerEmail:  stringField(obj, "customer_email"),
	}

	sessionID := stringField(obj, "id")
	event.OrderRef = sessionID
	if event.OrderRef == "" {
		event.OrderRef = stringField(obj, "payment_intent")
	}

	if kind == models.EventKindCheckoutCompleted && sessionID != "" {
		ids, err := h.expander.ExpandItemIDs(ctx, sessionID)
		if err != nil {
			log.Printf("ERROR (StripeWebhook): Unable to expand line items for %s: %v", sessionID, err)
		}
		event.ItemIDs = ids
	}
	return event
}

func stringField(obj map[string]interface{}, key string) string {
	s, _ := obj[key].(string)
	return s
}

func nestedString(obj map[string]interface{}, key, subKey string) string {
	nested, _ := obj[key].(map[string]interface{})
	if nested == nil {
		return ""
	}
	return stringField(nested, subKey)
}

func firstChargeBillingEmail(obj map[string]interface{}) string {
	charges, _ := obj["charges"].(map[string]interface{})
	if charges == nil {
		return ""
	}
	data, _ := charges["data"].([]interface{})
	if len(data) == 0 {
		return ""
	}
	first, _ := data[0].(map[string]interface{})
	if first == nil {
		return ""
	}
	return nestedString(first, "billing_details", "email")
}
