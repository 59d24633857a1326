package models

// EventKind is the closed set of payment-processor event types this service
// acts on. Anything else is acknowledged and ignored.
type EventKind string

const (
	EventKindCheckoutCompleted EventKind = "checkout.session.completed"
	EventKindPaymentSucceeded  EventKind = "payment_intent.succeeded"
	EventKindOther             EventKind = "other"
)

// IsValidEventKind maps a raw processor event type onto an EventKind.
func IsValidEventKind(raw string) (EventKind, bool) {
	switch EventKind(raw) {
	case EventKindCheckoutCompleted, EventKindPaymentSucceeded:
		return EventKind(raw), true
	default:
		return EventKindOther, false
	}
}

// PurchaseEvent is the verified payment event handed to the orchestrator.
// Signature verification has already happened upstream; this carries only
// the fields fulfillment cares about.
type PurchaseEvent struct {
	ID      string    `json:"id"`
	Kind    EventKind `json:"kind"`
	ItemIDs []string  `json:"item_ids"`

	// Candidate recipient fields in strict priority order. Any may be empty.
	CustomerDetailsEmail string `json:"customer_details_email,omitempty"`
	ReceiptEmail         string `json:"receipt_email,omitempty"`
	ChargeBillingEmail   string `json:"charge_billing_email,omitempty"`
	LegacyCustomerEmail  string `json:"customer_email,omitempty"`

	// OrderRef identifies the order in notifications: the checkout session
	// id, falling back to the payment intent id.
	OrderRef string `json:"order_ref,omitempty"`
}

// RecipientEmail resolves the customer email by taking the first non-empty
// candidate in priority order. An empty return means the event has no
// resolvable recipient and must not produce a notification.
func (e PurchaseEvent) RecipientEmail() string {
	for _, candidate := range []string{
		e.CustomerDetailsEmail,
		e.ReceiptEmail,
		e.ChargeBillingEmail,
		e.LegacyCustomerEmail,
	} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}
