package webhooks

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/webhook"
)

// EventParser verifies and parses a raw webhook delivery. Signature
// verification is the payment processor library's job, not ours.
type EventParser interface {
	ParseEvent(payload []byte, signature string) (*stripe.Event, error)
}

// StripeEventParser verifies deliveries against the endpoint's signing
// secret using the official library.
type StripeEventParser struct {
	signingSecret string
}

func NewStripeEventParser(signingSecret string) *StripeEventParser {
	return &StripeEventParser{signingSecret: signingSecret}
}

func (p *StripeEventParser) ParseEvent(payload []byte, signature string) (*stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, p.signingSecret)
	if err != nil {
		return nil, fmt.Errorf("webhook signature verification failed: %w", err)
	}
	return &event, nil
}

// LineItemExpander resolves a checkout session to the item ids its line
// items reference.
type LineItemExpander interface {
	// ExpandItemIDs returns every price and product id present on the
	// session's line items. Both levels are collected on purpose: product
	// mappings may be keyed by either.
	ExpandItemIDs(ctx context.Context, sessionID string) ([]string, error)
}

// CheckoutSessionExpander retrieves the checkout session from the Stripe API
// with line items and their products expanded.
type CheckoutSessionExpander struct{}

func NewCheckoutSessionExpander() *CheckoutSessionExpander {
	return &CheckoutSessionExpander{}
}

func (e *CheckoutSessionExpander) ExpandItemIDs(ctx context.Context, sessionID string) ([]string, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("line_items.data.price.product")

	cs, err := session.Get(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve checkout session %s: %w", sessionID, err)
	}
	if cs.LineItems == nil {
		return nil, nil
	}

	var ids []string
	for _, li := range cs.LineItems.Data {
		if li.Price == nil {
			continue
		}
		if li.Price.ID != "" {
			ids = append(ids, li.Price.ID)
		}
		if li.Price.Product != nil && li.Price.Product.ID != "" {
			ids = append(ids, li.Price.Product.ID)
		}
	}
	return ids, nil
}
