package routehandlers

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/coreybb/hermes/catalog"
	"github.com/coreybb/hermes/fulfillment"
	"github.com/coreybb/hermes/models"
	"github.com/coreybb/hermes/tokenlink"
)

type capturingDispatcher struct {
	plans []models.NotificationPlan
}

func (c *capturingDispatcher) Dispatch(_ context.Context, plan models.NotificationPlan) error {
	c.plans = append(c.plans, plan)
	return nil
}

// Full path from purchase event to redeemed download: the orchestrator mints
// a link, the customer follows it, the endpoint redirects to the configured
// remote source.
func TestFulfillmentToRedemption(t *testing.T) {
	codec := tokenlink.NewCodec("test-secret")
	products, err := catalog.New(map[string]models.DeliverableDescriptor{
		"price_X": {Name: "Pack A", URL: "https://files.example/a.zip"},
	})
	if err != nil {
		t.Fatalf("catalog.New failed: %v", err)
	}

	dispatcher := &capturingDispatcher{}
	orchestrator := fulfillment.NewOrchestrator(
		fulfillment.NewMemoryRegistry(), products, codec, dispatcher, nil, "https://dl.example.com")

	event := models.PurchaseEvent{
		ID:                   "evt_1",
		Kind:                 models.EventKindCheckoutCompleted,
		ItemIDs:              []string{"price_X"},
		CustomerDetailsEmail: "buyer@example.com",
		OrderRef:             "cs_test_1",
	}

	outcome, err := orchestrator.Process(context.Background(), event)
	if err != nil || outcome != fulfillment.OutcomeProcessed {
		t.Fatalf("Process outcome = %q, err = %v", outcome, err)
	}

	plan := dispatcher.plans[0]
	if len(plan.Items) != 1 || plan.Items[0].Kind != models.DispositionDirectLink {
		t.Fatalf("plan items = %+v", plan.Items)
	}

	const prefix = "https://dl.example.com/download/"
	link := plan.Items[0].Link
	if !strings.HasPrefix(link, prefix) {
		t.Fatalf("link = %q, want %s prefix", link, prefix)
	}

	rec := redeem(t, downloadServer(codec), strings.TrimPrefix(link, prefix))
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("redemption status = %d, want 303", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "https://files.example/a.zip" {
		t.Fatalf("Location = %q, want the configured remote source", got)
	}
}
