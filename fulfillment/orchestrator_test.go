package fulfillment

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/coreybb/hermes/catalog"
	"github.com/coreybb/hermes/models"
	"github.com/coreybb/hermes/tokenlink"
)

type mockDispatcher struct {
	mu           sync.Mutex
	dispatched   []models.NotificationPlan
	DispatchFunc func(ctx context.Context, plan models.NotificationPlan) error
}

func (m *mockDispatcher) Dispatch(ctx context.Context, plan models.NotificationPlan) error {
	m.mu.Lock()
	m.dispatched = append(m.dispatched, plan)
	m.mu.Unlock()
	if m.DispatchFunc != nil {
		return m.DispatchFunc(ctx, plan)
	}
	return nil
}

func (m *mockDispatcher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dispatched)
}

type mockAlerter struct {
	alerts []string
}

func (m *mockAlerter) Alert(_ context.Context, title, description string) error {
	m.alerts = append(m.alerts, title+": "+description)
	return nil
}

func testCatalog(t *testing.T, products map[string]models.DeliverableDescriptor) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(products)
	if err != nil {
		t.Fatalf("catalog.New failed: %v", err)
	}
	return c
}

func testOrchestrator(t *testing.T, products map[string]models.DeliverableDescriptor, dispatcher PlanDispatcher, alerter AdminAlerter) *Orchestrator {
	t.Helper()
	return NewOrchestrator(
		NewMemoryRegistry(),
		testCatalog(t, products),
		tokenlink.NewCodec("test-secret"),
		dispatcher,
		alerter,
		"https://dl.example.com",
	)
}

func checkoutEvent(id string, itemIDs ...string) models.PurchaseEvent {
	return models.PurchaseEvent{
		ID:                   id,
		Kind:                 models.EventKindCheckoutCompleted,
		ItemIDs:              itemIDs,
		CustomerDetailsEmail: "buyer@example.com",
		OrderRef:             "cs_test_1",
	}
}

// sparseFile creates a file of exactly size bytes without writing the data.
func sparseFile(t *testing.T, name string, size int64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create %s: %v", name, err)
	}
	if err := f.Truncate(size); err != nil {
		t.Fatalf("failed to size %s: %v", name, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("failed to close %s: %v", name, err)
	}
	return path
}

func TestProcessRemoteURLMintsLink(t *testing.T) {
	dispatcher := &mockDispatcher{}
	o := testOrchestrator(t, map[string]models.DeliverableDescriptor{
		"price_X": {Name: "Pack A", URL: "https://files.example/a.zip"},
	}, dispatcher, nil)

	outcome, err := o.Process(context.Background(), checkoutEvent("evt_1", "price_X"))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if outcome != OutcomeProcessed {
		t.Fatalf("outcome = %q, want processed", outcome)
	}

	plan := dispatcher.dispatched[0]
	if plan.RecipientEmail != "buyer@example.com" {
		t.Errorf("recipient = %q", plan.RecipientEmail)
	}
	if len(plan.Items) != 1 {
		t.Fatalf("plan has %d items, want 1", len(plan.Items))
	}
	item := plan.Items[0]
	if item.Kind != models.DispositionDirectLink || item.Name != "Pack A" {
		t.Fatalf("item = %+v", item)
	}
	if !strings.Contains(item.Link, "/download/") {
		t.Errorf("link %q does not target the redemption endpoint", item.Link)
	}
}

func TestProcessIdempotencySequential(t *testing.T) {
	dispatcher := &mockDispatcher{}
	o := testOrchestrator(t, map[string]models.DeliverableDescriptor{
		"price_X": {Name: "Pack A", URL: "https://files.example/a.zip"},
	}, dispatcher, nil)

	if _, err := o.Process(context.Background(), checkoutEvent("evt_1", "price_X")); err != nil {
		t.Fatalf("first Process failed: %v", err)
	}
	outcome, err := o.Process(context.Background(), checkoutEvent("evt_1", "price_X"))
	if err != nil {
		t.Fatalf("second Process failed: %v", err)
	}
	if outcome != OutcomeDuplicate {
		t.Fatalf("outcome = %q, want duplicate", outcome)
	}
	if dispatcher.count() != 1 {
		t.Fatalf("dispatched %d times, want 1", dispatcher.count())
	}
}

func TestProcessIdempotencyConcurrent(t *testing.T) {
	dispatcher := &mockDispatcher{}
	o := testOrchestrator(t, map[string]models.DeliverableDescriptor{
		"price_X": {Name: "Pack A", URL: "https://files.example/a.zip"},
	}, dispatcher, nil)

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = o.Process(context.Background(), checkoutEvent("evt_race", "price_X"))
		}()
	}
	wg.Wait()

	if dispatcher.count() != 1 {
		t.Fatalf("dispatched %d times under concurrent delivery, want exactly 1", dispatcher.count())
	}
}

func TestProcessIgnoredKind(t *testing.T) {
	dispatcher := &mockDispatcher{}
	o := testOrchestrator(t, map[string]models.DeliverableDescriptor{
		"price_X": {Name: "Pack A", URL: "https://files.example/a.zip"},
	}, dispatcher, nil)

	event := checkoutEvent("evt_1", "price_X")
	event.Kind = models.EventKindOther

	outcome, err := o.Process(context.Background(), event)
	if err != nil || outcome != OutcomeIgnoredKind {
		t.Fatalf("outcome = %q, err = %v, want ignored_kind", outcome, err)
	}
	if dispatcher.count() != 0 {
		t.Fatal("ignored event kind must not dispatch")
	}
}

func TestProcessNoRecipient(t *testing.T) {
	dispatcher := &mockDispatcher{}
	o := testOrchestrator(t, map[string]models.DeliverableDescriptor{
		"price_X": {Name: "Pack A", URL: "https://files.example/a.zip"},
	}, dispatcher, nil)

	event := checkoutEvent("evt_1", "price_X")
	event.CustomerDetailsEmail = ""
	event.ReceiptEmail = ""
	event.ChargeBillingEmail = ""
	event.LegacyCustomerEmail = ""

	outcome, err := o.Process(context.Background(), event)
	if err != nil || outcome != OutcomeNoRecipient {
		t.Fatalf("outcome = %q, err = %v, want no_recipient", outcome, err)
	}
	if dispatcher.count() != 0 {
		t.Fatal("event without recipient must not dispatch")
	}
}

func TestRecipientPriorityOrder(t *testing.T) {
	event := models.PurchaseEvent{
		ReceiptEmail:        "receipt@example.com",
		ChargeBillingEmail:  "billing@example.com",
		LegacyCustomerEmail: "legacy@example.com",
	}
	if got := event.RecipientEmail(); got != "receipt@example.com" {
		t.Fatalf("RecipientEmail = %q, want receipt email", got)
	}

	event.CustomerDetailsEmail = "details@example.com"
	if got := event.RecipientEmail(); got != "details@example.com" {
		t.Fatalf("RecipientEmail = %q, want customer details email", got)
	}
}

func TestProcessNoDeliverablesAlertsAdmin(t *testing.T) {
	dispatcher := &mockDispatcher{}
	alerter := &mockAlerter{}
	o := testOrchestrator(t, map[string]models.DeliverableDescriptor{
		"price_X": {Name: "Pack A", URL: "https://files.example/a.zip"},
	}, dispatcher, alerter)

	outcome, err := o.Process(context.Background(), checkoutEvent("evt_1", "price_unmapped"))
	if err != nil || outcome != OutcomeNoDeliverables {
		t.Fatalf("outcome = %q, err = %v, want no_deliverables", outcome, err)
	}
	if dispatcher.count() != 0 {
		t.Fatal("unmapped purchase must not dispatch")
	}
	if len(alerter.alerts) != 1 {
		t.Fatalf("got %d admin alerts, want 1", len(alerter.alerts))
	}
}

func TestProcessPartialFailure(t *testing.T) {
	dispatcher := &mockDispatcher{}
	o := testOrchestrator(t, map[string]models.DeliverableDescriptor{
		"price_A": {Name: "Pack A", URL: "https://files.example/a.zip"},
		"price_B": {Name: "Pack B", Path: filepath.Join(t.TempDir(), "missing.zip")},
		"price_C": {Name: "Pack C", URL: "https://files.example/c.zip"},
	}, dispatcher, nil)

	outcome, err := o.Process(context.Background(), checkoutEvent("evt_1", "price_A", "price_B", "price_C"))
	if err != nil || outcome != OutcomeProcessed {
		t.Fatalf("outcome = %q, err = %v, want processed", outcome, err)
	}

	plan := dispatcher.dispatched[0]
	if len(plan.Items) != 3 {
		t.Fatalf("plan has %d items, want 3", len(plan.Items))
	}

	errorItems := 0
	linkItems := 0
	for _, item := range plan.Items {
		switch item.Kind {
		case models.DispositionError:
			errorItems++
		case models.DispositionDirectLink:
			linkItems++
		}
	}
	if errorItems != 1 || linkItems != 2 {
		t.Fatalf("got %d error and %d link items, want 1 and 2: %+v", errorItems, linkItems, plan.Items)
	}
}

func TestProcessAttachmentSizeThreshold(t *testing.T) {
	smallPath := sparseFile(t, "small.zip", DefaultAttachmentSizeLimit)
	largePath := sparseFile(t, "large.zip", DefaultAttachmentSizeLimit+1)

	dispatcher := &mockDispatcher{}
	o := testOrchestrator(t, map[string]models.DeliverableDescriptor{
		"price_small": {Name: "Small Pack", Path: smallPath},
		"price_large": {Name: "Large Pack", Path: largePath},
	}, dispatcher, nil)

	if _, err := o.Process(context.Background(), checkoutEvent("evt_1", "price_small", "price_large")); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	plan := dispatcher.dispatched[0]
	byName := make(map[string]models.ItemDisposition, len(plan.Items))
	for _, item := range plan.Items {
		byName[item.Name] = item
	}

	if got := byName["Small Pack"]; got.Kind != models.DispositionAttach || got.AttachPath != smallPath {
		t.Errorf("file at the ceiling should attach, got %+v", got)
	}
	if got := byName["Large Pack"]; got.Kind != models.DispositionDirectLink || !strings.Contains(got.Link, "/download/") {
		t.Errorf("file over the ceiling should mint a link, got %+v", got)
	}
}

func TestProcessDispatchFailureReleasesReservation(t *testing.T) {
	sendErr := errors.New("channel down")
	dispatcher := &mockDispatcher{
		DispatchFunc: func(context.Context, models.NotificationPlan) error { return sendErr },
	}
	o := testOrchestrator(t, map[string]models.DeliverableDescriptor{
		"price_X": {Name: "Pack A", URL: "https://files.example/a.zip"},
	}, dispatcher, nil)

	if _, err := o.Process(context.Background(), checkoutEvent("evt_1", "price_X")); !errors.Is(err, sendErr) {
		t.Fatalf("Process error = %v, want dispatch failure", err)
	}

	// The failed event is not swallowed as a duplicate on redelivery.
	dispatcher.DispatchFunc = nil
	outcome, err := o.Process(context.Background(), checkoutEvent("evt_1", "price_X"))
	if err != nil || outcome != OutcomeProcessed {
		t.Fatalf("redelivery after failed dispatch: outcome = %q, err = %v, want processed", outcome, err)
	}
	if dispatcher.count() != 2 {
		t.Fatalf("dispatched %d times, want 2 (one failed, one retried)", dispatcher.count())
	}
}
