package models

// DispositionKind defines the set of allowed delivery mechanisms for one
// deliverable within a NotificationPlan.
type DispositionKind string

const (
	DispositionDirectLink DispositionKind = "direct_link"
	DispositionAttach     DispositionKind = "attach"
	DispositionError      DispositionKind = "error"
)

// ItemDisposition is the per-deliverable delivery decision. Exactly one of
// Link, AttachPath, or Reason is populated, matching Kind.
type ItemDisposition struct {
	Name       string          `json:"name"`
	Kind       DispositionKind `json:"kind"`
	Link       string          `json:"link,omitempty"`
	AttachPath string          `json:"attach_path,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

// NotificationPlan is the ephemeral per-event dispatch payload: who to tell,
// about which order, with which per-item deliveries. It is never persisted.
type NotificationPlan struct {
	RecipientEmail string            `json:"recipient_email"`
	OrderRef       string            `json:"order_ref,omitempty"`
	Items          []ItemDisposition `json:"items"`
}

// DeliverableCount returns the number of non-error items in the plan.
func (p NotificationPlan) DeliverableCount() int {
	n := 0
	for _, item := range p.Items {
		if item.Kind != DispositionError {
			n++
		}
	}
	return n
}
