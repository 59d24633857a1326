package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for webhook processing and link redemption.
var (
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_webhook_events_total",
			Help: "Payment webhook events received, labelled by outcome",
		},
		[]string{"outcome"},
	)

	TokensMintedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fulfillment_tokens_minted_total",
			Help: "Signed download tokens minted",
		},
	)

	RedemptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_redemptions_total",
			Help: "Download token redemptions, labelled by result",
		},
		[]string{"result"},
	)

	ChannelSendFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_channel_send_failures_total",
			Help: "Notification channel dispatch failures, labelled by channel type",
		},
		[]string{"channel"},
	)

	EventProcessingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fulfillment_event_processing_duration_seconds",
			Help:    "Duration of purchase event processing",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Outcome label values for WebhookEventsTotal.
const (
	OutcomeProcessed      = "processed"
	OutcomeDuplicate      = "duplicate"
	OutcomeIgnoredKind    = "ignored_kind"
	OutcomeNoRecipient    = "no_recipient"
	OutcomeNoDeliverables = "no_deliverables"
	OutcomeDispatchFailed = "dispatch_failed"
)

// Register registers all metrics with the default registry.
func Register() {
	prometheus.MustRegister(WebhookEventsTotal)
	prometheus.MustRegister(TokensMintedTotal)
	prometheus.MustRegister(RedemptionsTotal)
	prometheus.MustRegister(ChannelSendFailuresTotal)
	prometheus.MustRegister(EventProcessingDuration)
}
