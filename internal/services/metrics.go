package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// jobTransitions counts committed status changes by target status and
	// actor role.
	jobTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casasegura_job_transitions_total",
			Help: "Committed job status transitions.",
		},
		[]string{"to", "role"},
	)

	// creditsApplied sums credits (in cents) applied to jobs.
	creditsApplied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "casasegura_credits_applied_cents_total",
			Help: "Credits applied to jobs, in cents.",
		},
	)

	// creditsGranted sums credits granted, by transaction type.
	creditsGranted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casasegura_credits_granted_cents_total",
			Help: "Credits granted to users, in cents.",
		},
		[]string{"type"},
	)

	// creditConflicts counts balance CAS attempts that lost a race.
	creditConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "casasegura_credit_cas_conflicts_total",
			Help: "Lost compare-and-swap attempts on credit balances.",
		},
	)

	reviewsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "casasegura_reviews_created_total",
			Help: "Reviews created.",
		},
	)

	// chatMessages counts persisted chat messages by type.
	chatMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casasegura_chat_messages_total",
			Help: "Chat messages persisted.",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(jobTransitions, creditsApplied, creditsGranted, creditConflicts, reviewsCreated, chatMessages)
}
