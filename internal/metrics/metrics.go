// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Submission outcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate_retry"
	OutcomeRejected  = "rejected"
	OutcomeError     = "error"
)

var (
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventattend",
		Name:      "submissions_total",
		Help:      "Attendance submissions by outcome and rejection reason.",
	}, []string{"outcome", "reason"})

	SubmitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "eventattend",
		Name:      "submit_duration_seconds",
		Help:      "Time spent handling a submission, including face search and upload.",
		Buckets:   prometheus.DefBuckets,
	})

	ReviewDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventattend",
		Name:      "review_decisions_total",
		Help:      "Admin decisions on failed attempts; changed=false for no-op repeats.",
	}, []string{"decision", "changed"})

	FaceJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventattend",
		Name:      "face_jobs_total",
		Help:      "Face gallery jobs processed by the worker.",
	}, []string{"type", "result"})

	WizardTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventattend",
		Name:      "wizard_transitions_total",
		Help:      "Kiosk wizard state changes by target state.",
	}, []string{"to"})
)
