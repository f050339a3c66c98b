package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSent       = "sent"
	outcomeFailed     = "failed"
	outcomeUnresolved = "unresolved"
	outcomeError      = "error"
	outcomeDuplicate  = "already_dispatched"
	outcomeEscalated  = "escalated"
)

var (
	dispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carebell_reminders_dispatched_total",
		Help: "Reminder dispatch attempts by kind and outcome.",
	}, []string{"kind", "outcome"})

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "carebell_cycle_duration_seconds",
		Help:    "Duration of reminder cycles.",
		Buckets: prometheus.DefBuckets,
	})

	composerFallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carebell_composer_fallback_total",
		Help: "Messages that fell back to the template because text generation failed.",
	}, []string{"kind"})
)
