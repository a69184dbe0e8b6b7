package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentledger_operations_total",
		Help: "Ledger operations processed, labeled by outcome kind",
	}, []string{"operation", "outcome"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentledger_operation_duration_seconds",
		Help:    "Latency distribution of ledger operations",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"operation"})

	notificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentledger_notifications_dropped_total",
		Help: "Notifications dropped because the dispatch queue was full",
	})

	intentsRolledBack = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentledger_intents_rolled_back_total",
		Help: "Journal intents undone after a failed or interrupted operation",
	})
)

func observe(operation string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = string(KindOf(err))
	}
	operationsTotal.WithLabelValues(operation, outcome).Inc()
	operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
