// Package metrics exposes Prometheus collectors for the report lifecycle.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "blockaid"

var (
	EventsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_created_total",
		Help:      "Disaster events stored, by severity level.",
	}, []string{"level"})

	EventRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_rejections_total",
		Help:      "Reports refused, by error kind.",
	}, []string{"reason"})

	EventsVerified = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_verified_total",
		Help:      "Disaster events verified by an official.",
	})

	FundsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "funds_created_total",
		Help:      "Relief funds approved.",
	})

	ClassifierDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "classifier_duration_seconds",
		Help:      "Latency of image classification calls, by outcome.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"outcome"})

	EscalationsRaised = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "escalations_raised_total",
		Help:      "Escalation alerts published.",
	})
)

// ObserveClassifier records one classifier call.
func ObserveClassifier(start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ClassifierDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
