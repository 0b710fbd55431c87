// Package metrics holds the Prometheus collectors of the app.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	generationResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quizbank_generation_results_total",
		Help: "Generation jobs that finished, by result",
	}, []string{"result"})

	pendingQuizzes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quizbank_pending_quizzes",
		Help: "Quizzes still pending after the last poll",
	})

	webhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quizbank_webhook_events_total",
		Help: "Webhook events received, by provider, type and result",
	}, []string{"provider", "type", "result"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quizbank_http_requests_total",
		Help: "HTTP requests, by method, route and status code",
	}, []string{"method", "route", "code"})
)

// ObservePoll records the outcome of one poll cycle.
func ObservePoll(completed, failed, pending int) {
	generationResults.WithLabelValues("completed").Add(float64(completed))
	generationResults.WithLabelValues("failed").Add(float64(failed))
	pendingQuizzes.Set(float64(pending))
}

// ObserveWebhook records a webhook event; result is "ok", "ignored" or "error".
func ObserveWebhook(provider, eventType, result string) {
	if eventType == "" {
		eventType = "unknown"
	}
	webhookEvents.WithLabelValues(provider, eventType, result).Inc()
}

func ObserveRequest(method, route string, code int) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}
