// Package metrics holds the Prometheus collectors of the sync core.
//
// Collectors are registered once with the default registry and served by the
// bridge at /metrics:
//
//	defer metrics.ObserveREST("send")()
//	metrics.EventReceived("new-message")
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// eventsTotal counts socket events by name.
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msgsync_socket_events_total",
		Help: "Socket events received, by event name.",
	}, []string{"event"})

	// emitsTotal counts socket emits by name and result (ok|not_connected|error).
	emitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msgsync_socket_emits_total",
		Help: "Socket events emitted, by event name and result.",
	}, []string{"event", "result"})

	// connectsTotal counts dial attempts by result (ok|error|throttled).
	connectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msgsync_socket_connects_total",
		Help: "Socket dial attempts, by result.",
	}, []string{"result"})

	connected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "msgsync_socket_connected",
		Help: "1 while the socket is connected.",
	})

	duplicatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msgsync_duplicates_dropped_total",
		Help: "Items dropped by id de-duplication, by component.",
	}, []string{"component"})

	staleTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msgsync_stale_responses_total",
		Help: "Responses discarded because their context was no longer current.",
	}, []string{"component"})

	receiptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msgsync_receipts_applied_total",
		Help: "Messages upgraded by receipt events, by kind.",
	}, []string{"kind"})

	restDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "msgsync_rest_request_duration_seconds",
		Help:    "Latency of REST collaborator calls, by operation.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"op"})
)

func EventReceived(event string) { eventsTotal.WithLabelValues(event).Inc() }

func Emitted(event, result string) { emitsTotal.WithLabelValues(event, result).Inc() }

func ConnectAttempt(result string) { connectsTotal.WithLabelValues(result).Inc() }

func SetConnected(ok bool) {
	if ok {
		connected.Set(1)
		return
	}
	connected.Set(0)
}

func DuplicateDropped(component string) { duplicatesTotal.WithLabelValues(component).Inc() }

func StaleDiscarded(component string) { staleTotal.WithLabelValues(component).Inc() }

func ReceiptsApplied(kind string, n int) {
	if n > 0 {
		receiptsTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// ObserveREST returns a func for defer that records the call latency.
func ObserveREST(op string) func() {
	start := time.Now()
	return func() { restDuration.WithLabelValues(op).Observe(time.Since(start).Seconds()) }
}

var feedClients = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "msgsync_bridge_feed_clients",
	Help: "UI clients connected to the bridge change feed.",
})

// FeedConnected counts a change-feed client until the returned func runs.
func FeedConnected() func() {
	feedClients.Inc()
	return feedClients.Dec
}
