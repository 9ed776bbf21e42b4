// Package metrics exposes the server's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesSent counts successfully persisted messages.
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_messages_sent_total",
		Help: "Total messages persisted by the message store.",
	})

	// EnvelopesDelivered counts envelopes pushed to live sessions, by kind.
	EnvelopesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_envelopes_delivered_total",
		Help: "Total envelopes delivered to live session handles.",
	}, []string{"kind"})

	// EnvelopesDropped counts envelopes dropped because a session's outbound
	// buffer was full or the session closed mid-push.
	EnvelopesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_envelopes_dropped_total",
		Help: "Total envelopes dropped instead of delivered.",
	})

	// OnlineUsers tracks the number of users with at least one live session.
	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_online_users",
		Help: "Users currently holding at least one live connection.",
	})
)

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
