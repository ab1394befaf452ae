package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Sessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "panelchat_ws_sessions",
		Help: "Open WebSocket sessions on this instance.",
	})

	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "panelchat_messages_sent_total",
		Help: "Direct messages accepted by the store.",
	})

	// Notifications is labelled by channel: badge, sound, toast, push.
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "panelchat_notifications_total",
		Help: "Notifications raised for inbound messages.",
	}, []string{"channel"})

	PresenceTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "panelchat_presence_transitions_total",
		Help: "Local presence status transitions by target status.",
	}, []string{"to"})
)
