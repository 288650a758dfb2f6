package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "campus_chat_connections",
		Help: "Number of open chat WebSocket connections on this instance",
	})

	onlineUsersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "campus_chat_online_users",
		Help: "Number of users with at least one open connection on this instance",
	})

	eventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campus_chat_events_delivered_total",
		Help: "Chat events pushed to WebSocket connections, by event type",
	}, []string{"type"})

	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campus_chat_events_dropped_total",
		Help: "Chat events dropped because a connection could not keep up",
	})

	clientMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campus_chat_client_messages_total",
		Help: "Messages received from WebSocket clients, by type and outcome",
	}, []string{"type", "outcome"})
)
