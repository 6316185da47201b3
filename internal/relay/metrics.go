package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	activeRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parleyd_active_rooms",
		Help: "Number of rooms with at least one member",
	})
	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parleyd_connected_clients",
		Help: "Number of open websocket connections",
	})
)

// Counters
var (
	roomsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parleyd_rooms_created_total",
		Help: "Total rooms created by a first join",
	})
	joinsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parleyd_joins_rejected_total",
		Help: "Total join-room refusals by reason",
	}, []string{"reason"})
	messagesRelayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parleyd_messages_relayed_total",
		Help: "Total messages forwarded between room members by type",
	}, []string{"type"})
	messagesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parleyd_messages_dropped_total",
		Help: "Total messages that could not be forwarded (no peer present)",
	})
)
