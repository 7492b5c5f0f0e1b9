package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	openConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lounge_open_connections",
		Help: "Currently open websocket connections.",
	})
	messagesBroadcast = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lounge_messages_broadcast_total",
		Help: "Chat messages durably written and fanned out.",
	})
	persistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lounge_message_persist_failures_total",
		Help: "Chat messages lost because the durable write failed.",
	})
	ladderGamesPlayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lounge_ladder_games_total",
		Help: "Ladder games that reached the playing phase.",
	})
)
