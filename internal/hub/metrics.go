package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	roomsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taskflow_broadcaster_rooms",
		Help: "Current number of rooms with at least one member",
	})

	subscriptionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taskflow_broadcaster_subscriptions",
		Help: "Current number of connection-room memberships",
	})

	emitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_broadcaster_emits_total",
		Help: "Envelopes emitted, by event name",
	}, []string{"event"})

	deliveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskflow_broadcaster_deliveries_total",
		Help: "Envelopes handed to a member connection",
	})

	deliveryFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskflow_broadcaster_delivery_failures_total",
		Help: "Per-connection writes that failed during emit",
	})
)
