package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	routes   *prometheus.CounterVec
	pushes   *prometheus.CounterVec
	replayed prometheus.Counter
}

func newMetrics(registerer prometheus.Registerer) *metrics {
	factory := promauto.With(registerer)
	return &metrics{
		routes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roost",
			Subsystem: "delivery",
			Name:      "routes_total",
			Help:      "Sent messages by whether the recipient was online.",
		}, []string{"outcome"}),
		pushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roost",
			Subsystem: "delivery",
			Name:      "pushes_total",
			Help:      "Real-time pushes by kind and result.",
		}, []string{"kind", "result"}),
		replayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "roost",
			Subsystem: "delivery",
			Name:      "replayed_messages_total",
			Help:      "Messages pushed again on reconnect.",
		}),
	}
}
