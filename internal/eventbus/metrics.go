package eventbus

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterMetrics экспортирует Stats шины в реестр Prometheus.
// Значения читаются при каждом scrape.
func RegisterMetrics(reg prometheus.Registerer, bus EventBus) {
	stat := func(pick func(Stats) float64) func() float64 {
		return func() float64 { return pick(bus.Metrics()) }
	}
	reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "eventbus",
			Name:      "messages_published_total",
			Help:      "Общее число опубликованных сообщений.",
		}, stat(func(s Stats) float64 { return float64(s.Published) })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "eventbus",
			Name:      "messages_consumed_total",
			Help:      "Общее число доставленных сообщений подписчикам.",
		}, stat(func(s Stats) float64 { return float64(s.Consumed) })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "eventbus",
			Name:      "messages_dropped_total",
			Help:      "Сообщений, отброшенных из-за ошибок или back-pressure.",
		}, stat(func(s Stats) float64 { return float64(s.Dropped) })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "eventbus",
			Name:      "messages_inflight",
			Help:      "Сообщения в очереди, ещё не доставленные.",
		}, stat(func(s Stats) float64 { return float64(s.InFlight) })),
	)
}
