package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	deliveries   *prometheus.CounterVec
	channelSends *prometheus.CounterVec
	duration     prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		deliveries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "crisiswatch",
				Name:      "deliveries_total",
				Help:      "Route deliveries by overall result",
			},
			[]string{"result"}, // "success", "failure"
		),
		channelSends: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "crisiswatch",
				Name:      "channel_sends_total",
				Help:      "Individual channel send calls including retries",
			},
			[]string{"channel", "result"},
		),
		duration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "crisiswatch",
				Name:      "delivery_duration_seconds",
				Help:      "Wall time to deliver one route across all channels",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			},
		),
	}
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
