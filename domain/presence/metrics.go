package presence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	detectionsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_detections_total",
		Help: "Total detections processed by the presence engine",
	}, []string{"kind"})

	eventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_events_total",
		Help: "Total presence events emitted",
	}, []string{"type"})

	flushBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "presence_flush_batch_size",
		Help:    "Items written per presence flush",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
	})

	flushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_flush_failures_total",
		Help: "Total presence flushes that failed and were re-queued",
	})
)
