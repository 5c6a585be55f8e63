package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/jobhearted-crawler/internal/fleet"
	"github.com/JakeFAU/jobhearted-crawler/internal/progress"
)

// PrometheusSink exports fleet totals via Prometheus gauges and counts
// worker transitions.
type PrometheusSink struct {
	workers        *prometheus.GaugeVec
	urls           *prometheus.GaugeVec
	transitions    *prometheus.CounterVec
	workersRemoved prometheus.Counter
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		workers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "jobcrawler_workers",
			Help: "Workers currently in each totalled lifecycle state.",
		}, []string{"state"}),
		urls: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "jobcrawler_urls",
			Help: "Fleet-wide URL count per outcome flag.",
		}, []string{"flag"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobcrawler_worker_transitions_total",
			Help: "Worker lifecycle transitions partitioned by entered state.",
		}, []string{"state"}),
		workersRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobcrawler_workers_removed_total",
			Help: "Workers removed from the fleet.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.workers,
		s.urls,
		s.transitions,
		s.workersRemoved,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register fleet collector: %w", err)
		}
	}
	for _, f := range fleet.Flags() {
		s.urls.WithLabelValues(string(f)).Set(0)
	}
	for _, st := range []fleet.State{fleet.StateRunning, fleet.StatePaused, fleet.StateStopped} {
		s.workers.WithLabelValues(string(st)).Set(0)
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Kind {
		case progress.KindStateChanged:
			s.transitions.WithLabelValues(string(evt.State)).Inc()
		case progress.KindFlagTotal:
			s.urls.WithLabelValues(string(evt.Flag)).Set(float64(evt.Total))
		case progress.KindStateCounts:
			for state, n := range evt.Counts {
				s.workers.WithLabelValues(string(state)).Set(float64(n))
			}
		case progress.KindWorkerRemoved:
			s.workersRemoved.Inc()
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
