package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/adaptive-frontier/internal/progress"
)

// PrometheusSink exports frontier progress metrics via Prometheus. It owns
// the collectors for scheduling decisions, relearning batches, jobs and
// harness fetches.
type PrometheusSink struct {
	decisions     *prometheus.CounterVec
	precedence    prometheus.Histogram
	batches       *prometheus.CounterVec
	batchDuration prometheus.Histogram
	jobs          *prometheus.CounterVec

	fetchRequests *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontier_decisions_total",
			Help: "Frontier receive decisions partitioned by outcome and reason.",
		}, []string{"outcome", "reason"}),
		precedence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "frontier_enqueued_precedence",
			Help:    "Precedence of candidates entering a work queue.",
			Buckets: []float64{1, 2, 3, 4, 5, 10, 25, 50, 100, 101, 105, 150},
		}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontier_batches_total",
			Help: "Relearning batches resolved partitioned by outcome.",
		}, []string{"outcome"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "frontier_batch_duration_seconds",
			Help:    "Time spent waiting on the reordering service per batch.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontier_jobs_total",
			Help: "Crawl job lifecycle events partitioned by stage.",
		}, []string{"stage"}),
		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontier_fetch_requests_total",
			Help: "Harness fetch completions partitioned by site and status class.",
		}, []string{"site", "status_class"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontier_fetch_bytes_total",
			Help: "Bytes downloaded per site.",
		}, []string{"site"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "frontier_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by site and status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"site", "status_class"}),
	}
	for _, collector := range []prometheus.Collector{
		s.decisions,
		s.precedence,
		s.batches,
		s.batchDuration,
		s.jobs,
		s.fetchRequests,
		s.fetchBytes,
		s.fetchDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageDecision:
		s.decisions.WithLabelValues(evt.Outcome, evt.Reason).Inc()
		if evt.Outcome != "dropped" {
			s.precedence.Observe(float64(evt.Precedence))
		}
	case progress.StageBatch:
		s.batches.WithLabelValues(evt.Outcome).Inc()
		if evt.Dur > 0 {
			s.batchDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StageJobStart, progress.StageJobDone, progress.StageJobError:
		s.jobs.WithLabelValues(string(evt.Stage)).Inc()
	case progress.StageFetchDone:
		s.handleFetchEvent(evt)
	}
}

func (s *PrometheusSink) handleFetchEvent(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.fetchRequests.WithLabelValues(site, statusClass).Inc()
	if evt.Bytes > 0 {
		s.fetchBytes.WithLabelValues(site).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(site, statusClass).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
