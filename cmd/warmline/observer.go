package main

import (
	"sync/atomic"
	"time"

	"github.com/warmline/warmline/internal/metrics"
	"github.com/warmline/warmline/notify"
	"github.com/warmline/warmline/types"
)

// metricsObserver exports applied transitions to the Prometheus collector.
// It tracks the active-transfer gauge itself from transition edges instead
// of querying the machine, because it runs inside the transition hook.
type metricsObserver struct {
	collector *metrics.Collector
	hub       *notify.Hub
	active    atomic.Int64
}

func newMetricsObserver(collector *metrics.Collector, hub *notify.Hub) *metricsObserver {
	return &metricsObserver{collector: collector, hub: hub}
}

func (o *metricsObserver) TransitionApplied(from types.TransferStatus, state *types.TransferState) {
	o.collector.RecordTransition(string(from), string(state.Status))

	if from == types.StatusNone {
		o.collector.SetActiveTransfers(int(o.active.Add(1)))
	}
	if state.Status.Terminal() {
		o.collector.RecordOutcome(string(state.Status))
		o.collector.SetActiveTransfers(int(o.active.Add(-1)))
	}

	if state.Status == types.StatusSummaryReady && state.Summary != nil {
		o.collector.RecordSummary(
			state.Summary.ProviderUsed,
			"success",
			time.Duration(state.Summary.GenerationSecs*float64(time.Second)),
		)
	}

	if o.hub != nil {
		o.collector.SetNotifyDropped(o.hub.Dropped())
	}
}
