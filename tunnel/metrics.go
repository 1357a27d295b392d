// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

package tunnel

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	cellsIn = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tunneld",
		Name:      "tunnel_cells_in_total",
		Help:      "Number of inbound cells processed by reactors",
	})
	cellsOut = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tunneld",
		Name:      "tunnel_cells_out_total",
		Help:      "Number of outbound cells written by reactors",
	})
	legsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tunneld",
		Name:      "tunnel_legs_failed_total",
		Help:      "Number of legs torn down due to fatal errors",
	})
	streamsOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tunneld",
		Name:      "tunnel_streams_opened_total",
		Help:      "Number of streams successfully opened",
	})
	reorderedCells = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tunneld",
		Name:      "tunnel_conflux_reordered_cells_total",
		Help:      "Number of data cells held in the conflux reorder buffer",
	})
	droppedEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tunneld",
		Name:      "tunnel_dropped_events_total",
		Help:      "Number of stream events dropped on full delivery channels",
	})
)

func init() {
	prometheus.MustRegister(cellsIn)
	prometheus.MustRegister(cellsOut)
	prometheus.MustRegister(legsFailed)
	prometheus.MustRegister(streamsOpened)
	prometheus.MustRegister(reorderedCells)
	prometheus.MustRegister(droppedEvents)
}
