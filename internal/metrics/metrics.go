// Package metrics registers the Prometheus collectors of the workspace service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "quoteworks"

// Result label values.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

var (
	AutosaveFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autosave_flushes_total",
			Help:      "Draft flushes by trigger and result.",
		},
		[]string{"trigger", "result"},
	)

	ThreadPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thread_polls_total",
			Help:      "Message thread fetches by result.",
		},
		[]string{"result"},
	)

	MessageMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_mutations_total",
			Help:      "Message send/edit/delete calls by operation and result.",
		},
		[]string{"op", "result"},
	)

	Submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Quote response submissions by result.",
		},
		[]string{"result"},
	)

	WorkspacesOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workspaces_open",
			Help:      "Quote response workspaces currently open.",
		},
	)

	ManufacturerLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manufacturer_lookups_total",
			Help:      "Manufacturer name lookups by the tier that answered.",
		},
		[]string{"source"},
	)
)

func init() {
	prometheus.MustRegister(
		AutosaveFlushes,
		ThreadPolls,
		MessageMutations,
		Submissions,
		WorkspacesOpen,
		ManufacturerLookups,
	)
}

// Result maps an error to a result label.
func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
