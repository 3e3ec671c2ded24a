// Package metrics exposes Prometheus counters for ledger, archive and sync
// activity. The daemon serves them on the optional /metrics listener.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Mutations counts committed and rejected ledger mutations by operation.
	Mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bestelldesk_ledger_mutations_total",
		Help: "Ledger mutations by operation and result.",
	}, []string{"op", "result"})

	// Archive counts export and import attempts.
	Archive = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bestelldesk_archive_operations_total",
		Help: "Export/import operations by operation and result.",
	}, []string{"op", "result"})

	// Sync counts push, pull and merge outcomes.
	Sync = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bestelldesk_sync_operations_total",
		Help: "Sync engine operations by operation and result.",
	}, []string{"op", "result"})
)

// Result label values.
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultRejected = "rejected"
	ResultConflict = "conflict"
)
