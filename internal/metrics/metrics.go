// Package metrics exposes the Prometheus counters pkg/transfer and
// pkg/install update as they move an archive onto a board: chunk retries
// and shrinks from the CRC-guarded writer, and install outcomes from the
// state machine. Registration happens once at package init against the
// default registry; a CLI process exposes them by mounting
// promhttp.Handler wherever it already serves HTTP, which this package
// does not assume.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ChunkRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "upy_packager_chunk_retries_total",
		Help: "Total number of chunk writes retried after a CRC mismatch.",
	})

	ChunkShrinksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "upy_packager_chunk_shrinks_total",
		Help: "Total number of times the writer halved its chunk size after a corrupted write.",
	})

	InstallOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "upy_packager_install_outcomes_total",
		Help: "Total installs by final state (Cleaned on success, Cleaning on a failure that was cleaned up).",
	}, []string{"state"})
)

func init() {
	prometheus.MustRegister(ChunkRetriesTotal, ChunkShrinksTotal, InstallOutcomesTotal)
}
