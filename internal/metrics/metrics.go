// Package metrics provides Prometheus metrics for the storage lifecycle.
//
// Exposed families:
//   - object store operation latency, counts and bytes moved
//   - sweep runs, durations and per-key dispositions
//   - checklist backlog per list
//
// Constructors come in two flavours: NewX registers with the default registry
// through promauto, NewXWithRegistry takes an explicit registerer for tests.
package metrics

const namespace = "tierstore"

// Status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

func statusLabel(success bool) string {
	if success {
		return StatusSuccess
	}
	return StatusFailure
}
