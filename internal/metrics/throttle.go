package metrics

import (
	"strconv"
	"time"

	"github.com/docpilot/docpilot/internal/observability"
)

// Throttle and retry metrics
const (
	ThrottleAdmissionsTotal = "throttle_admissions_total"
	ThrottleDelay           = "throttle_delay_ms"
	ThrottleQueueSize       = "throttle_queue_size"
	ThrottleAbortedTotal    = "throttle_aborted_total"
	RetriesTotal            = "retries_total"
)

// RecordThrottleAdmission records a call admitted by a limiter and the delay
// it was assigned.
func RecordThrottleAdmission(limiter string, delay time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}

	queued := "false"
	if delay > 0 {
		queued = "true"
	}
	_ = observability.TelemetrySystem.Counter(
		ThrottleAdmissionsTotal,
		1,
		map[string]string{
			"limiter": limiter,
			"queued":  queued,
		},
	)
	_ = observability.TelemetrySystem.Histogram(
		ThrottleDelay,
		delay,
		map[string]string{"limiter": limiter},
	)
}

// SetThrottleQueueSize reports the number of calls waiting on a limiter.
func SetThrottleQueueSize(limiter string, size int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ThrottleQueueSize,
			float64(size),
			map[string]string{"limiter": limiter},
		)
	}
}

// RecordThrottleAbort records how many queued calls an abort rejected.
func RecordThrottleAbort(limiter string, rejected int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			ThrottleAbortedTotal,
			float64(rejected),
			map[string]string{"limiter": limiter},
		)
	}
}

// RecordRetry records a retry of a rate-limited call.
func RecordRetry(operation string, retryCount int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			RetriesTotal,
			1,
			map[string]string{
				"operation": operation,
				"retry":     strconv.Itoa(retryCount),
			},
		)
	}
}
