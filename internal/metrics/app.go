package metrics

import (
	"time"

	"github.com/docpilot/docpilot/internal/observability"
)

// Application-level metrics following Prometheus conventions
const (
	// RAG operations (generate, add_document, query, ...)
	OperationsTotal       = "rag_operations_total"
	OperationsErrorsTotal = "rag_operations_errors_total"
	OperationDuration     = "rag_operation_duration_ms"

	// Stored document content
	StoredDocumentsTotal = "content_store_documents_total"

	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"

	ServerStartTime = "app_server_start_time_seconds"
)

// RecordOperation records a RAG operation with status
func RecordOperation(operation string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			OperationsTotal,
			1,
			map[string]string{
				"operation": operation,
				"status":    status,
			},
		)
	}
}

// RecordOperationDuration records how long a RAG operation took end to end,
// including any time spent queued behind a limiter.
func RecordOperationDuration(operation string, duration time.Duration) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Histogram(
			OperationDuration,
			duration,
			map[string]string{"operation": operation},
		)
	}
}

// RecordOperationError records a RAG operation error
func RecordOperationError(operation string, errorType string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			OperationsErrorsTotal,
			1,
			map[string]string{
				"operation":  operation,
				"error_type": errorType,
			},
		)
	}
}

// RecordStoredDocument counts documents written to the content store.
func RecordStoredDocument(driver string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			StoredDocumentsTotal,
			1,
			map[string]string{"driver": driver},
		)
	}
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HealthCheckTotal,
			1,
			map[string]string{
				"check":  checkName,
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			HealthCheckDuration,
			duration,
			map[string]string{
				"check": checkName,
			},
		)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerStartTime,
			float64(timestamp),
			nil,
		)
	}
}
