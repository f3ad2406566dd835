// Package sagalog defines the audit trail written by the coordinator.
//
// Every dispatch, result, retry and terminal decision of an order's saga is
// appended as one entry. The log serves two purposes:
//
//  1. Observability: GET /api/orders/{id}/steps returns the entries of one
//     order, and each entry carries the trace_id of the span that wrote it so
//     a row can be joined with the distributed trace.
//
//  2. Diagnosis after a restart: the in-flight step table lives in memory, so
//     the log is the only record of which attempts were made before a crash.
package sagalog

import "time"

// Status is the kind of event an entry records.
type Status string

const (
	StatusStarted        Status = "STARTED"
	StatusStepDispatched Status = "STEP_DISPATCHED"
	StatusStepSucceeded  Status = "STEP_SUCCEEDED"
	StatusStepFailed     Status = "STEP_FAILED"
	StatusStepTimedOut   Status = "STEP_TIMED_OUT"
	StatusRetryScheduled Status = "RETRY_SCHEDULED"
	StatusCompensating   Status = "COMPENSATING"
	StatusCompleted      Status = "COMPLETED"
	StatusFailed         Status = "FAILED"
	StatusCancelled      Status = "CANCELLED"
)

// SagaLog is one appended event.
type SagaLog struct {
	// SagaID is the order id.
	SagaID string `json:"orderId"`

	Status Status `json:"status"`

	// StepID correlates the entry with a dispatched request; empty for
	// order-level events.
	StepID string `json:"stepId,omitempty"`

	// CurrentStep names the adapter and action, e.g. "cms/execute".
	CurrentStep string `json:"step,omitempty"`

	Attempt int `json:"attempt,omitempty"`

	// Payload is the JSON input that started the saga. Written once, on
	// STARTED.
	Payload string `json:"payload,omitempty"`

	// ErrorMessages is a JSON array of failure details.
	ErrorMessages string `json:"errors"`

	// TraceID and SpanID identify the span active when the entry was written.
	TraceID string `json:"traceId,omitempty"`
	SpanID  string `json:"spanId,omitempty"`

	UpdatedAt time.Time `json:"timestamp"`
}
