package sagalog

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// TraceInfo holds the OTel identifiers extracted from a context.
type TraceInfo struct {
	// TraceID is the W3C trace ID (32 lowercase hex chars), empty when no
	// span is active.
	TraceID string

	// SpanID is the W3C span ID (16 lowercase hex chars).
	SpanID string
}

// ExtractTraceInfo reads the active span from ctx. The coordinator opens a
// span around every transition, and bus handlers restore the publisher's
// traceparent first, so entries written from a result handler share the trace
// of the HTTP request that submitted the order.
func ExtractTraceInfo(ctx context.Context) TraceInfo {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return TraceInfo{}
	}
	return TraceInfo{
		TraceID: sc.TraceID().String(),
		SpanID:  sc.SpanID().String(),
	}
}

// Step identifies the step an entry is about.
type Step struct {
	ID      string
	Name    string
	Attempt int
}

// NewEntry builds an entry with the trace info taken from ctx.
//
//	entry := sagalog.NewEntry(ctx, orderID, sagalog.StatusStepDispatched,
//		sagalog.Step{ID: stepID, Name: "wms/execute", Attempt: 1}, "", nil)
//	_ = repo.Save(ctx, entry)
func NewEntry(ctx context.Context, sagaID string, status Status, step Step, payload string, errs []string) *SagaLog {
	ti := ExtractTraceInfo(ctx)

	errJSON := "[]"
	if len(errs) > 0 {
		if b, err := json.Marshal(errs); err == nil {
			errJSON = string(b)
		}
	}

	return &SagaLog{
		SagaID:        sagaID,
		Status:        status,
		StepID:        step.ID,
		CurrentStep:   step.Name,
		Attempt:       step.Attempt,
		Payload:       payload,
		ErrorMessages: errJSON,
		TraceID:       ti.TraceID,
		SpanID:        ti.SpanID,
		UpdatedAt:     time.Now().UTC(),
	}
}
