// Package adapters connects the bus to the external systems. Each protocol
// subpackage (cms, ros, wms) implements Adapter; Worker turns requests
// published on <kind>.request into results on <kind>.result.
package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jcmexdev/swifttrack-sagas/internal/bus"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/contracts"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/metrics"
)

// Error is a categorized adapter failure.
type Error struct {
	Code contracts.ErrorCode
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func Errorf(code contracts.ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap categorizes err under code.
func Wrap(code contracts.ErrorCode, msg string, err error) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// CodeOf extracts the category of err. Context deadlines map to TIMEOUT and
// anything uncategorized to REMOTE_UNAVAILABLE.
func CodeOf(err error) contracts.ErrorCode {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return contracts.CodeTimeout
	}
	return contracts.CodeRemoteUnavailable
}

// Outcome is what one backend call produced: Data on success, Err otherwise.
type Outcome struct {
	Data any
	Err  error
}

func Ok(data any) Outcome      { return Outcome{Data: data} }
func Fail(err error) Outcome   { return Outcome{Err: err} }
func (o Outcome) Failed() bool { return o.Err != nil }

// Adapter calls one external system. Implementations are stateless and never
// retry internally; the coordinator owns retries.
type Adapter interface {
	Kind() contracts.AdapterKind
	Execute(ctx context.Context, req contracts.StepRequest) Outcome
	Compensate(ctx context.Context, req contracts.StepRequest) Outcome
}

// DecodePayload unmarshals the request payload, reporting INVALID_REQUEST on
// garbage.
func DecodePayload(req contracts.StepRequest, v any) error {
	if len(req.Payload) == 0 {
		return Errorf(contracts.CodeInvalidRequest, "empty payload for step %s", req.StepID)
	}
	if err := json.Unmarshal(req.Payload, v); err != nil {
		return Wrap(contracts.CodeInvalidRequest, "decode payload", err)
	}
	return nil
}

const DefaultRequestTimeout = 8 * time.Second

// Worker consumes <kind>.request and publishes <kind>.result. Every request
// runs in its own goroutine bounded by RequestTimeout.
type Worker struct {
	adapter        Adapter
	bus            bus.Bus
	metrics        *metrics.Adapter
	requestTimeout time.Duration
	now            func() time.Time

	wg sync.WaitGroup
}

type WorkerOption func(*Worker)

func WithRequestTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.requestTimeout = d
		}
	}
}

func WithMetrics(m *metrics.Adapter) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

func NewWorker(a Adapter, b bus.Bus, opts ...WorkerOption) *Worker {
	w := &Worker{
		adapter:        a,
		bus:            b,
		requestTimeout: DefaultRequestTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Group is the consumer group of the adapter for kind.
func Group(kind contracts.AdapterKind) string { return string(kind) + "-adapter" }

// Start subscribes the worker. Requests are acknowledged as soon as they are
// handed to their goroutine; a lost result is recovered by the coordinator's
// step timeout.
func (w *Worker) Start(ctx context.Context) error {
	kind := w.adapter.Kind()
	return w.bus.Subscribe(ctx, kind.RequestTopic(), Group(kind), func(ctx context.Context, msg bus.Message) error {
		var req contracts.StepRequest
		if err := bus.DecodeJSON(msg, &req); err != nil {
			slog.ErrorContext(ctx, "dropping undecodable request", "kind", kind, "message_id", msg.ID, "error", err)
			return nil
		}
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.Handle(context.WithoutCancel(ctx), req)
		}()
		return nil
	})
}

// Wait blocks until every running request has published its result.
func (w *Worker) Wait() { w.wg.Wait() }

// Handle runs one request and publishes its result.
func (w *Worker) Handle(ctx context.Context, req contracts.StepRequest) contracts.AdapterResult {
	kind := w.adapter.Kind()
	ctx, span := otel.Tracer("adapters").Start(ctx, string(kind)+"."+string(req.Action))
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.String("step.id", req.StepID),
		attribute.Int("step.attempt", req.Attempt),
	)

	callCtx, cancel := context.WithTimeout(ctx, w.requestTimeout)
	defer cancel()

	start := w.now()
	var out Outcome
	switch req.Action {
	case contracts.ActionExecute:
		out = w.adapter.Execute(callCtx, req)
	case contracts.ActionCompensate:
		out = w.adapter.Compensate(callCtx, req)
	default:
		out = Fail(Errorf(contracts.CodeInvalidRequest, "unknown action %q", req.Action))
	}
	if out.Err == nil && callCtx.Err() != nil {
		out = Fail(Wrap(contracts.CodeTimeout, "request deadline", callCtx.Err()))
	}
	elapsed := w.now().Sub(start)

	res := contracts.AdapterResult{
		StepID:    req.StepID,
		OrderID:   req.OrderID,
		Kind:      kind,
		Action:    req.Action,
		Attempt:   req.Attempt,
		LatencyMS: elapsed.Milliseconds(),
		Timestamp: w.now().UTC(),
	}
	if out.Failed() {
		res.ErrorCode = CodeOf(out.Err)
		res.ErrorMessage = out.Err.Error()
		span.SetStatus(codes.Error, res.ErrorMessage)
		slog.WarnContext(ctx, "adapter call failed",
			"kind", kind, "order_id", req.OrderID, "step_id", req.StepID,
			"action", req.Action, "attempt", req.Attempt, "code", res.ErrorCode, "error", out.Err)
	} else {
		res.Success = true
		if out.Data != nil {
			data, err := json.Marshal(out.Data)
			if err != nil {
				res.Success = false
				res.ErrorCode = contracts.CodeMalformedResponse
				res.ErrorMessage = err.Error()
			} else {
				res.Data = data
			}
		}
		slog.InfoContext(ctx, "adapter call succeeded",
			"kind", kind, "order_id", req.OrderID, "step_id", req.StepID,
			"action", req.Action, "attempt", req.Attempt, "latency_ms", res.LatencyMS)
	}

	code := "OK"
	if !res.Success {
		code = string(res.ErrorCode)
	}
	w.metrics.Observe(string(req.Action), code, elapsed)

	if err := bus.PublishJSON(ctx, w.bus, kind.ResultTopic(), req.OrderID, res); err != nil {
		slog.ErrorContext(ctx, "publish adapter result", "kind", kind, "order_id", req.OrderID, "step_id", req.StepID, "error", err)
	}
	return res
}
