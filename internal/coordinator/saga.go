// Package coordinator drives each order through the fulfillment saga.
//
// The Orchestrator owns the order state machine. It dispatches one adapter
// request at a time per order, consumes results by stepId, retries failed or
// timed-out attempts with exponential backoff and, once a step gives up,
// fails the order and compensates the completed steps newest first.
package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcmexdev/swifttrack-sagas/internal/bus"
	"github.com/jcmexdev/swifttrack-sagas/internal/coordinator/sagalog"
	"github.com/jcmexdev/swifttrack-sagas/internal/coordinator/store"
	"github.com/jcmexdev/swifttrack-sagas/internal/order/domain"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/contracts"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/metrics"
)

// ConsumerGroup is the bus group the coordinator reads results with.
const ConsumerGroup = "coordinator"

type Orchestrator struct {
	cfg     Config
	repo    store.Repository
	logs    sagalog.Repository
	bus     bus.Bus
	metrics *metrics.Saga
	now     func() time.Time
	newID   func() string

	locks  *keyedMutex
	steps  *stepTable
	tracer trace.Tracer
}

type Option func(*Orchestrator)

// WithClock replaces time.Now, for tests that drive timeouts by hand.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithMetrics(m *metrics.Saga) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithIDs replaces the uuid generator used for order and step ids.
func WithIDs(next func() string) Option {
	return func(o *Orchestrator) { o.newID = next }
}

func New(repo store.Repository, logs sagalog.Repository, b bus.Bus, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:    cfg.withDefaults(),
		repo:   repo,
		logs:   logs,
		bus:    b,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		locks:  newKeyedMutex(),
		steps:  newStepTable(),
		tracer: otel.Tracer("github.com/jcmexdev/swifttrack-sagas/internal/coordinator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Subscribe registers the result handlers on the bus.
func (o *Orchestrator) Subscribe(ctx context.Context) error {
	for _, s := range saga {
		topic := s.Kind().ResultTopic()
		if err := o.bus.Subscribe(ctx, topic, ConsumerGroup, o.handleResult); err != nil {
			return fmt.Errorf("coordinator: subscribe %s: %w", topic, err)
		}
	}
	return nil
}

func (o *Orchestrator) handleResult(ctx context.Context, msg bus.Message) error {
	var res contracts.AdapterResult
	if err := bus.DecodeJSON(msg, &res); err != nil {
		slog.ErrorContext(ctx, "discarding undecodable adapter result", "message_id", msg.ID, "error", err)
		return nil
	}
	return o.OnAdapterResult(ctx, res)
}

// SubmitOrder validates in, stores the order and starts billing. Nothing is
// stored when validation fails. Once the order is stored its id is returned
// even if billing could not be started; a scheduled retry or Recover starts it.
func (o *Orchestrator) SubmitOrder(ctx context.Context, in domain.NewOrder) (string, error) {
	ctx, span := o.tracer.Start(ctx, "saga.submit")
	defer span.End()

	if in.Priority == "" {
		in.Priority = domain.PriorityNormal
	}
	if err := in.Validate(); err != nil {
		span.SetStatus(codes.Error, "validation failed")
		return "", err
	}

	ord := domain.New(o.newID(), in, o.now())
	span.SetAttributes(attribute.String("order.id", ord.ID))
	if err := o.repo.Create(ctx, ord); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("coordinator: create order: %w", err)
	}

	payload, _ := json.Marshal(ord)
	o.record(ctx, sagalog.NewEntry(ctx, ord.ID, sagalog.StatusStarted, sagalog.Step{}, string(payload), nil))
	o.publishChange(ctx, ord)
	slog.InfoContext(ctx, "order submitted", "order_id", ord.ID, "client_id", ord.ClientID, "priority", ord.Priority)

	if err := o.begin(ctx, ord.ID); err != nil {
		span.RecordError(err)
		slog.ErrorContext(ctx, "start saga failed, retry scheduled", "order_id", ord.ID, "error", err)
		o.scheduleBegin(ord)
	}
	return ord.ID, nil
}

// begin moves a submitted order into billing and dispatches its first step.
// Orders that already started are left alone.
func (o *Orchestrator) begin(ctx context.Context, id string) error {
	_, err := o.transition(ctx, id, func(cur *domain.Order, p *plan) error {
		if cur.Status != domain.StageSubmitted {
			return nil
		}
		if err := cur.Begin(o.now()); err != nil {
			return err
		}
		p.changed = true
		p.dispatch = append(p.dispatch, o.newStep(cur, billingStep{}, contracts.ActionExecute, 1))
		return nil
	})
	return err
}

// scheduleBegin parks the first billing attempt of an order that could not be
// started. redispatch runs begin for it once it is due.
func (o *Orchestrator) scheduleBegin(ord *domain.Order) {
	st := o.newStep(ord, billingStep{}, contracts.ActionExecute, 1)
	st.DispatchAt = o.now().Add(o.cfg.BackoffBase)
	o.steps.put(st)
}

// OnAdapterResult consumes one adapter reply. Results for unknown or already
// resolved steps are discarded. An error is returned only when the order
// store failed, so the bus redelivers the result.
func (o *Orchestrator) OnAdapterResult(ctx context.Context, res contracts.AdapterResult) error {
	ctx, span := o.tracer.Start(ctx, "saga.result", trace.WithAttributes(
		attribute.String("order.id", res.OrderID),
		attribute.String("step.id", res.StepID),
		attribute.String("step.kind", string(res.Kind)),
		attribute.Bool("step.success", res.Success),
	))
	defer span.End()

	st, ok := o.steps.claim(res.StepID)
	if !ok {
		o.metrics.Result(string(res.Kind), "stale")
		slog.InfoContext(ctx, "discarding stale adapter result",
			"order_id", res.OrderID, "step_id", res.StepID, "kind", res.Kind, "attempt", res.Attempt)
		return nil
	}
	o.metrics.SetInFlight(o.steps.len())
	if res.Success {
		o.metrics.Result(string(st.Kind), "success")
	} else {
		o.metrics.Result(string(st.Kind), "failure")
	}

	var err error
	switch {
	case st.Action == contracts.ActionCompensate:
		o.onCompensationResult(ctx, st, res.Success, res.ErrorCode, res.ErrorMessage)
	case st.State == StepAbandoned && !res.Success:
		slog.InfoContext(ctx, "discarding failure of abandoned step",
			"order_id", st.OrderID, "step_id", st.StepID, "kind", st.Kind, "code", res.ErrorCode)
	case res.Success:
		err = o.onSuccess(ctx, st, res)
	default:
		err = o.onFailure(ctx, st, res.ErrorCode, res.ErrorMessage)
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		span.RecordError(err)
		o.steps.restore(st)
		return err
	}
	return nil
}

func (o *Orchestrator) onSuccess(ctx context.Context, st SagaStep, res contracts.AdapterResult) error {
	step, ok := stepForKind(st.Kind)
	if !ok {
		return nil
	}
	var malformed error
	_, err := o.transition(ctx, st.OrderID, func(ord *domain.Order, p *plan) error {
		malformed = nil
		if ord.Status != step.Pending() {
			// A cancel, a failure or another attempt got there first.
			if unheld(ord, step, res.Data) {
				o.compensateLate(ord, step, res.Data, p)
			}
			return nil
		}
		detail, err := step.Apply(ord, res.Data)
		if err != nil {
			malformed = err
			return nil
		}
		if err := ord.Advance(step.Milestone(), detail, o.now()); err != nil {
			return err
		}
		p.changed = true
		p.entries = append(p.entries, sagalog.NewEntry(ctx, ord.ID, sagalog.StatusStepSucceeded, st.logStep(), "", nil))
		if next, ok := stepForStatus(ord.Status); ok {
			p.dispatch = append(p.dispatch, o.newStep(ord, next, contracts.ActionExecute, 1))
		} else if ord.Status == domain.StageReadyForPickup {
			p.entries = append(p.entries, sagalog.NewEntry(ctx, ord.ID, sagalog.StatusCompleted, sagalog.Step{Name: "automation"}, "", nil))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if malformed != nil {
		if st.State == StepAbandoned {
			// A newer attempt owns the retry schedule.
			slog.WarnContext(ctx, "discarding malformed result of abandoned step",
				"order_id", st.OrderID, "step_id", st.StepID, "error", malformed)
			return nil
		}
		return o.onFailure(ctx, st, contracts.CodeMalformedResponse, malformed.Error())
	}
	return nil
}

func (o *Orchestrator) onFailure(ctx context.Context, st SagaStep, code contracts.ErrorCode, msg string) error {
	status := sagalog.StatusStepFailed
	if code == contracts.CodeTimeout {
		status = sagalog.StatusStepTimedOut
	}
	o.record(ctx, sagalog.NewEntry(ctx, st.OrderID, status, st.logStep(), "", []string{string(code) + ": " + msg}))
	slog.WarnContext(ctx, "saga step failed",
		"order_id", st.OrderID, "step_id", st.StepID, "kind", st.Kind,
		"attempt", st.Attempt, "code", code, "error", msg)

	if o.cfg.retryable(code, st.Attempt) {
		o.schedule(ctx, st)
		return nil
	}

	step, ok := stepForKind(st.Kind)
	if !ok {
		return nil
	}
	exhausted := &SagaExhaustedError{OrderID: st.OrderID, Kind: st.Kind, Attempts: st.Attempt, Code: code, Message: msg}
	_, err := o.transition(ctx, st.OrderID, func(ord *domain.Order, p *plan) error {
		if ord.Status != step.Pending() {
			return nil
		}
		if err := ord.Fail(step.FailureReason(code), o.now()); err != nil {
			return err
		}
		p.changed = true
		p.entries = append(p.entries, sagalog.NewEntry(ctx, ord.ID, sagalog.StatusFailed, st.logStep(), "", []string{exhausted.Error()}))
		o.rollback(ctx, ord, p)
		return nil
	})
	if err != nil {
		return err
	}
	slog.ErrorContext(ctx, "order failed", "order_id", st.OrderID, "kind", st.Kind, "error", exhausted)
	return nil
}

// unheld reports whether a successful result names a resource the order
// does not keep: the order gave up, or it holds a different one.
func unheld(ord *domain.Order, step Step, data json.RawMessage) bool {
	if ord.Status == domain.StageCancelled || ord.Status == domain.StageFailed {
		return true
	}
	tmp := ord.Clone()
	if _, err := step.Apply(tmp, data); err != nil {
		return false
	}
	late, _ := json.Marshal(step.Compensate(tmp))
	held, _ := json.Marshal(step.Compensate(ord))
	return !bytes.Equal(late, held)
}

// compensateLate queues the undo of a resource an adapter acquired after the
// order stopped wanting it.
func (o *Orchestrator) compensateLate(ord *domain.Order, step Step, data json.RawMessage, p *plan) {
	tmp := ord.Clone()
	if _, err := step.Apply(tmp, data); err != nil {
		return
	}
	p.dispatch = append(p.dispatch, o.newStep(tmp, step, contracts.ActionCompensate, 1))
}

func (o *Orchestrator) onCompensationResult(ctx context.Context, st SagaStep, ok bool, code contracts.ErrorCode, msg string) {
	if ok {
		o.record(ctx, sagalog.NewEntry(ctx, st.OrderID, sagalog.StatusStepSucceeded, st.logStep(), "", nil))
		slog.InfoContext(ctx, "compensation done", "order_id", st.OrderID, "step_id", st.StepID, "kind", st.Kind)
		return
	}
	status := sagalog.StatusStepFailed
	if code == contracts.CodeTimeout {
		status = sagalog.StatusStepTimedOut
	}
	o.record(ctx, sagalog.NewEntry(ctx, st.OrderID, status, st.logStep(), "", []string{string(code) + ": " + msg}))
	if o.cfg.retryable(code, st.Attempt) {
		o.schedule(ctx, st)
		return
	}
	slog.ErrorContext(ctx, "compensation abandoned, manual action required",
		"order_id", st.OrderID, "step_id", st.StepID, "kind", st.Kind,
		"attempt", st.Attempt, "code", code, "error", msg)
}

// CancelOrder cancels an order that has not been picked up yet. In-flight
// steps are abandoned and completed steps are compensated.
func (o *Orchestrator) CancelOrder(ctx context.Context, id string) (*domain.Order, error) {
	return o.transition(ctx, id, func(ord *domain.Order, p *plan) error {
		if !ord.Cancellable() {
			return fmt.Errorf("%w: order %s is %s", ErrConflict, id, ord.Status)
		}
		if err := ord.Cancel("cancelled by client", o.now()); err != nil {
			return err
		}
		p.changed = true
		p.entries = append(p.entries, sagalog.NewEntry(ctx, ord.ID, sagalog.StatusCancelled, sagalog.Step{}, "", nil))
		p.after = append(p.after, func() {
			if n := o.steps.abandon(id); n > 0 {
				slog.InfoContext(ctx, "abandoned in-flight steps", "order_id", id, "count", n)
			}
		})
		o.rollback(ctx, ord, p)
		return nil
	})
}

// RecordDriverAction records pickup, transit or delivery. Each is accepted
// only from the stage before it and only from the assigned driver.
func (o *Orchestrator) RecordDriverAction(ctx context.Context, id string, action domain.DriverAction, driverID string) (*domain.Order, error) {
	m, ok := action.Milestone()
	if !ok {
		return nil, fmt.Errorf("%w: unknown driver action %q", ErrConflict, action)
	}
	return o.transition(ctx, id, func(ord *domain.Order, p *plan) error {
		if ord.AssignedDriverID != "" && driverID != ord.AssignedDriverID {
			return fmt.Errorf("%w: %s", ErrWrongDriver, driverID)
		}
		if err := ord.Advance(m, driverID, o.now()); err != nil {
			return fmt.Errorf("%w: %w", ErrConflict, err)
		}
		p.changed = true
		p.entries = append(p.entries, sagalog.NewEntry(ctx, ord.ID, sagalog.StatusStepSucceeded,
			sagalog.Step{Name: "driver/" + string(action)}, "", nil))
		if ord.Status == domain.StageDelivered {
			p.entries = append(p.entries, sagalog.NewEntry(ctx, ord.ID, sagalog.StatusCompleted, sagalog.Step{}, "", nil))
		}
		return nil
	})
}

// GetOrder returns a snapshot including history.
func (o *Orchestrator) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return o.repo.Get(ctx, id)
}

func (o *Orchestrator) ListOrders(ctx context.Context, clientID string) ([]*domain.Order, error) {
	return o.repo.ListByClient(ctx, clientID)
}

// Steps returns the saga log of one order.
func (o *Orchestrator) Steps(ctx context.Context, id string) ([]*sagalog.SagaLog, error) {
	if _, err := o.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	if o.logs == nil {
		return []*sagalog.SagaLog{}, nil
	}
	return o.logs.ListBySaga(ctx, id)
}

// InFlight returns the steps currently tracked for an order.
func (o *Orchestrator) InFlight(id string) []SagaStep {
	return o.steps.snapshot(id)
}

// Sweep times out overdue steps and dispatches retries that are due.
func (o *Orchestrator) Sweep(ctx context.Context) {
	expired, due := o.steps.sweep(o.now(), o.cfg.abandonGrace())
	for _, st := range expired {
		o.metrics.Result(string(st.Kind), "timeout")
		msg := fmt.Sprintf("no result within %s", o.cfg.StepTimeout)
		if st.Action == contracts.ActionCompensate {
			o.onCompensationResult(ctx, st, false, contracts.CodeTimeout, msg)
			continue
		}
		if err := o.onFailure(ctx, st, contracts.CodeTimeout, msg); err != nil {
			slog.ErrorContext(ctx, "timeout handling failed, retrying on next sweep",
				"order_id", st.OrderID, "step_id", st.StepID, "error", err)
			o.steps.restore(st)
		}
	}
	for i := range due {
		o.redispatch(ctx, &due[i])
	}
	o.metrics.SetInFlight(o.steps.len())
}

// Run sweeps on a ticker until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	t := time.NewTicker(o.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			o.Sweep(ctx)
		}
	}
}

// Recover starts submitted orders and dispatches a fresh attempt for every
// stored order waiting on an adapter without a live step. Call it once after
// Subscribe on startup.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	orders, err := o.repo.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("coordinator: list active orders: %w", err)
	}
	n := 0
	for _, ord := range orders {
		if o.steps.active(ord.ID) {
			continue
		}
		if ord.Status == domain.StageSubmitted {
			if err := o.begin(ctx, ord.ID); err != nil {
				slog.ErrorContext(ctx, "start saga failed, retry scheduled", "order_id", ord.ID, "error", err)
				o.scheduleBegin(ord)
			}
			n++
			continue
		}
		step, ok := stepForStatus(ord.Status)
		if !ok {
			continue
		}
		o.dispatch(ctx, o.newStep(ord, step, contracts.ActionExecute, 1))
		n++
	}
	slog.InfoContext(ctx, "recovered pending orders", "count", n)
	return n, nil
}

// plan collects the side effects of one transition. They run after the order
// lock is released.
type plan struct {
	changed  bool
	dispatch []*SagaStep
	entries  []*sagalog.SagaLog
	after    []func()
}

// transition loads the order under its lock, applies fn and stores the result
// with a version check, retrying on concurrency conflicts. Effects queued on
// the plan run once the lock is released.
func (o *Orchestrator) transition(ctx context.Context, id string, fn func(*domain.Order, *plan) error) (*domain.Order, error) {
	ctx, span := o.tracer.Start(ctx, "saga.transition", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	var (
		ord *domain.Order
		p   *plan
	)
	op := func() error {
		cur, err := o.repo.Get(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		p = &plan{}
		if err := fn(cur, p); err != nil {
			return backoff.Permanent(err)
		}
		if p.changed {
			if err := o.repo.Update(ctx, cur); err != nil {
				if errors.Is(err, store.ErrConcurrencyConflict) {
					slog.WarnContext(ctx, "order version conflict, reloading", "order_id", id, "error", err)
					return err
				}
				return backoff.Permanent(err)
			}
		}
		ord = cur
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 10 * time.Millisecond
	eb.MaxInterval = 200 * time.Millisecond

	unlock := o.locks.lock(id)
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(eb, 5), ctx))
	unlock()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("order.status", string(ord.Status)))
	for _, e := range p.entries {
		o.record(ctx, e)
	}
	if p.changed {
		o.publishChange(ctx, ord)
		slog.InfoContext(ctx, "order status changed",
			"order_id", ord.ID, "status", ord.Status, "version", ord.Version)
	}
	for _, f := range p.after {
		f()
	}
	for _, st := range p.dispatch {
		o.dispatch(ctx, st)
	}
	return ord.Clone(), nil
}

// rollback queues compensations for every completed milestone, newest first.
func (o *Orchestrator) rollback(ctx context.Context, ord *domain.Order, p *plan) {
	done := ord.Completed()
	for i := len(done) - 1; i >= 0; i-- {
		step, ok := stepForMilestone(done[i])
		if !ok {
			continue
		}
		p.entries = append(p.entries, sagalog.NewEntry(ctx, ord.ID, sagalog.StatusCompensating,
			sagalog.Step{Name: step.Name()}, "", nil))
		p.dispatch = append(p.dispatch, o.newStep(ord, step, contracts.ActionCompensate, 1))
	}
}

func (o *Orchestrator) newStep(ord *domain.Order, s Step, action contracts.Action, attempt int) *SagaStep {
	var payload any
	if action == contracts.ActionCompensate {
		payload = s.Compensate(ord)
	} else {
		payload = s.Execute(ord)
	}
	data, _ := json.Marshal(payload)
	return &SagaStep{
		StepID:  o.newID(),
		OrderID: ord.ID,
		Kind:    s.Kind(),
		Action:  action,
		Attempt: attempt,
		Payload: data,
		State:   StepScheduled,
	}
}

// schedule queues the next attempt of st after the backoff delay.
func (o *Orchestrator) schedule(ctx context.Context, st SagaStep) {
	delay := o.cfg.delay(st.Attempt)
	next := st
	next.StepID = o.newID()
	next.Attempt = st.Attempt + 1
	next.State = StepScheduled
	next.Deadline = time.Time{}
	next.DispatchAt = o.now().Add(delay)
	o.steps.put(&next)

	o.metrics.Retry(string(st.Kind))
	o.record(ctx, sagalog.NewEntry(ctx, st.OrderID, sagalog.StatusRetryScheduled, next.logStep(), "", nil))
	slog.InfoContext(ctx, "retry scheduled",
		"order_id", st.OrderID, "kind", st.Kind, "action", st.Action,
		"attempt", next.Attempt, "delay", delay.String())
}

// redispatch sends a due retry, unless its order has moved on.
func (o *Orchestrator) redispatch(ctx context.Context, st *SagaStep) {
	if st.Action == contracts.ActionExecute {
		ord, err := o.repo.Get(ctx, st.OrderID)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				slog.ErrorContext(ctx, "load order for retry failed", "order_id", st.OrderID, "error", err)
				o.steps.put(st)
			}
			return
		}
		if ord.Status == domain.StageSubmitted {
			if err := o.begin(ctx, ord.ID); err != nil {
				slog.ErrorContext(ctx, "start saga failed, retry scheduled", "order_id", ord.ID, "error", err)
				o.scheduleBegin(ord)
			}
			return
		}
		step, ok := stepForKind(st.Kind)
		if !ok || ord.Status != step.Pending() {
			slog.InfoContext(ctx, "dropping retry for order that moved on",
				"order_id", st.OrderID, "kind", st.Kind, "status", ord.Status)
			return
		}
	}
	o.dispatch(ctx, st)
}

// dispatch registers st as in flight and publishes its request. A failed
// publish leaves the step to time out and retry.
func (o *Orchestrator) dispatch(ctx context.Context, st *SagaStep) {
	now := o.now()
	st.State = StepDispatched
	st.Deadline = now.Add(o.cfg.StepTimeout)
	o.steps.put(st)
	o.metrics.SetInFlight(o.steps.len())
	o.metrics.Dispatch(string(st.Kind), string(st.Action))

	req := contracts.StepRequest{
		StepID:    st.StepID,
		OrderID:   st.OrderID,
		Kind:      st.Kind,
		Action:    st.Action,
		Attempt:   st.Attempt,
		Deadline:  st.Deadline,
		Payload:   st.Payload,
		Timestamp: now,
	}
	if err := bus.PublishJSON(ctx, o.bus, st.Kind.RequestTopic(), st.OrderID, req); err != nil {
		slog.ErrorContext(ctx, "publish step request failed",
			"order_id", st.OrderID, "step_id", st.StepID, "kind", st.Kind, "error", err)
	}
	o.record(ctx, sagalog.NewEntry(ctx, st.OrderID, sagalog.StatusStepDispatched, st.logStep(), "", nil))
	slog.InfoContext(ctx, "step dispatched",
		"order_id", st.OrderID, "step_id", st.StepID, "kind", st.Kind,
		"action", st.Action, "attempt", st.Attempt)
}

func (o *Orchestrator) publishChange(ctx context.Context, ord *domain.Order) {
	o.metrics.Transition(string(ord.Status))
	change := contracts.StateChange{
		OrderID:   ord.ID,
		Status:    ord.Status,
		Reason:    ord.FailureReason,
		Version:   ord.Version,
		Timestamp: ord.UpdatedAt,
	}
	if err := bus.PublishJSON(ctx, o.bus, contracts.TopicStateChange, ord.ID, change); err != nil {
		slog.ErrorContext(ctx, "publish state change failed", "order_id", ord.ID, "status", ord.Status, "error", err)
	}
}

func (o *Orchestrator) record(ctx context.Context, e *sagalog.SagaLog) {
	if o.logs == nil {
		return
	}
	if err := o.logs.Save(ctx, e); err != nil {
		slog.WarnContext(ctx, "saga log write failed", "order_id", e.SagaID, "status", e.Status, "error", err)
	}
}

func (s SagaStep) logStep() sagalog.Step {
	return sagalog.Step{ID: s.StepID, Name: s.name(), Attempt: s.Attempt}
}
