package coordinator

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/contracts"
)

// StepState is the lifecycle of one attempt.
type StepState string

const (
	StepScheduled  StepState = "Scheduled"
	StepDispatched StepState = "Dispatched"
	// StepAbandoned marks a forward attempt the order stopped waiting for,
	// because it was cancelled or the attempt timed out. It is kept until its
	// Deadline so a late success can still be applied or released.
	StepAbandoned StepState = "Abandoned"
	StepSucceeded StepState = "Succeeded"
	StepFailed    StepState = "Failed"
	StepTimedOut  StepState = "TimedOut"
)

// SagaStep is one attempt of one adapter request. Each attempt has its own
// StepID so late replies to an earlier attempt never match a newer one.
type SagaStep struct {
	StepID     string
	OrderID    string
	Kind       contracts.AdapterKind
	Action     contracts.Action
	Attempt    int
	Deadline   time.Time
	DispatchAt time.Time
	Payload    json.RawMessage
	State      StepState
}

func (s *SagaStep) name() string {
	return string(s.Kind) + "/" + string(s.Action)
}

// stepTable is the coordinator's in-flight table, keyed by StepID. It is the
// only owner of step state; it lives in memory and is rebuilt by Recover.
type stepTable struct {
	mu    sync.Mutex
	steps map[string]*SagaStep
}

func newStepTable() *stepTable {
	return &stepTable{steps: make(map[string]*SagaStep)}
}

func (t *stepTable) put(st *SagaStep) {
	t.mu.Lock()
	t.steps[st.StepID] = st
	t.mu.Unlock()
}

// claim removes and returns the step a result refers to. Only dispatched or
// abandoned steps can be claimed, and only once.
func (t *stepTable) claim(stepID string) (SagaStep, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.steps[stepID]
	if !ok || (st.State != StepDispatched && st.State != StepAbandoned) {
		return SagaStep{}, false
	}
	delete(t.steps, stepID)
	return *st, true
}

// restore puts back a step whose result or timeout could not be processed,
// replacing its tombstone if it has one.
func (t *stepTable) restore(st SagaStep) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.steps[st.StepID]; !ok || cur.State == StepAbandoned {
		t.steps[st.StepID] = &st
	}
}

// abandon drops the order's scheduled forward steps and marks dispatched ones
// abandoned. Compensation steps are kept.
func (t *stepTable) abandon(orderID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, st := range t.steps {
		if st.OrderID != orderID || st.Action != contracts.ActionExecute {
			continue
		}
		switch st.State {
		case StepScheduled:
			delete(t.steps, id)
			n++
		case StepDispatched:
			st.State = StepAbandoned
			n++
		}
	}
	return n
}

// active reports whether the order has a live forward step.
func (t *stepTable) active(orderID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, st := range t.steps {
		if st.OrderID == orderID && st.Action == contracts.ActionExecute &&
			(st.State == StepScheduled || st.State == StepDispatched) {
			return true
		}
	}
	return false
}

// sweep returns dispatched steps past their deadline and removes scheduled
// steps that are due. An expired forward attempt stays behind as an abandoned
// tombstone for grace; abandoned steps past their deadline are dropped.
func (t *stepTable) sweep(now time.Time, grace time.Duration) (expired, due []SagaStep) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, st := range t.steps {
		switch st.State {
		case StepDispatched:
			if !now.After(st.Deadline) {
				continue
			}
			expired = append(expired, *st)
			if st.Action == contracts.ActionExecute {
				st.State = StepAbandoned
				st.Deadline = now.Add(grace)
			} else {
				delete(t.steps, id)
			}
		case StepAbandoned:
			if now.After(st.Deadline) {
				delete(t.steps, id)
			}
		case StepScheduled:
			if !now.Before(st.DispatchAt) {
				due = append(due, *st)
				delete(t.steps, id)
			}
		}
	}
	return expired, due
}

// len counts scheduled and dispatched steps.
func (t *stepTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, st := range t.steps {
		if st.State != StepAbandoned {
			n++
		}
	}
	return n
}

// snapshot returns copies of the order's scheduled and dispatched steps.
func (t *stepTable) snapshot(orderID string) []SagaStep {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []SagaStep
	for _, st := range t.steps {
		if st.OrderID == orderID && st.State != StepAbandoned {
			out = append(out, *st)
		}
	}
	return out
}

// keyedMutex serializes work per order id. Entries are reference counted and
// removed when the last holder unlocks.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
