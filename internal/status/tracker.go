// Package status tracks asynchronous operations: a completion predicate per
// operation kind, one-shot completion handlers and a per-kind exception slot.
package status

import (
	"sync"
	"time"
)

// Kind identifies a class of asynchronous operation
type Kind string

const (
	KindFinding        Kind = "finding"
	KindAppending      Kind = "appending"
	KindPrinting       Kind = "printing"
	KindSerial         Kind = "serial"
	KindFindingPorts   Kind = "finding-ports"
	KindFindingNetwork Kind = "finding-network"
)

// Kinds lists every tracked kind in a stable order
var Kinds = []Kind{
	KindFinding,
	KindAppending,
	KindPrinting,
	KindSerial,
	KindFindingPorts,
	KindFindingNetwork,
}

// Exception is a recorded failure of an operation kind
type Exception struct {
	Kind       Kind      `json:"kind"`
	Err        error     `json:"-"`
	Message    string    `json:"message"`
	RecordedAt time.Time `json:"recorded_at"`

	seq uint64
}

// Listener receives every finished operation exactly once
type Listener func(op *Operation)

// Tracker holds the state of every operation kind for one session
type Tracker struct {
	mu       sync.Mutex
	kinds    map[Kind]*kindState
	seq      uint64
	listener Listener
}

type kindState struct {
	pending   int
	finished  bool
	handlers  []func(*Operation)
	exception *Exception
}

// NewTracker creates a tracker. listener may be nil.
func NewTracker(listener Listener) *Tracker {
	return &Tracker{
		kinds:    make(map[Kind]*kindState),
		listener: listener,
	}
}

func (t *Tracker) state(kind Kind) *kindState {
	st, ok := t.kinds[kind]
	if !ok {
		st = &kindState{}
		t.kinds[kind] = st
	}
	return st
}

// Begin starts a new operation of the given kind
func (t *Tracker) Begin(kind Kind) *Operation {
	return t.BeginFor(kind, "", "")
}

// BeginFor starts an operation carrying an action and a subject, such as
// "open" on a named port.
func (t *Tracker) BeginFor(kind Kind, action, subject string) *Operation {
	t.mu.Lock()
	st := t.state(kind)
	st.pending++
	st.finished = false
	t.mu.Unlock()

	return newOperation(t, kind, action, subject)
}

// Failed starts an operation and fails it immediately. It is used for calls
// rejected before any work was scheduled.
func (t *Tracker) Failed(kind Kind, err error) *Operation {
	op := t.Begin(kind)
	op.Finish(err)
	return op
}

// FailedFor is Failed with an action and subject
func (t *Tracker) FailedFor(kind Kind, action, subject string, err error) *Operation {
	op := t.BeginFor(kind, action, subject)
	op.Finish(err)
	return op
}

func (t *Tracker) finish(op *Operation) {
	t.mu.Lock()
	st := t.state(op.Kind)
	if st.pending > 0 {
		st.pending--
	}
	if st.pending == 0 {
		st.finished = true
	}
	if op.err != nil {
		t.record(st, op.Kind, op.err)
	}
	handlers := st.handlers
	st.handlers = nil
	listener := t.listener
	t.mu.Unlock()

	for _, fn := range handlers {
		fn(op)
	}
	if listener != nil {
		listener(op)
	}
}

func (t *Tracker) record(st *kindState, kind Kind, err error) {
	if st.exception != nil {
		return
	}
	t.seq++
	st.exception = &Exception{
		Kind:       kind,
		Err:        err,
		Message:    err.Error(),
		RecordedAt: time.Now(),
		seq:        t.seq,
	}
}

// Record stores an exception that did not come from a tracked operation,
// such as a serial read failure.
func (t *Tracker) Record(kind Kind, err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record(t.state(kind), kind, err)
}

// IsDone reports whether the most recent operations of kind have all
// finished. It stays true until the next Begin of the same kind.
func (t *Tracker) IsDone(kind Kind) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.kinds[kind]
	if !ok {
		return false
	}
	return st.finished && st.pending == 0
}

// Pending reports whether any operation of kind is still running
func (t *Tracker) Pending(kind Kind) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.kinds[kind]
	return ok && st.pending > 0
}

// OnDone registers fn to run once, when the current (or next) operation of
// kind finishes.
func (t *Tracker) OnDone(kind Kind, fn func(*Operation)) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	st := t.state(kind)
	st.handlers = append(st.handlers, fn)
	t.mu.Unlock()
}

// Exception returns the outstanding exception of kind, or nil
func (t *Tracker) Exception(kind Kind) *Exception {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.kinds[kind]
	if !ok || st.exception == nil {
		return nil
	}
	exc := *st.exception
	return &exc
}

// LastException returns the most recently recorded outstanding exception
// across all kinds, or nil.
func (t *Tracker) LastException() *Exception {
	t.mu.Lock()
	defer t.mu.Unlock()

	var last *Exception
	for _, st := range t.kinds {
		if st.exception != nil && (last == nil || st.exception.seq > last.seq) {
			last = st.exception
		}
	}
	if last == nil {
		return nil
	}
	exc := *last
	return &exc
}

// Exceptions returns every outstanding exception in Kinds order
func (t *Tracker) Exceptions() []Exception {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Exception
	for _, kind := range Kinds {
		if st, ok := t.kinds[kind]; ok && st.exception != nil {
			out = append(out, *st.exception)
		}
	}
	return out
}

// ClearException empties the exception slot of kind
func (t *Tracker) ClearException(kind Kind) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if st, ok := t.kinds[kind]; ok {
		st.exception = nil
	}
}

// ClearAll empties every exception slot
func (t *Tracker) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, st := range t.kinds {
		st.exception = nil
	}
}
