package status

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Operation is the handle of one asynchronous call. It finishes exactly once.
type Operation struct {
	ID      string
	Kind    Kind
	Action  string
	Subject string

	tracker *Tracker
	done    chan struct{}
	once    sync.Once
	err     error
	value   any
}

func newOperation(t *Tracker, kind Kind, action, subject string) *Operation {
	return &Operation{
		ID:      uuid.New().String(),
		Kind:    kind,
		Action:  action,
		Subject: subject,
		tracker: t,
		done:    make(chan struct{}),
	}
}

// Done is closed when the operation finishes
func (o *Operation) Done() <-chan struct{} {
	return o.done
}

// IsDone reports whether the operation has finished
func (o *Operation) IsDone() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}

// Err returns the failure of a finished operation. It is nil while pending.
func (o *Operation) Err() error {
	if !o.IsDone() {
		return nil
	}
	return o.err
}

// Value returns the result attached by Resolve
func (o *Operation) Value() any {
	if !o.IsDone() {
		return nil
	}
	return o.value
}

// Wait blocks until the operation finishes or ctx is done
func (o *Operation) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return o.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finish completes the operation. Only the first call has an effect; it
// reports whether this call finished the operation.
func (o *Operation) Finish(err error) bool {
	return o.Resolve(nil, err)
}

// Resolve completes the operation with a result value
func (o *Operation) Resolve(value any, err error) bool {
	finished := false
	o.once.Do(func() {
		o.err = err
		o.value = value
		close(o.done)
		finished = true
	})
	if finished && o.tracker != nil {
		o.tracker.finish(o)
	}
	return finished
}
