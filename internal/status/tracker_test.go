package status

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationFinishesOnce(t *testing.T) {
	var mu sync.Mutex
	var seen []*Operation
	tr := NewTracker(func(op *Operation) {
		mu.Lock()
		seen = append(seen, op)
		mu.Unlock()
	})

	op := tr.Begin(KindPrinting)
	assert.False(t, op.IsDone())
	assert.False(t, tr.IsDone(KindPrinting))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			op.Finish(nil)
		}()
	}
	wg.Wait()

	assert.True(t, op.IsDone())
	assert.Len(t, seen, 1)
	assert.False(t, op.Finish(errors.New("late")))
	assert.NoError(t, op.Err())
}

func TestIsDoneIsMonotonic(t *testing.T) {
	tr := NewTracker(nil)

	assert.False(t, tr.IsDone(KindFinding))

	op := tr.Begin(KindFinding)
	assert.False(t, tr.IsDone(KindFinding))
	op.Finish(nil)

	for i := 0; i < 5; i++ {
		assert.True(t, tr.IsDone(KindFinding))
	}

	// a new invocation starts a fresh pending phase
	next := tr.Begin(KindFinding)
	assert.False(t, tr.IsDone(KindFinding))
	next.Finish(nil)
	assert.True(t, tr.IsDone(KindFinding))
}

func TestIsDoneWaitsForAllPending(t *testing.T) {
	tr := NewTracker(nil)

	a := tr.Begin(KindAppending)
	b := tr.Begin(KindAppending)

	a.Finish(nil)
	assert.False(t, tr.IsDone(KindAppending))
	assert.True(t, tr.Pending(KindAppending))

	b.Finish(nil)
	assert.True(t, tr.IsDone(KindAppending))
	assert.False(t, tr.Pending(KindAppending))
}

func TestOnDoneFiresOnce(t *testing.T) {
	tr := NewTracker(nil)

	calls := 0
	tr.OnDone(KindPrinting, func(op *Operation) { calls++ })

	first := tr.Begin(KindPrinting)
	first.Finish(nil)
	second := tr.Begin(KindPrinting)
	second.Finish(nil)

	assert.Equal(t, 1, calls)
}

func TestOnDoneOnlyForItsKind(t *testing.T) {
	tr := NewTracker(nil)

	var got *Operation
	tr.OnDone(KindAppending, func(op *Operation) { got = op })

	tr.Begin(KindFinding).Finish(nil)
	assert.Nil(t, got)

	op := tr.Begin(KindAppending)
	op.Finish(nil)
	assert.Same(t, op, got)
}

func TestExceptionSlotKeepsFirstUntilCleared(t *testing.T) {
	tr := NewTracker(nil)
	errFirst := errors.New("first")
	errSecond := errors.New("second")

	tr.Failed(KindPrinting, errFirst)
	tr.Failed(KindPrinting, errSecond)

	exc := tr.Exception(KindPrinting)
	require.NotNil(t, exc)
	assert.ErrorIs(t, exc.Err, errFirst)

	tr.ClearException(KindPrinting)
	assert.Nil(t, tr.Exception(KindPrinting))

	tr.Failed(KindPrinting, errSecond)
	exc = tr.Exception(KindPrinting)
	require.NotNil(t, exc)
	assert.ErrorIs(t, exc.Err, errSecond)
}

func TestSuccessDoesNotClearOtherKinds(t *testing.T) {
	tr := NewTracker(nil)
	errFind := errors.New("no printer")

	tr.Failed(KindFinding, errFind)
	tr.Begin(KindPrinting).Finish(nil)
	tr.Begin(KindFinding).Finish(nil)

	exc := tr.Exception(KindFinding)
	require.NotNil(t, exc)
	assert.ErrorIs(t, exc.Err, errFind)
}

func TestLastException(t *testing.T) {
	tr := NewTracker(nil)
	assert.Nil(t, tr.LastException())

	tr.Failed(KindFinding, errors.New("a"))
	tr.Record(KindSerial, errors.New("b"))

	last := tr.LastException()
	require.NotNil(t, last)
	assert.Equal(t, KindSerial, last.Kind)
	assert.Len(t, tr.Exceptions(), 2)

	tr.ClearAll()
	assert.Nil(t, tr.LastException())
}

func TestWaitHonoursContext(t *testing.T) {
	tr := NewTracker(nil)
	op := tr.Begin(KindFinding)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, op.Wait(ctx), context.DeadlineExceeded)

	go op.Resolve("value", nil)
	require.NoError(t, op.Wait(context.Background()))
	assert.Equal(t, "value", op.Value())
}
