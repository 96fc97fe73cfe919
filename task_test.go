package promise

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_CompletesWithReturnValue(t *testing.T) {
	l := newTestLoop(t)

	p := Run(l, func(y *Yielder) (Result, error) {
		return "final", nil
	})
	l.Drain()

	require.Equal(t, Fulfilled, p.State())
	assert.Equal(t, "final", p.Value())
}

func TestRun_YieldReceivesFulfillmentValue(t *testing.T) {
	l := newTestLoop(t)

	p := Run(l, func(y *Yielder) (Result, error) {
		a, err := y.Yield(Resolve(l, 10))
		if err != nil {
			return nil, err
		}
		b, err := y.Yield(a.(int) * 2)
		if err != nil {
			return nil, err
		}
		return b.(int) + 1, nil
	})
	l.Drain()

	require.Equal(t, Fulfilled, p.State())
	assert.Equal(t, 21, p.Value())
}

func TestRun_YieldPendingPromise(t *testing.T) {
	l := newTestLoop(t)

	inner, resolveInner, _ := l.NewPromise()
	p := Run(l, func(y *Yielder) (Result, error) {
		v, err := y.Yield(inner)
		if err != nil {
			return nil, err
		}
		return v, nil
	})

	l.Drain()
	assert.Equal(t, Pending, p.State())

	resolveInner("awaited")
	l.Drain()
	require.Equal(t, Fulfilled, p.State())
	assert.Equal(t, "awaited", p.Value())
}

func TestRun_InjectedRejectionFailsTask(t *testing.T) {
	l := newTestLoop(t)

	p := Run(l, func(y *Yielder) (Result, error) {
		_, err := y.Yield(Reject(l, "upstream broke"))
		if err != nil {
			return nil, err
		}
		return "unreachable", nil
	})
	p.Catch(func(Result) Result { return nil })
	l.Drain()

	require.Equal(t, Rejected, p.State())
	var wrapped *ErrorWrapper
	require.ErrorAs(t, reasonToError(p.Reason()), &wrapped)
	assert.Equal(t, "upstream broke", wrapped.Value)
}

func TestRun_InjectedRejectionCanBeCaught(t *testing.T) {
	l := newTestLoop(t)

	p := Run(l, func(y *Yielder) (Result, error) {
		_, err := y.Yield(Reject(l, errors.New("recoverable")))
		if err == nil {
			return nil, errors.New("expected an injected failure")
		}
		// Recover and continue the computation.
		v, err := y.Yield(Resolve(l, "fallback"))
		if err != nil {
			return nil, err
		}
		return v, nil
	})
	l.Drain()

	require.Equal(t, Fulfilled, p.State())
	assert.Equal(t, "fallback", p.Value())
}

func TestRun_PanicFailsTask(t *testing.T) {
	l := newTestLoop(t)

	p := Run(l, func(y *Yielder) (Result, error) {
		panic("generator exploded")
	})
	p.Catch(func(Result) Result { return nil })
	l.Drain()

	require.Equal(t, Rejected, p.State())
	var pe PanicError
	require.ErrorAs(t, reasonToError(p.Reason()), &pe)
	assert.Equal(t, "generator exploded", pe.Value)
}

func TestRun_ErrorReturnFailsTask(t *testing.T) {
	l := newTestLoop(t)

	want := errors.New("computation failed")
	p := Run(l, func(y *Yielder) (Result, error) {
		return nil, want
	})
	p.Catch(func(Result) Result { return nil })
	l.Drain()

	require.Equal(t, Rejected, p.State())
	require.ErrorIs(t, reasonToError(p.Reason()), want)
}

func TestStart_StateTransitions(t *testing.T) {
	l := newTestLoop(t)

	inner, resolveInner, _ := l.NewPromise()
	task := Start(l, NewGenerator(func(y *Yielder) (Result, error) {
		return y.Yield(inner)
	}))

	assert.Equal(t, TaskCreated, task.State())

	l.Drain()
	assert.Equal(t, TaskSuspended, task.State())

	resolveInner("done")
	l.Drain()
	assert.Equal(t, TaskCompleted, task.State())
	assert.Equal(t, "done", task.Promise().Value())
}

func TestStart_FailedState(t *testing.T) {
	l := newTestLoop(t)

	task := Start(l, NewGenerator(func(y *Yielder) (Result, error) {
		return nil, errors.New("doomed")
	}))
	task.Promise().Catch(func(Result) Result { return nil })
	l.Drain()

	assert.Equal(t, TaskFailed, task.State())
	assert.Equal(t, Rejected, task.Promise().State())
}

func TestStart_NilCoroutine(t *testing.T) {
	l := newTestLoop(t)

	task := Start(l, nil)
	task.Promise().Catch(func(Result) Result { return nil })
	l.Drain()

	assert.Equal(t, TaskFailed, task.State())
	require.ErrorIs(t, reasonToError(task.Promise().Reason()), ErrNilCoroutine)
}

func TestStart_OnClosedLoop(t *testing.T) {
	l := newTestLoop(t)
	_ = l.Close()

	task := Start(l, NewGenerator(func(y *Yielder) (Result, error) {
		return 1, nil
	}))

	assert.Equal(t, TaskFailed, task.State())
	require.ErrorIs(t, reasonToError(task.Promise().Reason()), ErrLoopTerminated)
}

// countdown is a hand-written state machine implementing the step protocol
// without a backing goroutine.
type countdown struct {
	remaining int
	sum       int
}

func (c *countdown) Step(input Result) StepResult {
	if v, ok := input.(int); ok {
		c.sum += v
	}
	if c.remaining == 0 {
		return StepResult{Done: true, Value: c.sum}
	}
	c.remaining--
	return StepResult{Value: c.remaining + 1}
}

func (c *countdown) ThrowInto(reason Result) StepResult {
	return StepResult{Done: true, Err: reasonToError(reason)}
}

func TestStart_CustomCoroutine(t *testing.T) {
	l := newTestLoop(t)

	task := Start(l, &countdown{remaining: 3})
	l.Drain()

	require.Equal(t, TaskCompleted, task.State())
	// Yields 3, 2, 1; each is echoed back as the next input.
	assert.Equal(t, 6, task.Promise().Value())
}

// faulty yields a rejected operation on its first step and records the
// reason injected back by the driver.
type faulty struct {
	loop   *Loop
	thrown Result
}

func (f *faulty) Step(input Result) StepResult {
	return StepResult{Value: Reject(f.loop, "injected")}
}

func (f *faulty) ThrowInto(reason Result) StepResult {
	f.thrown = reason
	return StepResult{Done: true, Value: "handled"}
}

func TestStart_DriverInjectsRejection(t *testing.T) {
	l := newTestLoop(t)

	c := &faulty{loop: l}
	task := Start(l, c)
	l.Drain()

	require.Equal(t, TaskCompleted, task.State())
	assert.Equal(t, "handled", task.Promise().Value())
	assert.Equal(t, "injected", c.thrown)
}

func TestGenerator_ThrowIntoBeforeFirstStep(t *testing.T) {
	g := NewGenerator(func(y *Yielder) (Result, error) {
		return "never runs", nil
	})

	sr := g.ThrowInto(errors.New("pre-start"))
	require.True(t, sr.Done)
	require.EqualError(t, sr.Err, "pre-start")
}

func TestTaskState_String(t *testing.T) {
	for _, tc := range []struct {
		state TaskState
		want  string
	}{
		{TaskCreated, "created"},
		{TaskRunning, "running"},
		{TaskSuspended, "suspended"},
		{TaskCompleted, "completed"},
		{TaskFailed, "failed"},
		{TaskState(99), "unknown"},
	} {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("String(%d) = %q, want %q", tc.state, got, tc.want)
		}
	}
}
