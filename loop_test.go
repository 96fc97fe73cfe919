package promise

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
)

func newTestLoop(t *testing.T, opts ...LoopOption) *Loop {
	t.Helper()
	l, err := NewLoop(opts...)
	if err != nil {
		t.Fatalf("NewLoop failed: %v", err)
	}
	return l
}

func TestLoop_FIFOOrder(t *testing.T) {
	l := newTestLoop(t)

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		if err := l.Submit(func() { got = append(got, i) }); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	if n := l.Drain(); n != 5 {
		t.Fatalf("expected 5 jobs executed, got %d", n)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("jobs ran out of order: %v", got)
		}
	}
}

func TestLoop_TickRunsExactlyOneJob(t *testing.T) {
	l := newTestLoop(t)

	var ran int
	_ = l.Submit(func() { ran++ })
	_ = l.Submit(func() { ran++ })

	if !l.Tick() {
		t.Fatal("Tick returned false with queued jobs")
	}
	if ran != 1 {
		t.Fatalf("expected 1 job after one tick, got %d", ran)
	}
	if !l.Tick() {
		t.Fatal("Tick returned false with one job remaining")
	}
	if l.Tick() {
		t.Fatal("Tick returned true on an empty queue")
	}
	if ran != 2 {
		t.Fatalf("expected 2 jobs total, got %d", ran)
	}
}

func TestLoop_DrainIncludesNestedSubmissions(t *testing.T) {
	l := newTestLoop(t)

	var got []string
	_ = l.Submit(func() {
		got = append(got, "outer")
		_ = l.Submit(func() { got = append(got, "inner") })
	})

	if n := l.Drain(); n != 2 {
		t.Fatalf("expected 2 jobs executed, got %d", n)
	}
	if len(got) != 2 || got[0] != "outer" || got[1] != "inner" {
		t.Fatalf("unexpected execution order: %v", got)
	}
}

func TestLoop_SubmitNilIsNoop(t *testing.T) {
	l := newTestLoop(t)
	if err := l.Submit(nil); err != nil {
		t.Fatalf("Submit(nil) returned error: %v", err)
	}
	if l.Len() != 0 {
		t.Fatal("nil job was enqueued")
	}
}

func TestLoop_SubmitAfterClose(t *testing.T) {
	l := newTestLoop(t)
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := l.Submit(func() {}); !errors.Is(err, ErrLoopTerminated) {
		t.Fatalf("expected ErrLoopTerminated, got %v", err)
	}
	if s := l.State(); s != StateTerminated {
		t.Fatalf("expected terminated state, got %v", s)
	}
}

func TestLoop_CloseDiscardsQueuedJobs(t *testing.T) {
	l := newTestLoop(t)
	var ran bool
	_ = l.Submit(func() { ran = true })
	_ = l.Close()
	if n := l.Drain(); n != 0 {
		t.Fatalf("expected no jobs after Close, drained %d", n)
	}
	if ran {
		t.Fatal("job ran after Close")
	}
}

func TestLoop_RunDrainsAndStopsOnCancel(t *testing.T) {
	l := newTestLoop(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	ran := make(chan struct{})
	_ = l.Submit(func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job to run")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Run to return")
	}
}

func TestLoop_RunStopsOnClose(t *testing.T) {
	l := newTestLoop(t)

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	// Give Run a moment to reach its sleep, then terminate.
	time.Sleep(10 * time.Millisecond)
	_ = l.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil error after Close, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Run to return")
	}
}

func TestLoop_RunReentrantFails(t *testing.T) {
	l := newTestLoop(t)

	var got error
	_ = l.Submit(func() {
		got = l.Run(context.Background())
	})
	l.Drain()

	if !errors.Is(got, ErrReentrantRun) {
		t.Fatalf("expected ErrReentrantRun, got %v", got)
	}
}

func TestLoop_SecondConcurrentRunFails(t *testing.T) {
	l := newTestLoop(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for l.State() != StateRunning {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for loop to start running")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if err := l.Run(ctx); !errors.Is(err, ErrLoopAlreadyRunning) {
		t.Fatalf("expected ErrLoopAlreadyRunning, got %v", err)
	}

	cancel()
	<-done
}

func TestLoop_JobPanicIsRecovered(t *testing.T) {
	l := newTestLoop(t)

	var after bool
	_ = l.Submit(func() { panic("boom") })
	_ = l.Submit(func() { after = true })

	l.Drain()

	if !after {
		t.Fatal("job after the panicking one did not run")
	}
}

func TestLoop_Metrics(t *testing.T) {
	l := newTestLoop(t, WithMetrics(true))

	_ = l.Submit(func() {})
	_ = l.Submit(func() {})
	l.Drain()

	snap, ok := l.Metrics()
	if !ok {
		t.Fatal("Metrics reported disabled")
	}
	if snap.JobsSubmitted != 2 || snap.JobsExecuted != 2 {
		t.Fatalf("unexpected job counters: %+v", snap)
	}
	if snap.MaxQueueDepth < 1 {
		t.Fatalf("expected queue depth high-water mark, got %+v", snap)
	}

	l2 := newTestLoop(t)
	if _, ok := l2.Metrics(); ok {
		t.Fatal("Metrics reported enabled without WithMetrics")
	}
}

func TestLoop_UnhandledRejectionReported(t *testing.T) {
	var reported []Result
	l := newTestLoop(t, WithUnhandledRejection(func(reason Result) {
		reported = append(reported, reason)
	}))

	Reject(l, "nobody listens")
	l.Drain()

	if len(reported) != 1 || reported[0] != "nobody listens" {
		t.Fatalf("unexpected reports: %v", reported)
	}

	// Reported at most once per rejection.
	l.Drain()
	if len(reported) != 1 {
		t.Fatalf("rejection reported twice: %v", reported)
	}
}

func TestLoop_HandledRejectionNotReported(t *testing.T) {
	var reported []Result
	l := newTestLoop(t, WithUnhandledRejection(func(reason Result) {
		reported = append(reported, reason)
	}))

	p := Reject(l, "caught")
	p.Catch(func(r Result) Result { return nil })
	l.Drain()

	if len(reported) != 0 {
		t.Fatalf("handled rejection was reported: %v", reported)
	}
}

func TestLoop_LateHandlerAfterReportStillRuns(t *testing.T) {
	var reported int
	l := newTestLoop(t, WithUnhandledRejection(func(Result) { reported++ }))

	p := Reject(l, "late")
	l.Drain()
	if reported != 1 {
		t.Fatalf("expected 1 report, got %d", reported)
	}

	// Rejections stay inert data; a late handler still observes the reason.
	var got Result
	p.Catch(func(r Result) Result {
		got = r
		return nil
	})
	l.Drain()
	if got != "late" {
		t.Fatalf("late handler got %v", got)
	}
}

// testLogEvent is the minimal logiface.Event implementation required to
// construct a working logger; logiface mandates an event factory.
type testLogEvent struct {
	logiface.UnimplementedEvent
	lvl logiface.Level
}

func (e *testLogEvent) Level() logiface.Level {
	if e == nil {
		return logiface.LevelDisabled
	}
	return e.lvl
}

func (e *testLogEvent) AddField(key string, val any) {}

func TestLoop_LoggerReceivesUnhandledRejectionEvent(t *testing.T) {
	var mu sync.Mutex
	var events int
	logger := logiface.New[logiface.Event](
		logiface.WithEventFactory[logiface.Event](logiface.NewEventFactoryFunc(func(level logiface.Level) logiface.Event {
			return &testLogEvent{lvl: level}
		})),
		logiface.WithWriter[logiface.Event](logiface.NewWriterFunc(func(event logiface.Event) error {
			mu.Lock()
			events++
			mu.Unlock()
			return nil
		})),
	)

	l := newTestLoop(t, WithLogger(logger))
	Reject(l, errors.New("logged"))
	l.Drain()

	mu.Lock()
	defer mu.Unlock()
	if events == 0 {
		t.Fatal("expected at least one log event")
	}
}

func TestLoop_NilLoggerIsSafe(t *testing.T) {
	l := newTestLoop(t, WithLogger(nil))
	Reject(l, "quiet")
	l.Drain()
}
