package transfer

import (
	"container/list"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/dittoshuffle/pkg/shuffle"
)

// Task is one upload or download request. Its state is advanced only by the
// lane that owns it.
type Task struct {
	ID          string
	Kind        Kind
	Block       shuffle.BlockID
	SubmittedAt time.Time

	state      atomic.Int32
	startedAt  time.Time
	finishedAt time.Time

	// run performs the transfer. It must honour ctx.
	run func(ctx context.Context, t *Task) (any, error)

	// resolve delivers the outcome to the Future.
	resolve func(val any, err error)

	// ctx carries request-scoped values and is cancelled by Cancel or Close.
	ctx    context.Context
	cancel context.CancelCauseFunc

	// elem is the task's position in the lane queue while Queued. Guarded by
	// the lane lock, as is terminal.
	elem     *list.Element
	terminal bool
	lane     *lane

	// fence serialises sink writes against seal. Once sealed, no write
	// from the transfer reaches a sink.
	fence  sync.Mutex
	sealed bool
}

func newTask(ctx context.Context, kind Kind, id shuffle.BlockID, run func(context.Context, *Task) (any, error)) *Task {
	tctx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	t := &Task{
		ID:     uuid.NewString(),
		Kind:   kind,
		Block:  id,
		run:    run,
		ctx:    tctx,
		cancel: cancel,
	}
	t.state.Store(int32(StateQueued))
	return t
}

// State returns the current state.
func (t *Task) State() State {
	return State(t.state.Load())
}

func (t *Task) setState(s State) {
	t.state.Store(int32(s))
}

// seal stops all later sink writes and waits for one in progress.
func (t *Task) seal() {
	t.fence.Lock()
	t.sealed = true
	t.fence.Unlock()
}

// sink wraps w so that writes fail once ctx is done or the task is sealed.
// A transfer that ignores ctx can then never touch w after the Future
// resolves.
func (t *Task) sink(ctx context.Context, w io.Writer) io.Writer {
	return &sinkWriter{t: t, ctx: ctx, w: w}
}

type sinkWriter struct {
	t   *Task
	ctx context.Context
	w   io.Writer
}

func (s *sinkWriter) Write(p []byte) (int, error) {
	s.t.fence.Lock()
	defer s.t.fence.Unlock()
	if s.t.sealed || s.ctx.Err() != nil {
		if cause := context.Cause(s.ctx); cause != nil {
			return 0, cause
		}
		return 0, shuffle.ErrCancelled
	}
	return s.w.Write(p)
}

// elapsed is the running time, or zero for a task that never started.
func (t *Task) elapsed(now time.Time) time.Duration {
	if t.startedAt.IsZero() {
		return 0
	}
	return now.Sub(t.startedAt)
}

// Future is the pending result of a Task.
type Future[T any] struct {
	task *Task
	done chan struct{}
	val  T
	err  error
}

func newFuture[T any](t *Task) *Future[T] {
	f := &Future[T]{task: t, done: make(chan struct{})}
	t.resolve = func(val any, err error) {
		if v, ok := val.(T); ok {
			f.val = v
		}
		f.err = err
		close(f.done)
	}
	return f
}

// Task returns the underlying task.
func (f *Future[T]) Task() *Task {
	return f.task
}

// Done is closed when the task reaches a terminal state.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task is terminal or ctx is done. Giving up on ctx
// does not cancel the task.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the outcome of a terminal task. It must only be called
// after Done is closed.
func (f *Future[T]) Result() (T, error) {
	<-f.done
	return f.val, f.err
}

// Cancel cancels the task. A queued task is removed and fails with
// shuffle.ErrCancelled without starting; a running task has its context
// cancelled. Cancel returns false if the task was already terminal.
func (f *Future[T]) Cancel() bool {
	return f.task.lane.cancel(f.task, shuffle.ErrCancelled)
}
