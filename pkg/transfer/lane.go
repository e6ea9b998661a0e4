package transfer

import (
	"container/list"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/marmos91/dittoshuffle/internal/logger"
	"github.com/marmos91/dittoshuffle/pkg/shuffle"
)

// laneEvents receives the transitions of a lane's tasks. requested, failed,
// completed and released are called with the lane lock held so that the
// reported count is exact; implementations must not call back into the lane.
type laneEvents interface {
	requested(t *Task, numRunningOrPending int)
	submitted(t *Task, queueLatency time.Duration)
	started(t *Task)
	completed(t *Task, val any, numRunningOrPending int)
	failed(t *Task, err error, numRunningOrPending int)

	// released is called once per task when it becomes terminal, before its
	// Future resolves.
	released(t *Task)
}

type outcome struct {
	val any
	err error
}

// lane is the admission queue and worker pool of one transfer direction.
//
// Tasks are queued in FIFO order and picked up by a fixed number of worker
// goroutines, so at most that many tasks are Submitted or Running at once.
// The queue itself is bounded by slots when a depth is configured.
type lane struct {
	kind    Kind
	workers int
	timeout time.Duration
	policy  QueueFullPolicy
	events  laneEvents
	now     func() time.Time

	// slots holds one token per queued task. Nil when the queue is unbounded.
	slots   chan struct{}
	closing chan struct{}

	mu          sync.Mutex
	cond        *sync.Cond
	queue       *list.List
	active      map[*Task]struct{}
	outstanding int
	closed      bool

	wg sync.WaitGroup
}

func newLane(kind Kind, workers, depth int, policy QueueFullPolicy, timeout time.Duration, events laneEvents) *lane {
	l := &lane{
		kind:    kind,
		workers: workers,
		timeout: timeout,
		policy:  policy,
		events:  events,
		now:     time.Now,
		closing: make(chan struct{}),
		queue:   list.New(),
		active:  make(map[*Task]struct{}),
	}
	if depth > 0 {
		l.slots = make(chan struct{}, depth)
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// start launches the workers.
func (l *lane) start() {
	for i := 0; i < l.workers; i++ {
		l.wg.Add(1)
		go l.worker()
	}
	logger.Debug("Transfer lane started", "kind", l.kind.String(), logger.KeyWorkers, l.workers)
}

// submit admits t. It never blocks on I/O; with a full bounded queue it
// either rejects or waits for room, depending on the policy.
func (l *lane) submit(ctx context.Context, t *Task) error {
	t.lane = l

	if l.slots != nil {
		if l.policy == QueueFullReject {
			select {
			case l.slots <- struct{}{}:
			default:
				return shuffle.ErrQueueFull
			}
		} else {
			select {
			case l.slots <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			case <-l.closing:
				return shuffle.ErrClosed
			}
		}
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.releaseSlot()
		return shuffle.ErrClosed
	}
	t.SubmittedAt = l.now()
	t.elem = l.queue.PushBack(t)
	l.outstanding++
	l.events.requested(t, l.outstanding)
	l.cond.Signal()
	l.mu.Unlock()
	return nil
}

func (l *lane) releaseSlot() {
	if l.slots != nil {
		<-l.slots
	}
}

func (l *lane) worker() {
	defer l.wg.Done()
	for {
		t, ok := l.next()
		if !ok {
			return
		}
		l.execute(t)
	}
}

// next blocks until a task is queued. After close the remaining queue is
// drained before workers exit.
func (l *lane) next() (*Task, bool) {
	l.mu.Lock()
	for l.queue.Len() == 0 && !l.closed {
		l.cond.Wait()
	}
	if l.queue.Len() == 0 {
		l.mu.Unlock()
		return nil, false
	}
	t := l.queue.Remove(l.queue.Front()).(*Task)
	t.elem = nil
	t.setState(StateSubmitted)
	l.active[t] = struct{}{}
	l.mu.Unlock()

	l.releaseSlot()
	return t, true
}

func (l *lane) execute(t *Task) {
	l.events.submitted(t, l.now().Sub(t.SubmittedAt))

	if t.ctx.Err() != nil {
		l.finish(t, nil, context.Cause(t.ctx))
		return
	}

	ctx := t.ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, l.timeout, shuffle.ErrTimeout)
		defer cancel()
	}

	t.startedAt = l.now()
	t.setState(StateRunning)
	l.events.started(t)

	// The transfer runs on its own goroutine so a deadline or cancellation
	// frees the worker even if the transport ignores ctx. A late result is
	// discarded.
	done := make(chan outcome, 1)
	go func() {
		val, err := t.run(ctx, t)
		done <- outcome{val: val, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && ctx.Err() != nil {
			o.err = causeOf(ctx, o.err)
		}
		l.finish(t, o.val, o.err)
	case <-ctx.Done():
		select {
		case o := <-done:
			if o.err != nil {
				o.err = causeOf(ctx, o.err)
			}
			l.finish(t, o.val, o.err)
		default:
			l.finish(t, nil, context.Cause(ctx))
			go discardLate(done)
		}
	}
}

// causeOf prefers the context cause over the error a transport returned
// because its context ended.
func causeOf(ctx context.Context, err error) error {
	cause := context.Cause(ctx)
	if cause == nil || errors.Is(err, cause) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return cause
	}
	return err
}

// finish moves a dequeued task to its terminal state exactly once.
func (l *lane) finish(t *Task, val any, err error) {
	l.mu.Lock()
	if t.terminal {
		l.mu.Unlock()
		return
	}
	delete(l.active, t)
	err = l.terminateLocked(t, val, err)
	l.mu.Unlock()

	t.cancel(nil)
	t.seal()
	t.resolve(val, err)
}

// discardLate releases the result of a transfer that finished after its
// task was already failed.
func discardLate(done <-chan outcome) {
	o := <-done
	if c, ok := o.val.(io.Closer); ok {
		_ = c.Close()
	}
}

// terminateLocked decrements the outstanding count and emits the terminal
// event. It returns the error delivered to the Future.
func (l *lane) terminateLocked(t *Task, val any, err error) error {
	t.terminal = true
	t.finishedAt = l.now()
	l.outstanding--
	n := l.outstanding

	if err != nil {
		err = l.wrapErr(t, err)
		t.setState(StateFailed)
		l.events.failed(t, err, n)
	} else {
		t.setState(StateCompleted)
		l.events.completed(t, val, n)
	}
	l.events.released(t)
	return err
}

func (l *lane) wrapErr(t *Task, err error) error {
	var te *shuffle.TransferError
	if errors.As(err, &te) {
		if te.Duration == 0 {
			te.Duration = t.elapsed(t.finishedAt)
		}
		return err
	}
	te = shuffle.NewTransferError(t.Kind.String(), t.Block, "", Classify(err))
	te.Duration = t.elapsed(t.finishedAt)
	return te
}

// cancel fails a queued task immediately, or cancels the context of a task
// already handed to a worker.
func (l *lane) cancel(t *Task, cause error) bool {
	l.mu.Lock()
	if t.terminal {
		l.mu.Unlock()
		return false
	}
	if t.elem == nil {
		l.mu.Unlock()
		t.cancel(cause)
		return true
	}

	l.queue.Remove(t.elem)
	t.elem = nil
	err := l.terminateLocked(t, nil, cause)
	l.mu.Unlock()

	l.releaseSlot()
	t.cancel(cause)
	t.resolve(nil, err)

	logger.Debug("Queued transfer cancelled",
		"kind", l.kind.String(), logger.KeyTaskID, t.ID, "block", t.Block.String())
	return true
}

// counts returns the number of queued tasks and of tasks held by workers.
func (l *lane) counts() (queued, active int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queue.Len(), len(l.active)
}

// close stops admission and lets the workers drain the queue. If ctx ends
// first, queued tasks fail with ErrClosed and running ones are cancelled.
func (l *lane) close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.closing)
		l.cond.Broadcast()
	}
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	l.abort()
	<-done
	return ctx.Err()
}

func (l *lane) abort() {
	l.mu.Lock()
	queued := make([]*Task, 0, l.queue.Len())
	for e := l.queue.Front(); e != nil; e = e.Next() {
		queued = append(queued, e.Value.(*Task))
	}
	active := make([]*Task, 0, len(l.active))
	for t := range l.active {
		active = append(active, t)
	}
	l.mu.Unlock()

	logger.Warn("Aborting transfers on close",
		"kind", l.kind.String(), "queued", len(queued), "active", len(active))

	for _, t := range queued {
		l.cancel(t, shuffle.ErrClosed)
	}
	for _, t := range active {
		t.cancel(shuffle.ErrClosed)
	}
}
