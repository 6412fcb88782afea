// Package background runs setup/step/teardown loops on their own goroutine
// with cooperative, context-based cancellation.
package background

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"radio-recorder/internal/platform/logger"
)

// ErrDone is returned by a step to end the loop without recording a failure.
var ErrDone = errors.New("background: done")

// Funcs are the three phases of a Task. Setup and Teardown are optional.
//
// Step must not block indefinitely: it should either return in bounded time
// or observe ctx, which is cancelled by Stop.
type Funcs struct {
	Setup    func(ctx context.Context) error
	Step     func(ctx context.Context) error
	Teardown func()
}

// Task executes setup once, then step until stopped, then teardown once.
// A Task can be started again after it has exited.
type Task struct {
	name string
	fn   Funcs
	log  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// New returns a Task that is not yet running. A nil log discards output.
func New(name string, fn Funcs, log *slog.Logger) *Task {
	if log == nil {
		log = logger.Discard()
	}
	return &Task{name: name, fn: fn, log: log.With(slog.String("task", name))}
}

// Start launches the loop. It is a no-op while a previous run is still alive.
func (t *Task) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.runningLocked() {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done
	t.err = nil

	go t.run(ctx, done)
}

// Stop cancels the loop and blocks until teardown has completed.
// Stopping a task that was never started, or already exited, returns at once.
func (t *Task) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the loop goroutine is alive.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runningLocked()
}

// Done returns a channel closed when the current run exits. For a task that
// was never started the channel is already closed.
func (t *Task) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return t.done
}

// Err returns the error that ended the last run, or nil if it ended by Stop,
// ErrDone, or is still running.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// runningLocked requires t.mu.
func (t *Task) runningLocked() bool {
	if t.done == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

func (t *Task) run(ctx context.Context, done chan struct{}) {
	var err error
	defer func() {
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
		close(done)
	}()

	if t.fn.Setup != nil {
		if err = t.fn.Setup(ctx); err != nil {
			if ctx.Err() != nil {
				err = nil
				return
			}
			t.log.Warn("task setup failed", slog.String("error", err.Error()))
			return
		}
	}
	t.log.Debug("task started")

	for ctx.Err() == nil {
		if err = t.fn.Step(ctx); err != nil {
			break
		}
	}

	// An error surfacing after cancellation is the interrupted step, not a failure.
	if errors.Is(err, ErrDone) || ctx.Err() != nil {
		err = nil
	}
	if err != nil {
		t.log.Warn("task step failed", slog.String("error", err.Error()))
	}

	if t.fn.Teardown != nil {
		t.fn.Teardown()
	}
	t.log.Debug("task stopped")
}
