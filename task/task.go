// Package task runs long operations in the background with cancellation
// and a progress line.
package task

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// Task is a handle to a function running on its own goroutine.
type Task struct {
	name   string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	progress string
	err      error
}

// Start runs fn on a new goroutine. fn should return when ctx is done.
// A panic in fn is recovered and reported by Wait.
func Start(ctx context.Context, name string, fn func(ctx context.Context, t *Task) error) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		name:     name,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		progress: name,
	}
	go t.run(fn)
	return t
}

func (t *Task) run(fn func(ctx context.Context, t *Task) error) {
	defer close(t.done)
	defer t.cancel()
	defer func() {
		if r := recover(); r != nil {
			t.setErr(fmt.Errorf("task %s panicked: %v\n%s", t.name, r, debug.Stack()))
		}
	}()
	t.setErr(fn(t.ctx, t))
}

func (t *Task) setErr(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

// Name returns the name given to Start.
func (t *Task) Name() string { return t.name }

// Cancel asks the task to stop. It does not wait.
func (t *Task) Cancel() { t.cancel() }

// Cancelled reports whether the task's context is done.
func (t *Task) Cancelled() bool { return t.ctx.Err() != nil }

// SetProgress replaces the progress line.
func (t *Task) SetProgress(text string) {
	t.mu.Lock()
	t.progress = text
	t.mu.Unlock()
}

// Progress returns the current progress line.
func (t *Task) Progress() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finishes and returns its error.
func (t *Task) Wait() error {
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
