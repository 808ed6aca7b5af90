package transcribe

import "context"

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// Task is a handle to a run executing on its own goroutine.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	result Result
	err    error
}

// Start launches runner.Run for req on a new goroutine.
func Start(ctx context.Context, runner Runner, req Request) *Task {
	runCtx, cancel := context.WithCancel(ctx)
	t := &Task{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		defer cancel()
		t.result, t.err = runner.Run(runCtx, req)
	}()
	return t
}

// Done is closed when the run has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the run finishes and returns its outcome.
func (t *Task) Wait() (Result, error) {
	<-t.done
	return t.result, t.err
}

// Cancel requests cancellation; the run observes it at the next suspension point.
func (t *Task) Cancel() {
	t.cancel()
}
