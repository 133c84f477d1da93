// Package scheduler runs a Task at a future point in time. It is used for
// single-shot alarms (e.g. a manual-override expiry): a Job can be cancelled
// and replaced, and its outcome queried through Result.
package scheduler

import (
	"context"
	"sync"
	"time"
)

// Schedule runs task after waitTime. The returned Job can be cancelled, or queried for its result.
func Schedule(ctx context.Context, task Task, waitTime time.Duration) *Job {
	ctx2, cancel := context.WithCancel(ctx)
	j := &Job{
		task:   task,
		due:    time.Now().Add(waitTime),
		cancel: cancel,
	}
	go j.run(ctx2, waitTime)
	return j
}

// Task is the interface for anything Schedule can run.
type Task interface {
	Run(ctx context.Context) error
}

// RunFunc adapts a plain function to the Task interface.
type RunFunc func(ctx context.Context) error

// Run implements Task.
func (f RunFunc) Run(ctx context.Context) error { return f(ctx) }

// Job is a scheduled task.
type Job struct {
	task   Task
	due    time.Time
	state  state
	cancel context.CancelFunc
	err    error
	lock   sync.RWMutex
}

func (j *Job) run(ctx context.Context, waitTime time.Duration) {
	j.setState(stateScheduled, nil)
	timer := time.NewTimer(waitTime)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
		err := j.task.Run(ctx)
		s := stateCompleted
		if err != nil {
			s = stateFailed
		}
		j.setState(s, err)
	}
}

// Due returns the time the job is scheduled to run at.
func (j *Job) Due() time.Time {
	return j.due
}

// Cancel stops a scheduled job. Cancelling a completed job is a no-op.
func (j *Job) Cancel() {
	j.cancel()
	j.lock.Lock()
	defer j.lock.Unlock()
	if !j.state.done() {
		j.state = stateCanceled
	}
}

// Result reports whether the job has finished and, if it has, any error from its task.
func (j *Job) Result() (completed bool, err error) {
	var result state
	result, err = j.getState()
	if completed = result.done(); completed {
		j.cancel()
	}
	return completed, err
}

func (j *Job) setState(state state, err error) {
	j.lock.Lock()
	defer j.lock.Unlock()
	if j.state == stateCanceled {
		return
	}
	j.state = state
	j.err = err
}

func (j *Job) getState() (state, error) {
	j.lock.RLock()
	defer j.lock.RUnlock()
	return j.state, j.err
}

type state int

const (
	stateUnknown state = iota
	stateScheduled
	stateCanceled
	stateCompleted
	stateFailed
)

func (s state) done() bool {
	return s == stateCompleted || s == stateFailed || s == stateCanceled
}
