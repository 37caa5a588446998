package presence

import "time"

// Stopper is the handle of a scheduled callback.
type Stopper interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it; tests swap in
// a manual clock.
type AfterFunc func(d time.Duration, f func()) Stopper

func realAfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// Task is one pending timer owned by Timers.
type Task struct {
	key  string
	stop Stopper
}

func (t *Task) Key() string { return t.key }

// Timers keeps at most one pending task per key. Reset cancels the current
// task before arming its replacement, and a callback must Claim its task
// before acting: a timer whose Stop lost the race against its own firing
// is no longer current and Claim refuses it.
//
// Timers is not safe for concurrent use. Its owner serializes calls,
// including the Claim issued from inside fired callbacks.
type Timers struct {
	after AfterFunc
	tasks map[string]*Task
}

func NewTimers(after AfterFunc) *Timers {
	if after == nil {
		after = realAfterFunc
	}
	return &Timers{after: after, tasks: make(map[string]*Task)}
}

func (t *Timers) Reset(key string, d time.Duration, fire func(*Task)) *Task {
	t.Cancel(key)
	task := &Task{key: key}
	t.tasks[key] = task
	task.stop = t.after(d, func() { fire(task) })
	return task
}

// Cancel stops the pending task for key and reports whether there was one.
func (t *Timers) Cancel(key string) bool {
	task, ok := t.tasks[key]
	if !ok {
		return false
	}
	delete(t.tasks, key)
	task.stop.Stop()
	return true
}

// Claim removes task and reports true only if it is still the current task
// for its key.
func (t *Timers) Claim(task *Task) bool {
	if t.tasks[task.key] != task {
		return false
	}
	delete(t.tasks, task.key)
	return true
}

func (t *Timers) Pending(key string) bool {
	_, ok := t.tasks[key]
	return ok
}

func (t *Timers) Len() int { return len(t.tasks) }
