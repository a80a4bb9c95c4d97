package rtm

import "sync"

// EventLoop is a single-consumer work queue drained by one owning goroutine.
// All client I/O and all resilient-client state transitions execute on it.
// Post never blocks the caller; tasks posted from the same goroutine execute
// in their submission order.
type EventLoop struct {
	lock    sync.Mutex
	tasks   []func()
	wake    chan struct{}
	stopped bool
	done    chan struct{}
}

// NewEventLoop returns a loop that is ready for Run.
func NewEventLoop() *EventLoop {
	return &EventLoop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post enqueues a task for the owning goroutine. It reports false once the
// loop has stopped, in which case the task is dropped.
func (loop *EventLoop) Post(task func()) bool {
	if task == nil {
		return false
	}
	loop.lock.Lock()
	if loop.stopped {
		loop.lock.Unlock()
		return false
	}
	loop.tasks = append(loop.tasks, task)
	loop.lock.Unlock()

	select {
	case loop.wake <- struct{}{}:
	default:
	}
	return true
}

// Run drains tasks until Stop is called. The goroutine that calls Run is the
// owning thread for every client built on this loop.
func (loop *EventLoop) Run() {
	for {
		loop.lock.Lock()
		if loop.stopped {
			loop.lock.Unlock()
			return
		}
		batch := loop.tasks
		loop.tasks = nil
		loop.lock.Unlock()

		if len(batch) == 0 {
			<-loop.wake
			continue
		}
		for _, task := range batch {
			loop.lock.Lock()
			stopped := loop.stopped
			loop.lock.Unlock()
			if stopped {
				return
			}
			task()
		}
	}
}

// Stop halts the loop. Queued tasks that have not started are dropped; Stop
// is idempotent and safe to call from a task running on the loop.
func (loop *EventLoop) Stop() {
	loop.lock.Lock()
	if loop.stopped {
		loop.lock.Unlock()
		return
	}
	loop.stopped = true
	loop.tasks = nil
	loop.lock.Unlock()

	close(loop.done)
	select {
	case loop.wake <- struct{}{}:
	default:
	}
}

// Done is closed once the loop has stopped.
func (loop *EventLoop) Done() <-chan struct{} {
	return loop.done
}

// Stopped reports whether Stop has been called.
func (loop *EventLoop) Stopped() bool {
	loop.lock.Lock()
	defer loop.lock.Unlock()
	return loop.stopped
}
