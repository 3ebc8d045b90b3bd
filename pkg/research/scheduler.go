package research

import "sync"

// Scheduler runs a task later, after the caller's current work is done.
// Schedule must not block and must not drop tasks.
type Scheduler interface {
	Schedule(task func())
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func(task func())

func (f SchedulerFunc) Schedule(task func()) { f(task) }

// Loop is a Scheduler that runs tasks one at a time, in submission order, on a
// single goroutine.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func NewLoop() *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) Schedule(task func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		// still runs, just not serialized with the loop
		go task()
		return
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Close stops the loop once every queued task has run.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for range l.wake {
		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				closed := l.closed
				l.mu.Unlock()
				if closed {
					return
				}
				break
			}
			task := l.queue[0]
			l.queue = l.queue[1:]
			l.mu.Unlock()

			task()
		}
	}
}
