package host

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Loop is a cooperative single-threaded event loop. Work items run one at a
// time on the goroutine that called Run, in the order they were scheduled.
type Loop struct {
	mu       sync.Mutex
	items    []func()
	stopping bool
	started  bool

	wake   chan struct{}
	done   chan struct{}
	logger *logrus.Logger
}

// NewLoop creates a loop that is not yet running.
func NewLoop(logger *logrus.Logger) *Loop {
	if logger == nil {
		logger = logrus.New()
	}
	return &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Schedule enqueues work without blocking. It returns false, dropping the
// work, once Stop has been called.
func (l *Loop) Schedule(work func()) bool {
	l.mu.Lock()
	if l.stopping {
		l.mu.Unlock()
		return false
	}
	l.items = append(l.items, work)
	l.mu.Unlock()

	l.signal()
	return true
}

// Invoke runs fn on the loop and blocks until it returns. It must not be
// called from the loop goroutine.
func (l *Loop) Invoke(fn func()) error {
	finished := make(chan struct{})
	var panicErr error

	ok := l.Schedule(func() {
		defer close(finished)
		defer func() {
			if r := recover(); r != nil {
				panicErr = fmt.Errorf("invoked call panicked: %v", r)
			}
		}()
		fn()
	})
	if !ok {
		return ErrLoopStopped
	}

	select {
	case <-finished:
		return panicErr
	case <-l.done:
		select {
		case <-finished:
			return panicErr
		default:
			return ErrLoopStopped
		}
	}
}

// Run processes work until Stop is called. Items still queued when the loop
// stops are discarded. Run returns immediately if Stop came first or the
// loop already ran.
func (l *Loop) Run() {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.mu.Unlock()

	defer close(l.done)

	for {
		l.mu.Lock()
		if l.stopping {
			discarded := len(l.items)
			l.items = nil
			l.mu.Unlock()
			if discarded > 0 {
				l.logger.WithField("discarded", discarded).Debug("Event loop stopped with pending work")
			}
			return
		}
		if len(l.items) == 0 {
			l.mu.Unlock()
			<-l.wake
			continue
		}
		work := l.items[0]
		l.items[0] = nil
		l.items = l.items[1:]
		l.mu.Unlock()

		l.exec(work)
	}
}

// Stop asks Run to return at the next opportunity. It is safe to call before
// Run, from any goroutine, any number of times.
func (l *Loop) Stop() {
	l.mu.Lock()
	already := l.stopping
	l.stopping = true
	l.mu.Unlock()

	if !already {
		l.signal()
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Pending returns the number of queued work items.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) exec(work func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithField("panic", r).Error("Event loop work item panicked")
		}
	}()
	work()
}
