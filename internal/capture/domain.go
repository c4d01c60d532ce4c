package capture

import (
	"sync"
	"time"
)

// mailbox is an unbounded FIFO of tasks with a level-triggered ready
// signal. Posting never blocks, which keeps the mix path free of
// cross-context blocking calls.
type mailbox struct {
	mu    sync.Mutex
	tasks []func()
	ready chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

func (m *mailbox) post(task func()) {
	m.mu.Lock()
	m.tasks = append(m.tasks, task)
	m.mu.Unlock()
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []func() {
	m.mu.Lock()
	tasks := m.tasks
	m.tasks = nil
	m.mu.Unlock()
	return tasks
}

// mixDomain is the serialized execution domain that runs the mixing loop.
// Exactly one goroutine executes the body; it is woken by an explicit
// signal, an armed deadline timer, or a posted task, and is never invoked
// concurrently with itself. The timer is armed and cancelled only from the
// body itself, so timer ownership never crosses goroutines.
type mixDomain struct {
	body    func()
	wake    chan struct{}
	tasks   *mailbox
	timer   *time.Timer
	armed   bool
	quit    chan struct{}
	done    chan struct{}
	started bool
}

func newMixDomain(body func()) *mixDomain {
	return &mixDomain{
		body:  body,
		wake:  make(chan struct{}, 1),
		tasks: newMailbox(),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// activate starts the domain goroutine.
func (d *mixDomain) activate() {
	if d.started {
		return
	}
	d.started = true
	d.timer = time.NewTimer(time.Hour)
	if !d.timer.Stop() {
		<-d.timer.C
	}
	go d.run()
}

// deactivate stops the domain and waits for any in-flight iteration to
// complete. Must not be called from the domain goroutine itself.
func (d *mixDomain) deactivate() {
	if !d.started {
		return
	}
	select {
	case <-d.quit:
		// already deactivated
	default:
		close(d.quit)
	}
	<-d.done
}

// signal requests a wake of the mixing loop. Level-triggered: multiple
// signals before the loop runs coalesce into one wake.
func (d *mixDomain) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// post queues a task to run on the domain goroutine, fire-and-forget.
func (d *mixDomain) post(task func()) {
	d.tasks.post(task)
}

// armTimer schedules a wake after delay. Only legal from the domain
// goroutine. A non-positive delay degenerates to an immediate wake signal.
func (d *mixDomain) armTimer(delay time.Duration) {
	if delay <= 0 {
		d.signal()
		return
	}
	d.cancelTimer()
	d.timer.Reset(delay)
	d.armed = true
}

// cancelTimer disarms any pending deadline. Only legal from the domain
// goroutine.
func (d *mixDomain) cancelTimer() {
	if !d.armed {
		return
	}
	if !d.timer.Stop() {
		select {
		case <-d.timer.C:
		default:
		}
	}
	d.armed = false
}

func (d *mixDomain) run() {
	defer close(d.done)
	for {
		select {
		case <-d.quit:
			return
		case <-d.tasks.ready:
			for _, task := range d.tasks.drain() {
				task()
			}
		case <-d.wake:
			d.body()
		case <-d.timer.C:
			d.armed = false
			d.body()
		}
	}
}

// controlDomain is the serialized context that delivers completed buffers
// and notifications back to the client. Work arrives only as posted tasks.
type controlDomain struct {
	tasks   *mailbox
	quit    chan struct{}
	done    chan struct{}
	started bool
}

func newControlDomain() *controlDomain {
	return &controlDomain{
		tasks: newMailbox(),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (d *controlDomain) activate() {
	if d.started {
		return
	}
	d.started = true
	go d.run()
}

// deactivate stops the domain after draining already-posted tasks and
// waits for the goroutine to exit.
func (d *controlDomain) deactivate() {
	if !d.started {
		return
	}
	select {
	case <-d.quit:
	default:
		close(d.quit)
	}
	<-d.done
}

func (d *controlDomain) post(task func()) {
	d.tasks.post(task)
}

func (d *controlDomain) run() {
	defer close(d.done)
	for {
		select {
		case <-d.quit:
			// Drain whatever was posted before the quit was observed so
			// deliveries already in flight are not dropped.
			for _, task := range d.tasks.drain() {
				task()
			}
			return
		case <-d.tasks.ready:
			for _, task := range d.tasks.drain() {
				task()
			}
		}
	}
}
