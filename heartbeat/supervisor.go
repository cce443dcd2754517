package heartbeat

import (
	"fmt"
	"sync"
	"time"
)

// TimeoutError reports that a job went a full idle window without progress
type TimeoutError struct {
	Window   time.Duration
	LastBeat time.Time
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no progress for %s (last at %s)", e.Window, e.LastBeat.Format(time.RFC3339))
}

func NewTimeoutError(window time.Duration, lastBeat time.Time) error {
	return &TimeoutError{Window: window, LastBeat: lastBeat}
}

func IsTimeoutError(err error) bool {
	_, ok := err.(*TimeoutError)
	return ok
}

// Supervisor holds one renewable deadline. Beat pushes the deadline to now+window;
// a single goroutine sleeps until the deadline and fires only if no beat moved it.
type Supervisor struct {
	window time.Duration
	lock   sync.Locker
	now    func() time.Time

	deadline time.Time
	lastBeat time.Time
	started  bool
	stopped  bool
	fired    bool

	timeout chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

// New creates a supervisor whose deadline is guarded by lock, normally the job's own mutex.
// A nil lock gets a private mutex.
func New(window time.Duration, lock sync.Locker) *Supervisor {
	if lock == nil {
		lock = &sync.Mutex{}
	}
	return &Supervisor{
		window:  window,
		lock:    lock,
		now:     time.Now,
		timeout: make(chan struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start arms the deadline and launches the watching goroutine. Calling it twice is a no-op.
func (s *Supervisor) Start() {
	s.lock.Lock()
	if s.started {
		s.lock.Unlock()
		return
	}
	s.started = true
	s.lastBeat = s.now()
	s.deadline = s.lastBeat.Add(s.window)
	s.lock.Unlock()

	go s.watch()
}

// Beat renews the deadline
func (s *Supervisor) Beat() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.fired || s.stopped {
		return
	}
	s.lastBeat = s.now()
	s.deadline = s.lastBeat.Add(s.window)
}

// Timeout is closed when the idle window elapses without a beat
func (s *Supervisor) Timeout() <-chan struct{} {
	return s.timeout
}

// Err returns a TimeoutError once the supervisor fired, nil otherwise
func (s *Supervisor) Err() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.fired {
		return nil
	}
	return NewTimeoutError(s.window, s.lastBeat)
}

// Stop ends supervision without firing and waits for the watcher to exit
func (s *Supervisor) Stop() {
	s.lock.Lock()
	if s.stopped {
		s.lock.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	s.lock.Unlock()

	close(s.stop)
	if started {
		<-s.done
	}
}

func (s *Supervisor) watch() {
	defer close(s.done)

	for {
		s.lock.Lock()
		if s.stopped {
			s.lock.Unlock()
			return
		}
		wait := s.deadline.Sub(s.now())
		if wait <= 0 {
			s.fired = true
			s.lock.Unlock()
			close(s.timeout)
			return
		}
		s.lock.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-s.stop:
			timer.Stop()
			return
		case <-timer.C:
			// recheck; a beat may have moved the deadline while we slept
		}
	}
}
