package netmon

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/pathmond/internal/path"
	"github.com/dmdmdm-nz/pathmond/internal/runtime"
)

// stopTimeout bounds how long Stop waits for the watcher to return.
const stopTimeout = 5 * time.Second

type lifecycle int

const (
	idle lifecycle = iota
	running
	disposed
)

// Monitor observes the host network path through a Watcher and republishes
// every change to its subscribers. The watch goroutine is the only writer of
// the current snapshot.
type Monitor struct {
	watcher Watcher

	current atomic.Pointer[path.Snapshot]
	ready   atomic.Bool

	mu     sync.Mutex
	state  lifecycle
	cancel context.CancelFunc
	done   chan struct{}

	subsMu      sync.Mutex
	subs        []*Subscription
	feeds       map[*Subscription]*feed
	feedsClosed bool

	errMu      sync.Mutex
	err        error
	onError    func(error)
	errExec    runtime.Executor
	failedOnce sync.Once
	failed     chan struct{}
}

type Option func(*Monitor)

// WithErrorHandler registers fn to receive the terminal monitoring error,
// once, on exec. A nil exec runs fn inline on the watch goroutine.
func WithErrorHandler(exec runtime.Executor, fn func(error)) Option {
	return func(m *Monitor) {
		m.onError = fn
		m.errExec = exec
	}
}

func NewMonitor(w Watcher, opts ...Option) *Monitor {
	m := &Monitor{
		watcher: w,
		feeds:   make(map[*Subscription]*feed),
		failed:  make(chan struct{}),
	}
	def := path.DefaultSnapshot()
	m.current.Store(&def)
	for _, opt := range opts {
		opt(m)
	}
	if m.errExec == nil {
		m.errExec = runtime.Inline
	}
	return m
}

// Start begins observing on a background goroutine. Calling it on a running
// monitor does nothing.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case running:
		return nil
	case disposed:
		return ErrAlreadyDisposed
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.state = running

	go m.watch(ctx, m.done)
	return nil
}

// Stop detaches from the watcher and drops every observer, waiting up to
// stopTimeout for an in-flight path event to finish dispatching. It is safe
// to call repeatedly, but not from an observer that runs on runtime.Inline.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	prev := m.state
	m.state = disposed
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if prev == disposed {
		return nil
	}

	if prev == running {
		cancel()
		select {
		case <-done:
		case <-time.After(stopTimeout):
			log.WithField("timeout", stopTimeout).Warn("Timed out waiting for the path watcher to exit")
		}
	}

	m.subsMu.Lock()
	m.subs = nil
	m.feedsClosed = true
	feeds := make([]*feed, 0, len(m.feeds))
	for _, f := range m.feeds {
		feeds = append(feeds, f)
	}
	m.subsMu.Unlock()

	// Queued behind any pending deliveries, so those still reach the channel.
	for _, f := range feeds {
		f.q.Execute(f.close)
	}

	log.Debug("Network path monitor stopped")
	return nil
}

// Close is Stop with the signature Supervisor expects.
func (m *Monitor) Close() error {
	return m.Stop()
}

// Run starts the monitor and blocks until ctx is done. It returns the
// terminal monitoring error, if one occurred.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.Start(); err != nil {
		return err
	}

	log.Info("Starting network path monitoring service")
	defer log.Info("Stopping network path monitoring service")

	<-ctx.Done()
	_ = m.Stop()
	return m.Err()
}

// CurrentSnapshot returns the latest path. It never blocks on the watcher.
func (m *Monitor) CurrentSnapshot() path.Snapshot {
	return m.current.Load().Clone()
}

// Ready reports whether the watcher has delivered its first path.
func (m *Monitor) Ready() bool {
	return m.ready.Load()
}

// Err returns the terminal monitoring error, or nil while monitoring works.
func (m *Monitor) Err() error {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.err
}

// Failed is closed when monitoring has failed for good.
func (m *Monitor) Failed() <-chan struct{} {
	return m.failed
}

// Subscribe registers fn to be called with every new snapshot, on exec. A
// nil exec runs fn inline on the watch goroutine. Observers are notified in
// registration order.
func (m *Monitor) Subscribe(exec runtime.Executor, fn func(path.Snapshot)) *Subscription {
	if exec == nil {
		exec = runtime.Inline
	}
	sub := &Subscription{
		id:   uuid.New(),
		m:    m,
		exec: exec,
		fn:   fn,
	}
	sub.active.Store(true)

	m.subsMu.Lock()
	m.subs = append(m.subs, sub)
	m.subsMu.Unlock()

	log.WithField("subscription", sub.id).Trace("Path observer subscribed")
	return sub
}

// Unsubscribe removes an observer registered with Subscribe. Handles from
// another monitor, nil handles and repeated calls are ignored.
func (m *Monitor) Unsubscribe(sub *Subscription) {
	if sub == nil || sub.m != m {
		return
	}
	sub.Unsubscribe()
}

// Updates streams the current snapshot followed by every change. The
// channel is closed by the returned func or by Stop. Consumers must keep
// draining it.
func (m *Monitor) Updates() (<-chan path.Snapshot, func()) {
	ch := make(chan path.Snapshot, 8)
	f := &feed{quit: make(chan struct{})}
	f.q = runtime.NewSerialWithExit(func() { close(ch) })
	send := func(s path.Snapshot) {
		select {
		case ch <- s:
		case <-f.quit:
		}
	}
	f.sub = &Subscription{
		id:   uuid.New(),
		m:    m,
		exec: f.q,
		fn:   send,
	}
	f.sub.active.Store(true)

	// The feed stays paused until it is registered. Live deliveries queue
	// behind the initial snapshot, which is read under subsMu so no change
	// can slip in between the two.
	f.q.SetPaused(true)
	m.subsMu.Lock()
	initial := m.current.Load().Clone()
	f.q.Execute(func() { send(initial) })
	if m.feedsClosed {
		f.q.Execute(f.close)
	} else {
		m.subs = append(m.subs, f.sub)
		m.feeds[f.sub] = f
	}
	m.subsMu.Unlock()
	f.q.SetPaused(false)

	return ch, f.close
}

func (m *Monitor) watch(ctx context.Context, done chan struct{}) {
	defer close(done)

	err := m.watcher.Watch(ctx, m.publish)
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = errStreamEnded
	}
	m.fail(fmt.Errorf("%w: %w", ErrMonitoringUnavailable, err))
}

// publish runs on the watch goroutine for every path the watcher reports.
func (m *Monitor) publish(raw path.RawPath) {
	snap := path.Translate(raw)

	log.WithFields(log.Fields{
		"status":     snap.Status,
		"ipv4":       snap.SupportsIPv4,
		"ipv6":       snap.SupportsIPv6,
		"dns":        snap.SupportsDNS,
		"interfaces": len(snap.Interfaces),
	}).Debug("Network path updated")

	// Swapped under subsMu so Updates sees either the old snapshot and this
	// delivery, or the new snapshot and no delivery.
	m.subsMu.Lock()
	m.current.Store(&snap)
	subs := slices.Clone(m.subs)
	m.subsMu.Unlock()
	m.ready.Store(true)

	for _, sub := range subs {
		sub.deliver(snap.Clone())
	}
}

func (m *Monitor) fail(err error) {
	m.failedOnce.Do(func() {
		m.errMu.Lock()
		m.err = err
		m.errMu.Unlock()

		log.WithError(err).Error("Network path monitoring failed, keeping last known path")
		close(m.failed)

		if m.onError != nil {
			m.errExec.Execute(func() { m.onError(err) })
		}
	})
}

func (m *Monitor) remove(sub *Subscription) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if i := slices.Index(m.subs, sub); i >= 0 {
		m.subs = slices.Delete(m.subs, i, i+1)
	}
	delete(m.feeds, sub)
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id     uuid.UUID
	m      *Monitor
	exec   runtime.Executor
	fn     func(path.Snapshot)
	active atomic.Bool
}

func (s *Subscription) ID() uuid.UUID { return s.id }

// Unsubscribe stops deliveries to the observer. Once it returns, no new
// delivery starts; one that had already started may still complete.
// Calling it again does nothing.
func (s *Subscription) Unsubscribe() {
	if !s.active.CompareAndSwap(true, false) {
		return
	}
	s.m.remove(s)
	log.WithField("subscription", s.id).Trace("Path observer unsubscribed")
}

func (s *Subscription) deliver(snap path.Snapshot) {
	s.exec.Execute(func() {
		if s.active.Load() {
			s.fn(snap)
		}
	})
}

// feed backs a channel returned by Updates.
type feed struct {
	sub  *Subscription
	q    *runtime.Serial
	quit chan struct{}
	once sync.Once
}

func (f *feed) close() {
	f.once.Do(func() {
		f.sub.Unsubscribe()
		close(f.quit)
		f.q.Close()
	})
}
