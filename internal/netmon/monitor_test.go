package netmon

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmdmdm-nz/pathmond/internal/path"
	"github.com/dmdmdm-nz/pathmond/internal/runtime"
)

// fakeWatcher emits whatever the test sends, from the Watch goroutine.
type fakeWatcher struct {
	paths   chan path.RawPath
	errs    chan error
	watches atomic.Int32
	exited  atomic.Int32
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		paths: make(chan path.RawPath),
		errs:  make(chan error),
	}
}

func (w *fakeWatcher) Watch(ctx context.Context, emit func(path.RawPath)) error {
	w.watches.Add(1)
	defer w.exited.Add(1)
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw := <-w.paths:
			emit(raw)
		case err := <-w.errs:
			return err
		}
	}
}

func (w *fakeWatcher) Send(t *testing.T, raw path.RawPath) {
	t.Helper()
	select {
	case w.paths <- raw:
	case <-time.After(time.Second):
		t.Fatal("timeout handing path to watcher")
	}
}

func (w *fakeWatcher) Fail(t *testing.T, err error) {
	t.Helper()
	select {
	case w.errs <- err:
	case <-time.After(time.Second):
		t.Fatal("timeout handing error to watcher")
	}
}

// recorder collects snapshots delivered to an observer.
type recorder struct {
	mu    sync.Mutex
	snaps []path.Snapshot
	ch    chan path.Snapshot
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan path.Snapshot, 64)}
}

func (r *recorder) observe(s path.Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
	r.ch <- s
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func (r *recorder) next(t *testing.T) path.Snapshot {
	t.Helper()
	select {
	case s := <-r.ch:
		return s
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for snapshot")
		return path.Snapshot{}
	}
}

func (r *recorder) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case s := <-r.ch:
		t.Fatalf("unexpected snapshot: %+v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func wifiPath() path.RawPath {
	return path.RawPath{
		Status:     path.RawSatisfied,
		IPv4:       true,
		DNS:        true,
		Interfaces: []path.RawInterface{{Name: "en0", Kind: path.KindWiFi}},
	}
}

func newStartedMonitor(t *testing.T, opts ...Option) (*Monitor, *fakeWatcher) {
	t.Helper()
	w := newFakeWatcher()
	m := NewMonitor(w, opts...)
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Stop() })
	return m, w
}

func TestMonitor_DefaultSnapshotBeforeStart(t *testing.T) {
	m := NewMonitor(newFakeWatcher())

	assert.True(t, path.DefaultSnapshot().Equal(m.CurrentSnapshot()))
	assert.False(t, m.Ready())
}

func TestMonitor_DefaultSnapshotBeforeFirstPath(t *testing.T) {
	m, _ := newStartedMonitor(t)

	s := m.CurrentSnapshot()
	assert.Equal(t, path.Unsatisfied, s.Status)
	assert.False(t, s.SupportsIPv4)
	assert.False(t, s.SupportsIPv6)
	assert.False(t, s.SupportsDNS)
	assert.False(t, s.IsExpensive)
	assert.False(t, s.IsConstrained)
	assert.Empty(t, s.Interfaces)
	assert.False(t, m.Ready())
}

func TestMonitor_FirstPathDelivered(t *testing.T) {
	m, w := newStartedMonitor(t)
	rec := newRecorder()
	m.Subscribe(runtime.Inline, rec.observe)

	w.Send(t, wifiPath())

	want := path.Snapshot{
		Status:       path.Satisfied,
		SupportsIPv4: true,
		SupportsDNS:  true,
		Interfaces:   []path.Interface{{Name: "en0", Type: path.WiFi}},
	}
	got := rec.next(t)
	assert.True(t, want.Equal(got), "got %+v", got)
	assert.True(t, want.Equal(m.CurrentSnapshot()))
	assert.True(t, m.Ready())

	rec.expectNothing(t)
	assert.Equal(t, 1, rec.count())
}

func TestMonitor_UnknownValuesDegrade(t *testing.T) {
	m, w := newStartedMonitor(t)
	rec := newRecorder()
	m.Subscribe(nil, rec.observe)

	w.Send(t, path.RawPath{
		Status:     "brand-new-status",
		Interfaces: []path.RawInterface{{Name: "nx0", Kind: "brand-new-kind"}},
	})

	got := rec.next(t)
	assert.Equal(t, path.StatusUnknown, got.Status)
	assert.Equal(t, []path.Interface{{Name: "nx0", Type: path.InterfaceUnknown}}, got.Interfaces)
	assert.NoError(t, m.Err())
}

func TestMonitor_CurrentSnapshotTracksLatest(t *testing.T) {
	m, w := newStartedMonitor(t)
	rec := newRecorder()
	m.Subscribe(runtime.Inline, rec.observe)

	statuses := []string{path.RawSatisfied, path.RawUnsatisfied, path.RawRequiresConnection, path.RawSatisfied}
	for _, st := range statuses {
		w.Send(t, path.RawPath{Status: st})
		got := rec.next(t)
		assert.True(t, got.Equal(m.CurrentSnapshot()))
		assert.Equal(t, path.TranslateStatus(st), m.CurrentSnapshot().Status)
	}
}

func TestMonitor_CurrentSnapshotIsACopy(t *testing.T) {
	m, w := newStartedMonitor(t)
	rec := newRecorder()
	m.Subscribe(runtime.Inline, rec.observe)

	w.Send(t, wifiPath())
	delivered := rec.next(t)
	delivered.Interfaces[0].Name = "changed"

	s := m.CurrentSnapshot()
	s.Interfaces[0].Name = "also-changed"

	assert.Equal(t, "en0", m.CurrentSnapshot().Interfaces[0].Name)
}

func TestMonitor_StartIdempotent(t *testing.T) {
	m, w := newStartedMonitor(t)

	require.NoError(t, m.Start())
	require.NoError(t, m.Start())

	assert.Eventually(t, func() bool { return w.watches.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), w.watches.Load())
}

func TestMonitor_StartAfterStop(t *testing.T) {
	m, _ := newStartedMonitor(t)
	require.NoError(t, m.Stop())

	assert.ErrorIs(t, m.Start(), ErrAlreadyDisposed)
}

func TestMonitor_StartAfterStopWhileIdle(t *testing.T) {
	m := NewMonitor(newFakeWatcher())
	require.NoError(t, m.Stop())

	assert.ErrorIs(t, m.Start(), ErrAlreadyDisposed)
}

func TestMonitor_StopTwice(t *testing.T) {
	m, w := newStartedMonitor(t)

	require.NotPanics(t, func() {
		assert.NoError(t, m.Stop())
		assert.NoError(t, m.Stop())
	})
	assert.Equal(t, int32(1), w.exited.Load())
}

func TestMonitor_StopFromManyGoroutines(t *testing.T) {
	m, w := newStartedMonitor(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Stop())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), w.exited.Load())
}

func TestMonitor_StopWaitsForInFlightDelivery(t *testing.T) {
	m, w := newStartedMonitor(t)

	started := make(chan struct{})
	var finished atomic.Bool
	m.Subscribe(runtime.Inline, func(path.Snapshot) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	})

	w.Send(t, wifiPath())
	<-started

	require.NoError(t, m.Stop())
	assert.True(t, finished.Load())
}

func TestMonitor_SubscribeUnsubscribeBetweenEvents(t *testing.T) {
	m, w := newStartedMonitor(t)
	rec := newRecorder()
	other := newRecorder()

	sub := m.Subscribe(runtime.Inline, rec.observe)
	m.Subscribe(runtime.Inline, other.observe)

	w.Send(t, wifiPath())
	rec.next(t)
	other.next(t)

	sub.Unsubscribe()

	w.Send(t, path.RawPath{Status: path.RawUnsatisfied})
	other.next(t)

	rec.expectNothing(t)
	assert.Equal(t, 1, rec.count())
}

func TestMonitor_UnsubscribeTwice(t *testing.T) {
	m, _ := newStartedMonitor(t)
	sub := m.Subscribe(runtime.Inline, func(path.Snapshot) {})

	require.NotPanics(t, func() {
		sub.Unsubscribe()
		sub.Unsubscribe()
		m.Unsubscribe(sub)
		m.Unsubscribe(nil)
	})
}

func TestMonitor_UnsubscribeIgnoresForeignHandle(t *testing.T) {
	m, w := newStartedMonitor(t)
	other := NewMonitor(newFakeWatcher())

	rec := newRecorder()
	sub := m.Subscribe(runtime.Inline, rec.observe)
	other.Unsubscribe(sub)

	w.Send(t, wifiPath())
	rec.next(t)
}

func TestMonitor_DeliveryOrder(t *testing.T) {
	m, w := newStartedMonitor(t)

	var mu sync.Mutex
	var log []string
	record := func(name string) func(path.Snapshot) {
		return func(s path.Snapshot) {
			mu.Lock()
			log = append(log, name+":"+s.Status.String())
			mu.Unlock()
		}
	}
	m.Subscribe(runtime.Inline, record("a"))
	m.Subscribe(runtime.Inline, record("b"))
	last := newRecorder()
	m.Subscribe(runtime.Inline, last.observe)

	w.Send(t, path.RawPath{Status: path.RawSatisfied})
	w.Send(t, path.RawPath{Status: path.RawUnsatisfied})
	last.next(t)
	last.next(t)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"a:Satisfied", "b:Satisfied",
		"a:Unsatisfied", "b:Unsatisfied",
	}, log)
}

func TestMonitor_SerialObserverKeepsArrivalOrder(t *testing.T) {
	m, w := newStartedMonitor(t)
	exec := runtime.NewSerial()
	defer exec.Close()

	rec := newRecorder()
	m.Subscribe(exec, rec.observe)

	statuses := []string{path.RawSatisfied, path.RawUnsatisfied, path.RawRequiresConnection, "weird"}
	for _, st := range statuses {
		w.Send(t, path.RawPath{Status: st})
	}
	for _, st := range statuses {
		assert.Equal(t, path.TranslateStatus(st), rec.next(t).Status)
	}
}

func TestMonitor_SlowObserverDoesNotBlockOthers(t *testing.T) {
	m, w := newStartedMonitor(t)
	exec := runtime.NewSerial()
	defer exec.Close()

	release := make(chan struct{})
	m.Subscribe(exec, func(path.Snapshot) { <-release })
	defer close(release)

	rec := newRecorder()
	m.Subscribe(runtime.Inline, rec.observe)

	w.Send(t, wifiPath())
	w.Send(t, path.RawPath{Status: path.RawUnsatisfied})

	rec.next(t)
	rec.next(t)
}

func TestMonitor_NoDeliveryAfterUnsubscribeReturns(t *testing.T) {
	m, w := newStartedMonitor(t)
	exec := runtime.NewSerial()
	defer exec.Close()

	var unsubscribed atomic.Bool
	var late atomic.Int32
	sub := m.Subscribe(exec, func(path.Snapshot) {
		if unsubscribed.Load() {
			late.Add(1)
		}
		time.Sleep(time.Millisecond)
	})

	for i := 0; i < 20; i++ {
		w.Send(t, path.RawPath{Status: path.RawSatisfied})
	}
	sub.Unsubscribe()
	unsubscribed.Store(true)
	for i := 0; i < 20; i++ {
		w.Send(t, path.RawPath{Status: path.RawUnsatisfied})
	}

	// Let the executor work through everything still queued.
	drained := make(chan struct{})
	exec.Execute(func() { close(drained) })
	<-drained

	assert.LessOrEqual(t, late.Load(), int32(1))
}

func TestMonitor_UnsubscribeFromWithinCallback(t *testing.T) {
	m, w := newStartedMonitor(t)
	rec := newRecorder()

	var sub *Subscription
	sub = m.Subscribe(runtime.Inline, func(s path.Snapshot) {
		sub.Unsubscribe()
		rec.observe(s)
	})
	after := newRecorder()
	m.Subscribe(runtime.Inline, after.observe)

	w.Send(t, wifiPath())
	rec.next(t)
	after.next(t)

	w.Send(t, wifiPath())
	after.next(t)
	rec.expectNothing(t)
}

func TestMonitor_SubscriberAddedDuringDelivery(t *testing.T) {
	m, w := newStartedMonitor(t)
	late := newRecorder()

	var once sync.Once
	first := newRecorder()
	m.Subscribe(runtime.Inline, func(s path.Snapshot) {
		once.Do(func() { m.Subscribe(runtime.Inline, late.observe) })
		first.observe(s)
	})

	w.Send(t, wifiPath())
	first.next(t)
	late.expectNothing(t)

	w.Send(t, wifiPath())
	first.next(t)
	late.next(t)
}

func TestMonitor_ConcurrentReadsNeverTorn(t *testing.T) {
	m, w := newStartedMonitor(t)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var torn atomic.Int32
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				s := m.CurrentSnapshot()
				allOn := s.SupportsIPv4 && s.SupportsIPv6 && s.SupportsDNS && len(s.Interfaces) == 2
				allOff := !s.SupportsIPv4 && !s.SupportsIPv6 && !s.SupportsDNS && len(s.Interfaces) == 0
				if !allOn && !allOff {
					torn.Add(1)
				}
			}
		}()
	}

	on := path.RawPath{
		Status: path.RawSatisfied, IPv4: true, IPv6: true, DNS: true,
		Interfaces: []path.RawInterface{{Name: "eth0", Kind: path.KindEther}, {Name: "wlan0", Kind: path.KindWiFi}},
	}
	off := path.RawPath{Status: path.RawUnsatisfied}
	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			w.Send(t, on)
		} else {
			w.Send(t, off)
		}
	}
	cancel()
	wg.Wait()

	assert.Equal(t, int32(0), torn.Load())
}

func TestMonitor_WatcherFailure(t *testing.T) {
	exec := runtime.NewSerial()
	defer exec.Close()

	errs := make(chan error, 2)
	m, w := newStartedMonitor(t, WithErrorHandler(exec, func(err error) { errs <- err }))
	rec := newRecorder()
	m.Subscribe(runtime.Inline, rec.observe)

	w.Send(t, wifiPath())
	rec.next(t)

	cause := errors.New("operation not permitted")
	w.Fail(t, cause)

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrMonitoringUnavailable)
		assert.ErrorIs(t, err, cause)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for error handler")
	}

	select {
	case <-m.Failed():
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for failure signal")
	}

	assert.ErrorIs(t, m.Err(), ErrMonitoringUnavailable)
	assert.Equal(t, path.Satisfied, m.CurrentSnapshot().Status, "snapshot stays frozen")

	// Delivered once only.
	select {
	case err := <-errs:
		t.Fatalf("unexpected second error: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	assert.NoError(t, m.Start())
	assert.NoError(t, m.Stop())
	assert.ErrorIs(t, m.Err(), ErrMonitoringUnavailable)
}

func TestMonitor_WatcherStreamEnds(t *testing.T) {
	errs := make(chan error, 1)
	w := WatchFunc(func(ctx context.Context, emit func(path.RawPath)) error {
		emit(wifiPath())
		return nil
	})
	m := NewMonitor(w, WithErrorHandler(nil, func(err error) { errs <- err }))
	require.NoError(t, m.Start())
	defer m.Stop()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrMonitoringUnavailable)
		assert.ErrorIs(t, err, errStreamEnded)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for error")
	}
	assert.Equal(t, path.Satisfied, m.CurrentSnapshot().Status)
}

func TestMonitor_StopIsNotAFailure(t *testing.T) {
	var called atomic.Bool
	m, _ := newStartedMonitor(t, WithErrorHandler(nil, func(error) { called.Store(true) }))

	require.NoError(t, m.Stop())

	assert.False(t, called.Load())
	assert.NoError(t, m.Err())
}

func TestMonitor_Updates(t *testing.T) {
	m, w := newStartedMonitor(t)

	ch, unsub := m.Updates()

	select {
	case s := <-ch:
		assert.True(t, path.DefaultSnapshot().Equal(s))
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for initial snapshot")
	}

	w.Send(t, wifiPath())
	select {
	case s := <-ch:
		assert.Equal(t, path.Satisfied, s.Status)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for live snapshot")
	}

	unsub()
	unsub()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}

func TestMonitor_UpdatesStartWithCurrent(t *testing.T) {
	m, w := newStartedMonitor(t)
	rec := newRecorder()
	m.Subscribe(runtime.Inline, rec.observe)

	w.Send(t, wifiPath())
	rec.next(t)

	ch, unsub := m.Updates()
	defer unsub()

	select {
	case s := <-ch:
		assert.Equal(t, path.Satisfied, s.Status)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for initial snapshot")
	}
}

func TestMonitor_UpdatesOpenedDuringChangesHaveNoGaps(t *testing.T) {
	const total = 50
	m, w := newStartedMonitor(t)

	index := func(s path.Snapshot) int {
		if len(s.Interfaces) == 0 {
			return -1
		}
		n, _ := strconv.Atoi(strings.TrimPrefix(s.Interfaces[0].Name, "en"))
		return n
	}

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func(delay time.Duration) {
			defer wg.Done()
			time.Sleep(delay)
			ch, unsub := m.Updates()
			defer unsub()

			prev := index(<-ch)
			for prev < total-1 {
				select {
				case s := <-ch:
					cur := index(s)
					assert.Equal(t, prev+1, cur, "feed skipped or repeated a change")
					prev = cur
				case <-time.After(2 * time.Second):
					t.Errorf("timeout after en%d", prev)
					return
				}
			}
		}(time.Duration(r) * time.Millisecond)
	}

	for i := 0; i < total; i++ {
		w.Send(t, path.RawPath{
			Status:     path.RawSatisfied,
			IPv4:       true,
			Interfaces: []path.RawInterface{{Name: fmt.Sprintf("en%d", i), Kind: path.KindEther}},
		})
	}
	wg.Wait()
}

func TestMonitor_UpdatesClosedByStop(t *testing.T) {
	m, w := newStartedMonitor(t)
	ch, _ := m.Updates()
	<-ch

	w.Send(t, wifiPath())
	require.NoError(t, m.Stop())

	// The pending change is still delivered before the close.
	select {
	case s, ok := <-ch:
		require.True(t, ok)
		assert.Equal(t, path.Satisfied, s.Status)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for pending snapshot")
	}

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after stop")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}

func TestMonitor_UpdatesAfterStop(t *testing.T) {
	m, _ := newStartedMonitor(t)
	require.NoError(t, m.Stop())

	ch, unsub := m.Updates()
	defer unsub()

	<-ch
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}

func TestMonitor_UnsubscribeUnreadUpdates(t *testing.T) {
	m, w := newStartedMonitor(t)
	ch, unsub := m.Updates()

	// Fill the buffer and leave the feed blocked on a send.
	for i := 0; i < 12; i++ {
		w.Send(t, path.RawPath{Status: path.RawSatisfied})
	}

	unsub()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for channel close")
		}
	}
}

func TestMonitor_Run(t *testing.T) {
	w := newFakeWatcher()
	m := NewMonitor(w)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	assert.Eventually(t, func() bool { return w.watches.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for Run to return")
	}
	assert.ErrorIs(t, m.Start(), ErrAlreadyDisposed)
}

func TestMonitor_RunReportsFailure(t *testing.T) {
	w := WatchFunc(func(ctx context.Context, emit func(path.RawPath)) error {
		return errors.New("no netlink")
	})
	m := NewMonitor(w)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case <-m.Failed():
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for failure")
	}
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrMonitoringUnavailable)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for Run to return")
	}
}

func TestMonitor_RunAfterStop(t *testing.T) {
	m := NewMonitor(newFakeWatcher())
	require.NoError(t, m.Stop())

	assert.ErrorIs(t, m.Run(context.Background()), ErrAlreadyDisposed)
}

func TestSubscription_IDsAreUnique(t *testing.T) {
	m := NewMonitor(newFakeWatcher())
	a := m.Subscribe(nil, func(path.Snapshot) {})
	b := m.Subscribe(nil, func(path.Snapshot) {})

	assert.NotEqual(t, a.ID(), b.ID())
}
