package runtime

// Executor runs functions on some execution context.
type Executor interface {
	Execute(fn func())
}

type inline struct{}

func (inline) Execute(fn func()) { fn() }

// Inline runs each function immediately on the calling goroutine.
var Inline Executor = inline{}

// Serial runs functions one at a time, in submission order, on a goroutine
// it owns.
type Serial struct {
	q *Queue[func()]
}

func NewSerial() *Serial {
	return &Serial{q: NewQueue(func(fn func()) { fn() }, nil)}
}

// NewSerialWithExit is NewSerial with a hook that runs on the serial
// goroutine after Close, once the last function has returned.
func NewSerialWithExit(onExit func()) *Serial {
	return &Serial{q: NewQueue(func(fn func()) { fn() }, onExit)}
}

// Execute queues fn. Functions submitted after Close are discarded.
func (s *Serial) Execute(fn func()) {
	s.q.Enqueue(fn)
}

// Close stops the executor, dropping queued functions. It may be called
// from a function running on the executor.
func (s *Serial) Close() { s.q.Close() }

// Done is closed when the executor goroutine has exited.
func (s *Serial) Done() <-chan struct{} { return s.q.Done() }

// SetPaused holds queued functions until the executor is resumed.
func (s *Serial) SetPaused(v bool) { s.q.SetPaused(v) }
