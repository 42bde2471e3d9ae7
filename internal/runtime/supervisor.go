package runtime

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

type worker struct {
	name   string
	run    func(context.Context) error
	closeF func() error
}

// Supervisor runs long-lived workers and tears them down in reverse order of
// registration.
type Supervisor struct {
	mu      sync.Mutex
	workers []worker
	started bool
	wg      sync.WaitGroup
	errOnce sync.Once
	err     error
}

func NewSupervisor() *Supervisor {
	return &Supervisor{}
}

// Add registers a worker. Workers added after Start are not run.
func (s *Supervisor) Add(name string, run func(context.Context) error, closeF func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		log.WithField("worker", name).Warn("Ignoring worker added after supervisor start")
		return
	}
	s.workers = append(s.workers, worker{name: name, run: run, closeF: closeF})
}

func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	for _, w := range s.workers {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			log.WithField("worker", w.name).Debug("Worker starting")
			if err := w.run(ctx); err != nil {
				log.WithField("worker", w.name).WithError(err).Error("Worker exited with error")
				s.errOnce.Do(func() { s.err = err })
				return
			}
			log.WithField("worker", w.name).Debug("Worker exited")
		}()
	}
	return nil
}

// Wait blocks until ctx is done, closes every worker in reverse order and
// returns the first worker error.
func (s *Supervisor) Wait(ctx context.Context) error {
	<-ctx.Done()

	s.mu.Lock()
	workers := s.workers
	s.mu.Unlock()

	for i := len(workers) - 1; i >= 0; i-- {
		w := workers[i]
		if w.closeF == nil {
			continue
		}
		if err := w.closeF(); err != nil {
			log.WithField("worker", w.name).WithError(err).Warn("Worker close failed")
		}
	}
	s.wg.Wait()
	return s.err
}
