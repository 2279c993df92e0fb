package board

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// PropagationConfig tunes the queue that carries a replica's writes to the
// remote store.
type PropagationConfig struct {
	// Buffer is the number of writes that may wait for the remote store.
	Buffer int
	// Timeout bounds a single remote write.
	Timeout time.Duration
	// HandoffTimeout is how long a command waits for queue space before a
	// saturation warning is logged. The command keeps waiting afterwards.
	HandoffTimeout time.Duration
}

// DefaultPropagation is used when no configuration is given.
func DefaultPropagation() PropagationConfig {
	return PropagationConfig{Buffer: 256, Timeout: 10 * time.Second, HandoffTimeout: 15 * time.Millisecond}
}

func (c PropagationConfig) withDefaults() PropagationConfig {
	def := DefaultPropagation()
	if c.Buffer <= 0 {
		c.Buffer = def.Buffer
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.HandoffTimeout < 0 {
		c.HandoffTimeout = 0
	}
	return c
}

type job struct {
	op   string
	run  func(ctx context.Context) error
	done func(err error)
}

// propagator runs writes one at a time in submission order. When the buffer
// is full the submitter waits for space, so writes never overtake each other.
type propagator struct {
	cfg    PropagationConfig
	jobs   chan job
	log    *log.Entry
	closed atomic.Bool
	wg     sync.WaitGroup
	once   sync.Once
}

func newPropagator(cfg PropagationConfig, logger *log.Entry) *propagator {
	cfg = cfg.withDefaults()
	p := &propagator{cfg: cfg, jobs: make(chan job, cfg.Buffer), log: logger}
	p.wg.Add(1)
	go p.worker()
	return p
}

func (p *propagator) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		p.run(j)
	}
}

func (p *propagator) run(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
	err := j.run(ctx)
	cancel()
	if j.done != nil {
		j.done(err)
	}
}

func (p *propagator) submit(j job) {
	if p.closed.Load() {
		p.log.WithField("op", j.op).Warn("write dropped after close")
		return
	}
	if p.tryEnqueue(j) {
		return
	}
	p.log.WithFields(log.Fields{"op": j.op, "buffer": p.cfg.Buffer}).Warn("propagation queue saturated, waiting for space")
	if closed := sendBlocking(p.jobs, j); closed {
		p.log.WithField("op", j.op).Warn("write dropped after close")
	}
}

func (p *propagator) tryEnqueue(j job) bool {
	if ok, closed := trySendNonBlocking(p.jobs, j); closed {
		return false
	} else if ok {
		return true
	}

	if p.cfg.HandoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(p.cfg.HandoffTimeout)
	defer timer.Stop()

	ok, _ := sendWithTimer(p.jobs, j, timer.C)
	return ok
}

// flush blocks until every write queued before it has run.
func (p *propagator) flush(ctx context.Context) error {
	done := make(chan struct{})
	marker := job{op: "flush", run: func(context.Context) error { return nil }, done: func(error) { close(done) }}
	if p.closed.Load() || !p.tryEnqueue(marker) {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting writes and waits up to timeout for queued ones.
func (p *propagator) close(timeout time.Duration) bool {
	p.once.Do(func() {
		p.closed.Store(true)
		close(p.jobs)
	})
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func trySendNonBlocking(ch chan job, j job) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- j:
		return true, false
	default:
		return false, false
	}
}

func sendBlocking(ch chan job, j job) (closed bool) {
	defer func() {
		if r := recover(); r != nil {
			closed = true
		}
	}()
	ch <- j
	return false
}

func sendWithTimer(ch chan job, j job, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- j:
		return true, false
	case <-timer:
		return false, false
	}
}
