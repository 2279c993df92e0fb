package board

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"retro-sync/domain"
	"retro-sync/storage"
)

// Store is the live replica of one board for one participant. Commands
// change the replica right away and queue the matching remote write; every
// snapshot received from the remote store replaces the replica.
type Store struct {
	id     string
	user   domain.Identity
	remote Remote
	log    *log.Entry
	now    func() time.Time
	prop   *propagator

	keepActivePolls bool

	mu      sync.RWMutex
	board   domain.Board
	version uint64
	loaded  bool
	dirty   bool
	last    []byte
	unsub   func()
	pending map[string]*pendingRevision

	lmu       sync.Mutex
	nextID    int
	onChange  map[int]func(domain.Board)
	onError   map[int]func(error)
	closeOnce sync.Once

	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	emitted uint64
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithKeepActivePolls makes CreatePoll leave earlier active polls open.
func WithKeepActivePolls() Option {
	return func(s *Store) { s.keepActivePolls = true }
}

// WithPropagation sets the write queue configuration.
func WithPropagation(cfg PropagationConfig) Option {
	return func(s *Store) { s.prop = newPropagator(cfg, s.log) }
}

// New creates the replica of board id acting as user. It serves the default
// board until Activate delivers the first snapshot.
func New(id string, user domain.Identity, remote Remote, logger *log.Logger, opts ...Option) *Store {
	if logger == nil {
		panic("board.New: logger is nil")
	}
	s := &Store{
		id:       id,
		user:     user,
		remote:   remote,
		log:      logger.WithFields(log.Fields{"board": id, "user": user.ID}),
		now:      time.Now,
		board:    domain.DefaultBoard(id),
		pending:  map[string]*pendingRevision{},
		onChange: map[int]func(domain.Board){},
		onError:  map[int]func(error){},
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.prop == nil {
		s.prop = newPropagator(DefaultPropagation(), s.log)
	}
	go s.notifier()
	return s
}

// ID returns the board id.
func (s *Store) ID() string { return s.id }

// User returns the identity commands are issued as.
func (s *Store) User() domain.Identity { return s.user }

// Activate subscribes to the board document. The current value is applied
// before Activate returns.
func (s *Store) Activate(ctx context.Context) error {
	unsub, err := s.remote.Subscribe(ctx, Path(s.id), s.applySnapshot)
	if err != nil {
		return fmt.Errorf("board: subscribe %s: %w", s.id, err)
	}
	s.mu.Lock()
	s.unsub = unsub
	s.mu.Unlock()
	return nil
}

// Close unsubscribes, waits up to drain for queued writes and stops
// listener delivery. It must not be called from a listener.
func (s *Store) Close(drain time.Duration) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		unsub := s.unsub
		s.unsub = nil
		s.mu.Unlock()
		if unsub != nil {
			unsub()
		}
		if !s.prop.close(drain) {
			s.log.Warn("closed with writes still in flight")
		}
		close(s.stop)
		<-s.done
	})
}

// Flush waits until every write queued so far has reached the remote store.
func (s *Store) Flush(ctx context.Context) error {
	return s.prop.flush(ctx)
}

// OnChange registers fn for replica changes. fn runs on a single delivery
// goroutine and receives its own copy of the board. Intermediate states may
// be skipped when changes arrive faster than fn returns.
func (s *Store) OnChange(fn func(domain.Board)) (cancel func()) {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.onChange[id] = fn
	s.lmu.Unlock()
	return func() {
		s.lmu.Lock()
		delete(s.onChange, id)
		s.lmu.Unlock()
	}
}

// OnError registers fn for failed writes that the participant should hear
// about: conflicts and destructive failures.
func (s *Store) OnError(fn func(error)) (cancel func()) {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.onError[id] = fn
	s.lmu.Unlock()
	return func() {
		s.lmu.Lock()
		delete(s.onError, id)
		s.lmu.Unlock()
	}
}

// Snapshot returns a copy of the replica.
func (s *Store) Snapshot() domain.Board {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.board.Clone()
}

// Loaded reports whether a board document has been received.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// IsAdmin reports whether the store's user created the board.
func (s *Store) IsAdmin() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isAdminLocked()
}

func (s *Store) isAdminLocked() bool {
	return s.board.AdminID != "" && s.board.AdminID == s.user.ID
}

// Reload replaces the replica with the value currently stored remotely.
func (s *Store) Reload(ctx context.Context) error {
	data, err := s.remote.Get(ctx, Path(s.id))
	if err != nil {
		return fmt.Errorf("board: reload %s: %w", s.id, err)
	}
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
	s.applySnapshot(data)
	return nil
}

func (s *Store) applySnapshot(data []byte) {
	next := domain.DefaultBoard(s.id)
	if data != nil {
		var b domain.Board
		if err := sonic.Unmarshal(data, &b); err != nil {
			s.log.WithError(err).Error("undecodable board snapshot")
			return
		}
		if b.ID == "" {
			b.ID = s.id
		}
		b.Normalize()
		next = b
	}

	s.mu.Lock()
	if !s.dirty && s.loaded == (data != nil) && bytes.Equal(s.last, data) {
		s.mu.Unlock()
		return
	}
	s.board = next
	s.last = bytes.Clone(data)
	s.loaded = data != nil
	s.dirty = false
	s.version++
	s.mu.Unlock()
	s.signal()
}

func (s *Store) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Store) notifier() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
		}

		s.mu.RLock()
		version := s.version
		b := s.board.Clone()
		s.mu.RUnlock()

		if version == s.emitted {
			continue
		}
		s.emitted = version

		s.lmu.Lock()
		listeners := make([]func(domain.Board), 0, len(s.onChange))
		for _, fn := range s.onChange {
			listeners = append(listeners, fn)
		}
		s.lmu.Unlock()

		for _, fn := range listeners {
			fn(b.Clone())
		}
	}
}

func (s *Store) publishError(err error) {
	s.lmu.Lock()
	listeners := make([]func(error), 0, len(s.onError))
	for _, fn := range s.onError {
		listeners = append(listeners, fn)
	}
	s.lmu.Unlock()
	for _, fn := range listeners {
		fn(err)
	}
}

// WriteError reports a remote write that failed after its command had
// already been applied locally.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// operation describes a command for authorization and failure handling.
type operation struct {
	name        string
	admin       bool
	destructive bool
}

// write sends one command's changes to the remote store.
type write func(ctx context.Context, r Remote) error

// commit applies fn to the replica under the write lock. A nil write means
// the command changed nothing.
func (s *Store) commit(op operation, fn func(b *domain.Board) (write, error)) error {
	s.mu.Lock()
	if op.admin && !s.isAdminLocked() {
		s.mu.Unlock()
		s.log.WithField("op", op.name).Warn("admin command rejected")
		return domain.ErrPermissionDenied
	}
	w, err := fn(&s.board)
	if err != nil || w == nil {
		s.mu.Unlock()
		return err
	}
	s.version++
	s.dirty = true
	s.mu.Unlock()
	s.signal()

	s.prop.submit(job{
		op: op.name,
		run: func(ctx context.Context) error {
			return w(ctx, s.remote)
		},
		done: func(err error) {
			if err != nil {
				s.writeFailed(op, err)
			}
		},
	})
	return nil
}

func (s *Store) writeFailed(op operation, err error) {
	entry := s.log.WithField("op", op.name).WithError(err)
	werr := &WriteError{Op: op.name, Err: err}
	switch {
	case errors.Is(err, domain.ErrConflictDetected):
		entry.Warn("write lost to a concurrent change")
	case op.destructive:
		entry.Error("destructive write failed, reloading")
	default:
		entry.Warn("write failed")
		return
	}
	s.publishError(werr)

	ctx, cancel := context.WithTimeout(context.Background(), s.prop.cfg.Timeout)
	defer cancel()
	if rerr := s.Reload(ctx); rerr != nil {
		s.log.WithError(rerr).Error("reload after failed write")
	}
}

// pendingRevision tracks the conditional writes of one entity that this
// replica has queued but not yet seen complete.
type pendingRevision struct {
	next     int64
	inflight int
}

// conditionalMergeLocked builds a merge on path that expects the entity at
// key to be at revision seen, or at the revision this replica's in-flight
// writes of key will leave behind. It returns the revision the write
// produces.
func (s *Store) conditionalMergeLocked(key, path string, seen int64, fields map[string]any) (write, int64) {
	p, ok := s.pending[key]
	if !ok {
		p = &pendingRevision{next: seen}
		s.pending[key] = p
	}
	base := p.next
	p.next++
	p.inflight++
	return func(ctx context.Context, r Remote) error {
		err := r.MergeFields(ctx, path, fields, storage.IfRevision(base))
		s.settleRevision(key, p, err)
		return err
	}, base + 1
}

func (s *Store) settleRevision(key string, p *pendingRevision, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[key] != p {
		return
	}
	p.inflight--
	if err != nil || p.inflight <= 0 {
		delete(s.pending, key)
	}
}

func (s *Store) merge(path string, fields map[string]any, opts ...storage.WriteOption) write {
	return func(ctx context.Context, r Remote) error {
		return r.MergeFields(ctx, path, fields, opts...)
	}
}

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}
