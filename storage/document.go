package storage

import (
	"bytes"
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// backend persists whole documents and reports committed changes.
type backend interface {
	load(ctx context.Context, doc string) ([]byte, error)
	// commit atomically replaces doc with the result of fn and notifies the
	// watchers of doc that changed was written. fn may run more than once.
	commit(ctx context.Context, doc string, changed []string, fn func(current []byte) ([]byte, error)) error
	// watch calls notify with the changed path after every commit to doc.
	// The watch is active when watch returns.
	watch(ctx context.Context, doc string, notify func(changed []string)) (stop func(), err error)
}

// treeStore implements the path-addressed operations on top of a backend.
type treeStore struct {
	b      backend
	log    *log.Entry
	resync time.Duration
}

// Get returns the encoded value at path, or nil when nothing is stored there.
func (t *treeStore) Get(ctx context.Context, path string) ([]byte, error) {
	ref, err := resolve(path)
	if err != nil {
		return nil, err
	}
	doc, err := t.b.load(ctx, ref.doc)
	if err != nil {
		return nil, err
	}
	return valueAt(doc, ref.inner)
}

// SetSubtree replaces the whole value at path.
func (t *treeStore) SetSubtree(ctx context.Context, path string, value any) error {
	ref, err := resolve(path)
	if err != nil {
		return err
	}
	v, err := toTree(value)
	if err != nil {
		return err
	}
	data, err := encodeTree(v)
	if err != nil {
		return err
	}
	return t.b.commit(ctx, ref.doc, ref.path, func(current []byte) ([]byte, error) {
		return mutateDocument(current, func(root any) (any, error) {
			// Decoded per attempt: the tree is mutated in place by later writes.
			fresh, err := decodeTree(data)
			if err != nil {
				return nil, err
			}
			if fresh == nil {
				return deleteAt(root, ref.inner), nil
			}
			return setAt(root, ref.inner, fresh), nil
		})
	})
}

// MergeFields applies fields to the object at path, leaving sibling keys
// untouched. Keys may be relative paths and nil values delete.
func (t *treeStore) MergeFields(ctx context.Context, path string, fields map[string]any, opts ...WriteOption) error {
	ref, err := resolve(path)
	if err != nil {
		return err
	}
	o := collectOptions(opts)
	return t.b.commit(ctx, ref.doc, ref.path, func(current []byte) ([]byte, error) {
		return mutateDocument(current, func(root any) (any, error) {
			return mergeAt(root, ref.inner, fields, o)
		})
	})
}

// Delete removes the value at path.
func (t *treeStore) Delete(ctx context.Context, path string) error {
	ref, err := resolve(path)
	if err != nil {
		return err
	}
	return t.b.commit(ctx, ref.doc, ref.path, func(current []byte) ([]byte, error) {
		return mutateDocument(current, func(root any) (any, error) {
			return deleteAt(root, ref.inner), nil
		})
	})
}

// Update atomically replaces the value at path with fn's result. fn receives
// the encoded current value (nil when absent) and may be called again when a
// concurrent writer wins; a nil result deletes the value.
func (t *treeStore) Update(ctx context.Context, path string, fn func(current []byte) (any, error)) error {
	ref, err := resolve(path)
	if err != nil {
		return err
	}
	return t.b.commit(ctx, ref.doc, ref.path, func(current []byte) ([]byte, error) {
		return mutateDocument(current, func(root any) (any, error) {
			cur, _ := getAt(root, ref.inner)
			enc, err := encodeTree(cur)
			if err != nil {
				return nil, err
			}
			next, err := fn(enc)
			if err != nil {
				return nil, err
			}
			v, err := toTree(next)
			if err != nil {
				return nil, err
			}
			if v == nil {
				return deleteAt(root, ref.inner), nil
			}
			return setAt(root, ref.inner, v), nil
		})
	})
}

// Subscribe calls fn with the value at path right away and again whenever a
// write under or above path changes it. The returned function cancels the
// subscription; no call to fn starts after it returns. fn must not cancel
// the subscription itself.
func (t *treeStore) Subscribe(ctx context.Context, path string, fn func([]byte)) (func(), error) {
	ref, err := resolve(path)
	if err != nil {
		return nil, err
	}

	wake := make(chan struct{}, 1)
	stop, err := t.b.watch(ctx, ref.doc, func(changed []string) {
		if changed != nil && !overlaps(changed, ref.path) {
			return
		}
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return nil, err
	}

	sub := &subscription{fn: fn}
	initial, err := t.Get(ctx, path)
	if err != nil {
		stop()
		return nil, err
	}
	sub.deliver(initial)

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		var resync <-chan time.Time
		if t.resync > 0 {
			ticker := time.NewTicker(t.resync)
			defer ticker.Stop()
			resync = ticker.C
		}
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-wake:
			case <-resync:
			}
			val, err := t.Get(loopCtx, path)
			if err != nil {
				if loopCtx.Err() != nil {
					return
				}
				t.log.WithError(err).WithField("path", ref.String()).Warn("subscription read failed")
				continue
			}
			sub.deliver(val)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.close()
			cancel()
			stop()
			<-done
		})
	}, nil
}

// subscription drops repeated deliveries of an unchanged value.
type subscription struct {
	mu        sync.Mutex
	fn        func([]byte)
	last      []byte
	delivered bool
	closed    bool
}

func (s *subscription) deliver(v []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.delivered && bytes.Equal(s.last, v) {
		return
	}
	s.delivered = true
	s.last = v
	s.fn(v)
}

func (s *subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
