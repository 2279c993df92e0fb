package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
)

// LocalStore is the fallback used when no Redis is configured. Each document
// is kept in memory and, when dir is set, persisted to one file per document.
// Subscribers in the same process are notified of every commit, including
// the writer's own.
type LocalStore struct {
	*treeStore
	dir string

	mu     sync.Mutex
	docs   map[string][]byte
	broker *changeBroker
}

// NewLocalStore creates a store persisting into dir. An empty dir keeps
// documents in memory only.
func NewLocalStore(dir string, logger *log.Logger) (*LocalStore, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("local store: %w", err)
		}
	}
	s := &LocalStore{
		dir:    dir,
		docs:   map[string][]byte{},
		broker: newChangeBroker(),
	}
	s.treeStore = &treeStore{b: s, log: logger.WithField("component", "local-store")}
	return s, nil
}

func (s *LocalStore) load(_ context.Context, doc string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(doc)
}

func (s *LocalStore) loadLocked(doc string) ([]byte, error) {
	if data, ok := s.docs[doc]; ok {
		return data, nil
	}
	if s.dir == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.file(doc))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("local store: read %s: %w", doc, err)
	}
	s.docs[doc] = data
	return data, nil
}

func (s *LocalStore) commit(ctx context.Context, doc string, changed []string, fn func(current []byte) ([]byte, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	current, err := s.loadLocked(doc)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	next, err := fn(current)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.persist(doc, next); err != nil {
		s.mu.Unlock()
		return err
	}
	if next == nil {
		delete(s.docs, doc)
	} else {
		s.docs[doc] = next
	}
	s.mu.Unlock()

	s.broker.publish(doc, changed)
	return nil
}

func (s *LocalStore) watch(_ context.Context, doc string, notify func(changed []string)) (func(), error) {
	id := s.broker.subscribe(doc, notify)
	return func() { s.broker.unsubscribe(doc, id) }, nil
}

func (s *LocalStore) file(doc string) string {
	return filepath.Join(s.dir, url.PathEscape(doc)+".json")
}

func (s *LocalStore) persist(doc string, data []byte) error {
	if s.dir == "" {
		return nil
	}
	path := s.file(doc)
	if data == nil {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("local store: remove %s: %w", doc, err)
		}
		return nil
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("local store: write %s: %w", doc, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("local store: write %s: %w", doc, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("local store: sync %s: %w", doc, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("local store: write %s: %w", doc, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("local store: rename %s: %w", doc, err)
	}
	return nil
}

// changeBroker fans commit notifications out to in-process watchers.
type changeBroker struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]func([]string)
}

func newChangeBroker() *changeBroker {
	return &changeBroker{subs: make(map[string]map[int]func([]string))}
}

func (b *changeBroker) subscribe(doc string, notify func([]string)) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	if b.subs[doc] == nil {
		b.subs[doc] = make(map[int]func([]string))
	}
	b.subs[doc][b.nextID] = notify
	return b.nextID
}

func (b *changeBroker) unsubscribe(doc string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[doc], id)
	if len(b.subs[doc]) == 0 {
		delete(b.subs, doc)
	}
}

func (b *changeBroker) publish(doc string, changed []string) {
	b.mu.Lock()
	targets := make([]func([]string), 0, len(b.subs[doc]))
	for _, fn := range b.subs[doc] {
		targets = append(targets, fn)
	}
	b.mu.Unlock()
	for _, fn := range targets {
		fn(changed)
	}
}
