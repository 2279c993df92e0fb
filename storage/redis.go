package storage

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	maxTxAttempts        = 50
	defaultResyncSeconds = 30
)

var errTxContention = errors.New("too many concurrent writers")

// RedisStore keeps every document as a JSON string and announces committed
// changes on a per-document channel.
type RedisStore struct {
	*treeStore
	client *redis.Client
}

// NewRedisStore creates a store on top of client.
func NewRedisStore(client *redis.Client, logger *log.Logger) *RedisStore {
	if logger == nil {
		logger = log.StandardLogger()
	}
	s := &RedisStore{client: client}
	s.treeStore = &treeStore{
		b:      s,
		log:    logger.WithField("component", "redis-store"),
		resync: defaultResyncSeconds * time.Second,
	}
	return s
}

func documentKey(doc string) string {
	return "tree:" + doc
}

func changesChannel(doc string) string {
	return "tree:" + doc + ":changes"
}

func (s *RedisStore) load(ctx context.Context, doc string) ([]byte, error) {
	data, err := s.client.Get(ctx, documentKey(doc)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get %s: %w", doc, err)
	}
	return data, nil
}

func (s *RedisStore) commit(ctx context.Context, doc string, changed []string, fn func(current []byte) ([]byte, error)) error {
	key := documentKey(doc)
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, key).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			next, err := fn(current)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if next == nil {
					pipe.Del(ctx, key)
				} else {
					pipe.Set(ctx, key, next, 0)
				}
				pipe.Publish(ctx, changesChannel(doc), strings.Join(changed, "/"))
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			backoff := time.Duration(rand.Intn(attempt+2)) * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("redis: commit %s: %w", strings.Join(changed, "/"), err)
		}
		return nil
	}
	return fmt.Errorf("redis: commit %s: %w", strings.Join(changed, "/"), errTxContention)
}

func (s *RedisStore) watch(ctx context.Context, doc string, notify func(changed []string)) (func(), error) {
	channel := changesChannel(doc)
	sub := s.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ch := sub.Channel()
		for {
			select {
			case <-watchCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				segs, err := splitPath(msg.Payload)
				if err != nil {
					s.log.WithError(err).WithField("channel", channel).Warn("ignoring malformed change notification")
					notify(nil)
					continue
				}
				notify(segs)
			}
		}
	}()

	return func() {
		cancel()
		_ = sub.Close()
		<-done
	}, nil
}
