package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"retro-sync/board"
	"retro-sync/domain"
)

// DefaultLease is how long a presence entry stays valid without a heartbeat.
const DefaultLease = 30 * time.Second

// recentLimit caps the member history consulted for the offline list.
const recentLimit = 100

// Remote is the part of the tree store presence needs.
type Remote interface {
	Update(ctx context.Context, path string, fn func(current []byte) (any, error)) error
}

// History remembers when members were last seen on a board.
type History interface {
	Touch(ctx context.Context, boardID string, m domain.Member) error
	Recent(ctx context.Context, boardID string, limit int) ([]domain.Member, error)
}

// Tracker keeps one participant's entry in a board's online set alive. The
// entry carries a lease that the tracker renews every lease/3; entries whose
// lease ran out are removed by whichever tracker writes next.
type Tracker struct {
	boardID string
	user    domain.Identity
	remote  Remote
	history History
	lease   time.Duration
	log     *log.Entry
	now     func() time.Time

	mu       sync.Mutex
	joinedAt int64
	cancel   context.CancelFunc
	done     chan struct{}
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker for user on board boardID. A zero lease uses
// DefaultLease.
func NewTracker(boardID string, user domain.Identity, remote Remote, history History, lease time.Duration, logger *log.Logger, opts ...Option) *Tracker {
	if lease <= 0 {
		lease = DefaultLease
	}
	t := &Tracker{
		boardID: boardID,
		user:    user,
		remote:  remote,
		history: history,
		lease:   lease,
		log:     logger.WithFields(log.Fields{"board": boardID, "user": user.ID}),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Lease returns the lease duration.
func (t *Tracker) Lease() time.Duration { return t.lease }

// Activate writes the user's entry and starts the heartbeat. A reconnecting
// user overwrites their previous entry.
func (t *Tracker) Activate(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return nil
	}

	now := t.now().UnixMilli()
	err := t.write(ctx, func(users map[string]any, now int64) {
		users[t.user.ID] = domain.Presence{
			ID:        t.user.ID,
			Name:      t.user.Name,
			JoinedAt:  now,
			LastSeen:  now,
			ExpiresAt: now + t.lease.Milliseconds(),
		}
	})
	if err != nil {
		return err
	}
	t.joinedAt = now
	t.touch(ctx, now)

	hbCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.heartbeat(hbCtx, t.done)
	return nil
}

// Deactivate stops the heartbeat and removes the user's entry.
func (t *Tracker) Deactivate(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel == nil {
		return nil
	}
	t.cancel()
	<-t.done
	t.cancel = nil

	err := t.write(ctx, func(users map[string]any, _ int64) {
		delete(users, t.user.ID)
	})
	t.touch(ctx, t.now().UnixMilli())
	if errors.Is(err, domain.ErrBoardNotFound) {
		return nil
	}
	return err
}

func (t *Tracker) heartbeat(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(max(t.lease/3, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := t.renew(ctx); err != nil && ctx.Err() == nil {
			t.log.WithError(err).Warn("presence heartbeat failed")
		}
	}
}

func (t *Tracker) renew(ctx context.Context) error {
	now := t.now().UnixMilli()
	err := t.write(ctx, func(users map[string]any, now int64) {
		users[t.user.ID] = domain.Presence{
			ID:        t.user.ID,
			Name:      t.user.Name,
			JoinedAt:  t.joinedAt,
			LastSeen:  now,
			ExpiresAt: now + t.lease.Milliseconds(),
		}
	})
	t.touch(ctx, now)
	return err
}

func (t *Tracker) touch(ctx context.Context, now int64) {
	if t.history == nil {
		return
	}
	m := domain.Member{ID: t.user.ID, Name: t.user.Name, LastSeen: now}
	if err := t.history.Touch(ctx, t.boardID, m); err != nil {
		t.log.WithError(err).Warn("presence history update failed")
	}
}

// write applies fn to the board's online set and drops expired entries in
// the same atomic update.
func (t *Tracker) write(ctx context.Context, fn func(users map[string]any, now int64)) error {
	err := t.remote.Update(ctx, board.Path(t.boardID), func(current []byte) (any, error) {
		if current == nil {
			return nil, domain.ErrBoardNotFound
		}
		var doc map[string]any
		if err := sonic.Unmarshal(current, &doc); err != nil {
			return nil, err
		}
		now := t.now().UnixMilli()
		users, _ := doc["onlineUsers"].(map[string]any)
		if users == nil {
			users = map[string]any{}
		}
		fn(users, now)
		for id, v := range users {
			if p, ok := presenceOf(v); ok && p.Expired(now, t.lease) {
				delete(users, id)
				t.log.WithField("expired", id).Debug("reaped presence")
			}
		}
		if len(users) == 0 {
			delete(doc, "onlineUsers")
		} else {
			doc["onlineUsers"] = users
		}
		return doc, nil
	})
	if err != nil {
		return fmt.Errorf("presence: %w", err)
	}
	return nil
}

func presenceOf(v any) (domain.Presence, bool) {
	switch p := v.(type) {
	case domain.Presence:
		return p, true
	case map[string]any:
		out := domain.Presence{}
		out.ID, _ = p["id"].(string)
		out.Name, _ = p["name"].(string)
		out.JoinedAt = millis(p["joinedAt"])
		out.LastSeen = millis(p["lastSeen"])
		out.ExpiresAt = millis(p["expiresAt"])
		return out, true
	}
	return domain.Presence{}, false
}

func millis(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}

// Online returns the participants of b whose lease is still valid.
func (t *Tracker) Online(b domain.Board) []domain.Presence {
	return b.OnlineUsers.Online(t.now().UnixMilli(), t.lease)
}

// Offline returns members seen on the board before who are not online now,
// most recent first.
func (t *Tracker) Offline(ctx context.Context, b domain.Board) ([]domain.Member, error) {
	if t.history == nil {
		return []domain.Member{}, nil
	}
	known, err := t.history.Recent(ctx, t.boardID, recentLimit)
	if err != nil {
		return nil, err
	}
	return domain.Offline(known, t.Online(b)), nil
}
