package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"retro-sync/board"
	"retro-sync/domain"
	"retro-sync/storage"
)

var (
	alice = domain.Identity{ID: "u1", Name: "Alice"}
	bob   = domain.Identity{ID: "u2", Name: "Bob"}
)

func nullLogger() *log.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setup(t *testing.T) (*storage.LocalStore, string) {
	t.Helper()
	remote, err := storage.NewLocalStore("", nullLogger())
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	b := domain.NewBoard("b1", "Retro", alice.ID, 0)
	if err := remote.SetSubtree(context.Background(), board.Path(b.ID), b); err != nil {
		t.Fatalf("seed board: %v", err)
	}
	return remote, b.ID
}

func onlineUsers(t *testing.T, remote *storage.LocalStore, boardID string) domain.Members {
	t.Helper()
	data, err := remote.Get(context.Background(), board.Path(boardID, "onlineUsers"))
	if err != nil {
		t.Fatalf("get online users: %v", err)
	}
	users := domain.Members{}
	if data == nil {
		return users
	}
	if err := sonic.Unmarshal(data, &users); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return users
}

func TestActivateWritesLeasedEntry(t *testing.T) {
	remote, id := setup(t)
	clock := &fakeClock{now: time.UnixMilli(10_000)}
	history := NewTreeHistory(remote)
	tr := NewTracker(id, alice, remote, history, time.Minute, nullLogger(), WithClock(clock.Now))

	if err := tr.Activate(context.Background()); err != nil {
		t.Fatalf("activate: %v", err)
	}
	t.Cleanup(func() { _ = tr.Deactivate(context.Background()) })

	p, ok := onlineUsers(t, remote, id)[alice.ID]
	if !ok {
		t.Fatalf("entry missing")
	}
	if p.Name != "Alice" || p.JoinedAt != 10_000 || p.ExpiresAt != 70_000 {
		t.Fatalf("unexpected entry: %#v", p)
	}
	known, err := history.Recent(context.Background(), id, 10)
	if err != nil || len(known) != 1 || known[0].ID != alice.ID {
		t.Fatalf("history not recorded: %v %v", known, err)
	}
}

func TestActivateReapsExpiredEntries(t *testing.T) {
	remote, id := setup(t)
	stale := map[string]any{
		"ghost":  domain.Presence{ID: "ghost", Name: "Ghost", JoinedAt: 0, ExpiresAt: 5_000},
		"legacy": domain.Presence{ID: "legacy", Name: "Old", JoinedAt: 1_000},
		"fresh":  domain.Presence{ID: "fresh", Name: "Fresh", JoinedAt: 9_000, ExpiresAt: 50_000},
	}
	if err := remote.MergeFields(context.Background(), board.Path(id), map[string]any{"onlineUsers": stale}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	clock := &fakeClock{now: time.UnixMilli(40_000)}
	tr := NewTracker(id, bob, remote, nil, 30*time.Second, nullLogger(), WithClock(clock.Now))
	if err := tr.Activate(context.Background()); err != nil {
		t.Fatalf("activate: %v", err)
	}
	t.Cleanup(func() { _ = tr.Deactivate(context.Background()) })

	users := onlineUsers(t, remote, id)
	if _, ok := users["ghost"]; ok {
		t.Fatalf("expired lease not reaped")
	}
	if _, ok := users["legacy"]; ok {
		t.Fatalf("entry without lease not reaped")
	}
	if _, ok := users["fresh"]; !ok {
		t.Fatalf("valid entry reaped")
	}
	if _, ok := users[bob.ID]; !ok {
		t.Fatalf("own entry missing")
	}
}

func TestReconnectOverwritesEntry(t *testing.T) {
	remote, id := setup(t)
	clock := &fakeClock{now: time.UnixMilli(1_000)}
	first := NewTracker(id, alice, remote, nil, time.Minute, nullLogger(), WithClock(clock.Now))
	if err := first.Activate(context.Background()); err != nil {
		t.Fatalf("activate: %v", err)
	}
	clock.Advance(time.Second)
	second := NewTracker(id, alice, remote, nil, time.Minute, nullLogger(), WithClock(clock.Now))
	if err := second.Activate(context.Background()); err != nil {
		t.Fatalf("activate: %v", err)
	}
	t.Cleanup(func() {
		first.cancel()
		_ = second.Deactivate(context.Background())
	})

	users := onlineUsers(t, remote, id)
	if len(users) != 1 || users[alice.ID].JoinedAt != 2_000 {
		t.Fatalf("expected a single overwritten entry, got %#v", users)
	}
}

func TestDeactivateRemovesEntryAndRecordsHistory(t *testing.T) {
	remote, id := setup(t)
	clock := &fakeClock{now: time.UnixMilli(1_000)}
	history := NewTreeHistory(remote)
	a := NewTracker(id, alice, remote, history, time.Minute, nullLogger(), WithClock(clock.Now))
	b := NewTracker(id, bob, remote, history, time.Minute, nullLogger(), WithClock(clock.Now))
	ctx := context.Background()

	if err := a.Activate(ctx); err != nil {
		t.Fatalf("activate a: %v", err)
	}
	if err := b.Activate(ctx); err != nil {
		t.Fatalf("activate b: %v", err)
	}
	clock.Advance(5 * time.Second)
	if err := b.Deactivate(ctx); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := b.Deactivate(ctx); err != nil {
		t.Fatalf("second deactivate: %v", err)
	}
	t.Cleanup(func() { _ = a.Deactivate(ctx) })

	users := onlineUsers(t, remote, id)
	if _, ok := users[bob.ID]; ok {
		t.Fatalf("entry not removed")
	}
	snapshot := domain.Board{OnlineUsers: users}

	online := a.Online(snapshot)
	if len(online) != 1 || online[0].ID != alice.ID {
		t.Fatalf("unexpected online users: %v", online)
	}
	offline, err := a.Offline(ctx, snapshot)
	if err != nil {
		t.Fatalf("offline: %v", err)
	}
	if len(offline) != 1 || offline[0].ID != bob.ID || offline[0].LastSeen != 6_000 {
		t.Fatalf("unexpected offline members: %v", offline)
	}
}

func TestOnlineIgnoresExpiredLeases(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(100_000)}
	tr := NewTracker("b1", alice, nil, nil, 30*time.Second, nullLogger(), WithClock(clock.Now))
	b := domain.Board{OnlineUsers: domain.Members{
		"live": {ID: "live", JoinedAt: 90_000, ExpiresAt: 120_000},
		"dead": {ID: "dead", JoinedAt: 10_000, ExpiresAt: 40_000},
	}}

	online := tr.Online(b)
	if len(online) != 1 || online[0].ID != "live" {
		t.Fatalf("unexpected online users: %v", online)
	}
}

func TestHeartbeatRenewsLease(t *testing.T) {
	remote, id := setup(t)
	tr := NewTracker(id, alice, remote, nil, 90*time.Millisecond, nullLogger())
	if err := tr.Activate(context.Background()); err != nil {
		t.Fatalf("activate: %v", err)
	}
	t.Cleanup(func() { _ = tr.Deactivate(context.Background()) })
	first := onlineUsers(t, remote, id)[alice.ID].ExpiresAt

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if onlineUsers(t, remote, id)[alice.ID].ExpiresAt > first {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("lease was never renewed")
}

func TestActivateOnMissingBoard(t *testing.T) {
	remote, err := storage.NewLocalStore("", nullLogger())
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	tr := NewTracker("missing", alice, remote, nil, time.Minute, nullLogger())
	if err := tr.Activate(context.Background()); !errors.Is(err, domain.ErrBoardNotFound) {
		t.Fatalf("expected board not found, got %v", err)
	}
	if data, _ := remote.Get(context.Background(), board.Path("missing")); data != nil {
		t.Fatalf("presence created a board document: %s", data)
	}
}
