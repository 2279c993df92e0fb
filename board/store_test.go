package board

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

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

func newLocalRemote(t *testing.T) *storage.LocalStore {
	t.Helper()
	remote, err := storage.NewLocalStore("", nullLogger())
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	return remote
}

func createBoard(t *testing.T, remote Remote) domain.Board {
	t.Helper()
	dir := storage.NewTreeDirectory(remote)
	b, err := Create(context.Background(), remote, dir, "Retro "+t.Name(), alice, time.UnixMilli(1000))
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	return b
}

func openStore(t *testing.T, remote Remote, id string, user domain.Identity) *Store {
	t.Helper()
	s := New(id, user, remote, nullLogger())
	if err := s.Activate(context.Background()); err != nil {
		t.Fatalf("activate: %v", err)
	}
	t.Cleanup(func() { s.Close(time.Second) })
	return s
}

// detachedStore loads the board once without subscribing, so the replica
// only changes through its own commands and reloads.
func detachedStore(t *testing.T, remote Remote, id string, user domain.Identity) *Store {
	t.Helper()
	s := New(id, user, remote, nullLogger())
	t.Cleanup(func() { s.Close(time.Second) })
	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	return s
}

func eventually(t *testing.T, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf(format, args...)
}

func flush(t *testing.T, s *Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func remoteNote(t *testing.T, remote Remote, boardID, noteID string) (domain.Note, bool) {
	t.Helper()
	data, err := remote.Get(context.Background(), Path(boardID, "notes", noteID))
	if err != nil {
		t.Fatalf("get note: %v", err)
	}
	if data == nil {
		return domain.Note{}, false
	}
	var n domain.Note
	if err := sonic.Unmarshal(data, &n); err != nil {
		t.Fatalf("decode note: %v", err)
	}
	return n, true
}

func TestActivateServesDefaultsUntilCreated(t *testing.T) {
	remote := newLocalRemote(t)
	s := openStore(t, remote, "pending", alice)

	if s.Loaded() {
		t.Fatalf("missing board must not count as loaded")
	}
	snap := s.Snapshot()
	if len(snap.Columns) != 3 || snap.Timer.TimeLeft != domain.DefaultTimerSeconds {
		t.Fatalf("expected default board, got %#v", snap)
	}
	if s.IsAdmin() {
		t.Fatalf("nobody is admin of a missing board")
	}

	b := domain.NewBoard("pending", "Late", alice.ID, 5)
	if err := remote.SetSubtree(context.Background(), Path("pending"), b); err != nil {
		t.Fatalf("write board: %v", err)
	}
	eventually(t, s.Loaded, "snapshot never arrived")
	if got := s.Snapshot(); got.Name != "Late" || !s.IsAdmin() {
		t.Fatalf("unexpected board after snapshot: %#v", got.Info())
	}
}

func TestCreateRejectsDuplicateNames(t *testing.T) {
	remote := newLocalRemote(t)
	dir := storage.NewTreeDirectory(remote)
	ctx := context.Background()

	b, err := Create(ctx, remote, dir, "  Sprint 12 ", alice, time.UnixMilli(1000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.Name != "Sprint 12" || b.AdminID != alice.ID || b.CreatedAt != 1000 {
		t.Fatalf("unexpected board: %#v", b.Info())
	}
	if _, err := Create(ctx, remote, dir, "sprint 12", bob, time.Now()); !errors.Is(err, domain.ErrBoardNameTaken) {
		t.Fatalf("expected name taken, got %v", err)
	}
	if _, err := Create(ctx, remote, dir, "  ", bob, time.Now()); !errors.Is(err, domain.ErrBoardNameEmpty) {
		t.Fatalf("expected empty name error, got %v", err)
	}
	info, err := dir.Lookup(ctx, b.ID)
	if err != nil || info.AdminID != alice.ID {
		t.Fatalf("lookup: %#v %v", info, err)
	}
}

func TestAdminOnlyCommandsRejectOthers(t *testing.T) {
	remote := newLocalRemote(t)
	b := createBoard(t, remote)
	guest := openStore(t, remote, b.ID, bob)
	title := "x"

	checks := map[string]func() error{
		"AddColumn":    func() error { _, err := guest.AddColumn("x", domain.ColorOption{}); return err },
		"UpdateColumn": func() error { return guest.UpdateColumn("went-well", domain.ColumnPatch{Title: &title}) },
		"DeleteColumn": func() error { return guest.DeleteColumn("went-well") },
		"MoveColumn":   func() error { return guest.MoveColumn([]string{"action-items"}) },
		"UpdateTimer":  func() error { return guest.UpdateTimer(domain.TimerState{IsRunning: true}) },
		"UpdateMusic":  func() error { return guest.UpdateMusic(domain.MusicPatch{CurrentTrack: &title}) },
		"CreatePoll":   func() error { _, err := guest.CreatePoll("q", []string{"a", "b"}); return err },
		"ClosePoll":    func() error { return guest.ClosePoll("p") },
		"DeletePoll":   func() error { return guest.DeletePoll("p") },
		"ClearAll":     func() error { return guest.ClearAllNotes() },
	}
	for name, run := range checks {
		if err := run(); !errors.Is(err, domain.ErrPermissionDenied) {
			t.Fatalf("%s: expected permission denied, got %v", name, err)
		}
	}
	if got := guest.Snapshot(); len(got.Columns) != 3 || got.Columns["went-well"].Title == "x" {
		t.Fatalf("rejected commands changed the replica: %#v", got.Columns)
	}

	if _, err := guest.AddNote("went-well", "hi", bob.Name, bob.ID); err != nil {
		t.Fatalf("participants may add notes: %v", err)
	}
}

func TestNoteVoteScenario(t *testing.T) {
	remote := newLocalRemote(t)
	b := createBoard(t, remote)
	s := detachedStore(t, remote, b.ID, alice)

	id, err := s.AddNote("went-well", "", "Alice", "u1")
	if err != nil {
		t.Fatalf("add note: %v", err)
	}
	n := s.Snapshot().Notes[id]
	if n.Order != 0 || n.Votes != 0 || len(n.VotedBy) != 0 {
		t.Fatalf("unexpected new note: %#v", n)
	}

	if err := s.VoteNote(id); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if n := s.Snapshot().Notes[id]; n.Votes != 1 || !slices.Equal(n.VotedBy, []string{"u1"}) {
		t.Fatalf("unexpected vote: %#v", n)
	}
	flush(t, s)

	if err := s.VoteNote(id); err != nil {
		t.Fatalf("unvote: %v", err)
	}
	if n := s.Snapshot().Notes[id]; n.Votes != 0 || len(n.VotedBy) != 0 {
		t.Fatalf("unexpected unvote: %#v", n)
	}
	flush(t, s)

	stored, ok := remoteNote(t, remote, b.ID, id)
	if !ok || stored.Votes != 0 || len(stored.VotedBy) != 0 || stored.Content != "" {
		t.Fatalf("unexpected stored note: %#v", stored)
	}

	second, err := s.AddNote("went-well", "again", "Alice", "u1")
	if err != nil {
		t.Fatalf("add note: %v", err)
	}
	if got := s.Snapshot().Notes[second].Order; got != 1 {
		t.Fatalf("expected order 1, got %d", got)
	}
	if _, err := s.AddNote("ghost", "x", "Alice", "u1"); !errors.Is(err, domain.ErrColumnNotFound) {
		t.Fatalf("expected column not found, got %v", err)
	}
}

func TestConcurrentVotesAreNotLost(t *testing.T) {
	remote := newLocalRemote(t)
	b := createBoard(t, remote)
	admin := openStore(t, remote, b.ID, alice)
	id, err := admin.AddNote("went-well", "popular", "Alice", alice.ID)
	if err != nil {
		t.Fatalf("add note: %v", err)
	}
	flush(t, admin)

	const voters = 6
	stores := make([]*Store, voters)
	for i := range stores {
		stores[i] = detachedStore(t, remote, b.ID, domain.Identity{ID: string(rune('a' + i)), Name: "voter"})
	}
	var wg sync.WaitGroup
	for _, s := range stores {
		wg.Add(1)
		go func(s *Store) {
			defer wg.Done()
			if err := s.VoteNote(id); err != nil {
				t.Errorf("vote: %v", err)
			}
		}(s)
	}
	wg.Wait()
	for _, s := range stores {
		flush(t, s)
	}

	stored, _ := remoteNote(t, remote, b.ID, id)
	if stored.Votes != voters || len(stored.VotedBy) != voters {
		t.Fatalf("expected %d votes, got %#v", voters, stored)
	}
	eventually(t, func() bool { return admin.Snapshot().Notes[id].Votes == voters }, "admin replica never converged")
}

func TestReactionMovesBetweenEmoji(t *testing.T) {
	remote := newLocalRemote(t)
	b := createBoard(t, remote)
	s := detachedStore(t, remote, b.ID, bob)
	id, _ := s.AddNote("went-well", "x", bob.Name, bob.ID)

	for _, emoji := range []string{"👍", "🎉", "🎉", "❤️"} {
		if err := s.ReactNote(id, emoji); err != nil {
			t.Fatalf("react: %v", err)
		}
		sets := 0
		for _, users := range s.Snapshot().Notes[id].Reactions {
			if slices.Contains(users, bob.ID) {
				sets++
			}
		}
		if sets > 1 {
			t.Fatalf("user in %d reactor sets after %s", sets, emoji)
		}
	}
	flush(t, s)
	stored, _ := remoteNote(t, remote, b.ID, id)
	if !slices.Equal(stored.Reactions["❤️"], []string{bob.ID}) || len(stored.Reactions) != 1 {
		t.Fatalf("unexpected stored reactions: %v", stored.Reactions)
	}
	if err := s.ReactNote(id, ""); !errors.Is(err, domain.ErrEmojiEmpty) {
		t.Fatalf("expected empty emoji error, got %v", err)
	}
}

func TestDeleteColumnCascade(t *testing.T) {
	remote := newLocalRemote(t)
	b := createBoard(t, remote)
	s := detachedStore(t, remote, b.ID, alice)

	var keep []string
	for i := 0; i < 2; i++ {
		id, _ := s.AddNote("went-well", "keep", "Alice", alice.ID)
		keep = append(keep, id)
	}
	for i := 0; i < 3; i++ {
		_, _ = s.AddNote("to-improve", "drop", "Alice", alice.ID)
	}
	flush(t, s)

	if err := s.DeleteColumn("to-improve"); err != nil {
		t.Fatalf("delete column: %v", err)
	}
	check := func(where string, board domain.Board) {
		if _, ok := board.Columns["to-improve"]; ok {
			t.Fatalf("%s: column still present", where)
		}
		if len(board.Notes) != 2 {
			t.Fatalf("%s: expected 2 notes, got %d", where, len(board.Notes))
		}
		for _, id := range keep {
			if _, ok := board.Notes[id]; !ok {
				t.Fatalf("%s: note %s lost", where, id)
			}
		}
	}
	check("replica", s.Snapshot())
	flush(t, s)

	data, err := remote.Get(context.Background(), Path(b.ID))
	if err != nil {
		t.Fatalf("get board: %v", err)
	}
	var stored domain.Board
	if err := sonic.Unmarshal(data, &stored); err != nil {
		t.Fatalf("decode: %v", err)
	}
	check("remote", stored)
}

func TestDeleteColumnRemovesNotesUnknownToReplica(t *testing.T) {
	remote := newLocalRemote(t)
	b := createBoard(t, remote)
	admin := detachedStore(t, remote, b.ID, alice)

	late := domain.Note{ID: "late", ColumnID: "to-improve", VotedBy: []string{}}
	if err := remote.MergeFields(context.Background(), Path(b.ID, "notes"), map[string]any{"late": late}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := admin.DeleteColumn("to-improve"); err != nil {
		t.Fatalf("delete column: %v", err)
	}
	flush(t, admin)

	if _, ok := remoteNote(t, remote, b.ID, "late"); ok {
		t.Fatalf("orphaned note left behind")
	}
}

func TestOrderingCommands(t *testing.T) {
	remote := newLocalRemote(t)
	b := createBoard(t, remote)
	s := detachedStore(t, remote, b.ID, alice)

	if err := s.MoveColumn([]string{"action-items", "went-well", "to-improve"}); err != nil {
		t.Fatalf("move columns: %v", err)
	}
	n1, _ := s.AddNote("went-well", "1", "Alice", alice.ID)
	n2, _ := s.AddNote("went-well", "2", "Alice", alice.ID)
	other, _ := s.AddNote("to-improve", "x", "Alice", alice.ID)
	if err := s.ReorderNotes("went-well", []string{n2, other, n1}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if err := s.MoveNote(n1, "action-items"); err != nil {
		t.Fatalf("move note: %v", err)
	}
	flush(t, s)

	stored, _ := remoteNote(t, remote, b.ID, n1)
	if stored.ColumnID != "action-items" || stored.Order != 2 {
		t.Fatalf("unexpected moved note: %#v", stored)
	}
	if o, _ := remoteNote(t, remote, b.ID, other); o.Order != 0 || o.ColumnID != "to-improve" {
		t.Fatalf("foreign note changed: %#v", o)
	}
	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	cols := s.Snapshot().Columns.Sorted()
	if cols[0].ID != "action-items" || cols[2].ID != "to-improve" {
		t.Fatalf("unexpected stored column order: %v", cols)
	}
}

func TestCommentLifecycle(t *testing.T) {
	remote := newLocalRemote(t)
	b := createBoard(t, remote)
	s := detachedStore(t, remote, b.ID, bob)
	nid, _ := s.AddNote("went-well", "x", bob.Name, bob.ID)

	cid, err := s.AddComment(nid, " looks good ")
	if err != nil {
		t.Fatalf("add comment: %v", err)
	}
	if err := s.UpdateComment(nid, cid, "edited"); err != nil {
		t.Fatalf("update comment: %v", err)
	}
	flush(t, s)

	stored, _ := remoteNote(t, remote, b.ID, nid)
	c, ok := stored.Comments[cid]
	if !ok || c.Content != "edited" || c.Author != "Bob" || c.AuthorID != bob.ID || c.UpdatedAt == 0 {
		t.Fatalf("unexpected stored comment: %#v", stored.Comments)
	}

	if err := s.DeleteComment(nid, cid); err != nil {
		t.Fatalf("delete comment: %v", err)
	}
	flush(t, s)
	stored, _ = remoteNote(t, remote, b.ID, nid)
	if len(stored.Comments) != 0 {
		t.Fatalf("comment not deleted: %#v", stored.Comments)
	}
	if _, err := s.AddComment("ghost", "x"); !errors.Is(err, domain.ErrNoteNotFound) {
		t.Fatalf("expected note not found, got %v", err)
	}
}

func TestCommentOnDeletedNoteDoesNotRecreateIt(t *testing.T) {
	remote := newLocalRemote(t)
	b := createBoard(t, remote)
	s := New(b.ID, bob, remote, nullLogger())
	t.Cleanup(func() { s.Close(time.Second) })
	nid, _ := s.AddNote("went-well", "x", bob.Name, bob.ID)
	flush(t, s)
	if err := remote.MergeFields(context.Background(), Path(b.ID, "notes"), map[string]any{nid: nil}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := s.AddComment(nid, "late"); err != nil {
		t.Fatalf("add comment: %v", err)
	}
	flush(t, s)
	if _, ok := remoteNote(t, remote, b.ID, nid); ok {
		t.Fatalf("comment recreated a deleted note")
	}
}

func TestPollScenario(t *testing.T) {
	remote := newLocalRemote(t)
	b := createBoard(t, remote)
	admin := detachedStore(t, remote, b.ID, alice)
	voter := detachedStore(t, remote, b.ID, bob)

	pid, err := admin.CreatePoll("Q?", []string{"A", "B"})
	if err != nil {
		t.Fatalf("create poll: %v", err)
	}
	p := admin.Snapshot().Polls[pid]
	if !p.IsActive || len(p.Options) != 2 || len(p.Options[0].Votes) != 0 || len(p.Options[1].Votes) != 0 {
		t.Fatalf("unexpected poll: %#v", p)
	}
	flush(t, admin)
	if err := voter.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if err := voter.VotePoll(pid, 0); err != nil {
		t.Fatalf("vote: %v", err)
	}
	p = voter.Snapshot().Polls[pid]
	if !slices.Equal(p.Options[0].Votes, []string{"u2"}) || len(p.Options[1].Votes) != 0 {
		t.Fatalf("unexpected first vote: %#v", p.Options)
	}
	if err := voter.VotePoll(pid, 1); err != nil {
		t.Fatalf("vote: %v", err)
	}
	p = voter.Snapshot().Polls[pid]
	if len(p.Options[0].Votes) != 0 || !slices.Equal(p.Options[1].Votes, []string{"u2"}) {
		t.Fatalf("unexpected second vote: %#v", p.Options)
	}
	if err := voter.VotePoll(pid, 5); !errors.Is(err, domain.ErrOptionNotFound) {
		t.Fatalf("expected option not found, got %v", err)
	}
	flush(t, voter)

	if err := admin.ClosePoll(pid); err != nil {
		t.Fatalf("close: %v", err)
	}
	first := admin.Snapshot().Polls[pid]
	if err := admin.ClosePoll(pid); err != nil {
		t.Fatalf("close again: %v", err)
	}
	if again := admin.Snapshot().Polls[pid]; again.IsActive || again.ClosedAt != first.ClosedAt {
		t.Fatalf("close is not idempotent: %#v vs %#v", first, again)
	}
	flush(t, admin)

	data, _ := remote.Get(context.Background(), Path(b.ID, "polls", pid))
	var stored domain.Poll
	if err := sonic.Unmarshal(data, &stored); err != nil {
		t.Fatalf("decode poll: %v", err)
	}
	if stored.IsActive || !slices.Equal(stored.Options[1].Votes, []string{"u2"}) {
		t.Fatalf("unexpected stored poll: %#v", stored)
	}

	if _, err := admin.CreatePoll("", []string{"a", "b"}); !errors.Is(err, domain.ErrQuestionIsEmpty) {
		t.Fatalf("expected empty question error, got %v", err)
	}
	if _, err := admin.CreatePoll("q", []string{"a"}); !errors.Is(err, domain.ErrNotEnoughOptions) {
		t.Fatalf("expected not enough options, got %v", err)
	}
}

func TestCreatePollClosesActivePoll(t *testing.T) {
	remote := newLocalRemote(t)
	b := createBoard(t, remote)
	admin := detachedStore(t, remote, b.ID, alice)

	first, _ := admin.CreatePoll("first", []string{"a", "b"})
	second, _ := admin.CreatePoll("second", []string{"a", "b"})
	active := admin.Snapshot().Polls.Active()
	if len(active) != 1 || active[0].ID != second {
		t.Fatalf("expected only %s active, got %v", second, active)
	}
	flush(t, admin)

	data, _ := remote.Get(context.Background(), Path(b.ID, "polls", first))
	var stored domain.Poll
	if err := sonic.Unmarshal(data, &stored); err != nil {
		t.Fatalf("decode poll: %v", err)
	}
	if stored.IsActive || stored.ClosedAt == 0 {
		t.Fatalf("previous poll still active remotely: %#v", stored)
	}

	if err := admin.DeletePoll(first); err != nil {
		t.Fatalf("delete poll: %v", err)
	}
	flush(t, admin)
	if data, _ := remote.Get(context.Background(), Path(b.ID, "polls", first)); data != nil {
		t.Fatalf("poll not deleted: %s", data)
	}
}

func TestKeepActivePollsLeavesEarlierPollOpen(t *testing.T) {
	remote := newLocalRemote(t)
	b := createBoard(t, remote)
	var clock atomic.Int64
	now := func() time.Time { return time.UnixMilli(clock.Add(1000)) }
	admin := New(b.ID, alice, remote, nullLogger(), WithKeepActivePolls(), WithClock(now))
	t.Cleanup(func() { admin.Close(time.Second) })
	if err := admin.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	first, _ := admin.CreatePoll("first", []string{"a", "b"})
	second, _ := admin.CreatePoll("second", []string{"a", "b"})
	active := admin.Snapshot().Polls.Active()
	if len(active) != 2 || active[0].ID != first || active[1].ID != second {
		t.Fatalf("expected both polls active oldest first, got %v", active)
	}
	flush(t, admin)

	data, _ := remote.Get(context.Background(), Path(b.ID, "polls", first))
	var stored domain.Poll
	if err := sonic.Unmarshal(data, &stored); err != nil {
		t.Fatalf("decode poll: %v", err)
	}
	if !stored.IsActive {
		t.Fatalf("earlier poll closed remotely: %#v", stored)
	}
}

func TestVoteOnClosedPollIsNoop(t *testing.T) {
	remote := newLocalRemote(t)
	b := createBoard(t, remote)
	admin := detachedStore(t, remote, b.ID, alice)

	pid, _ := admin.CreatePoll("q", []string{"a", "b"})
	_ = admin.ClosePoll(pid)
	if err := admin.VotePoll(pid, 0); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if votes := admin.Snapshot().Polls[pid].Options[0].Votes; len(votes) != 0 {
		t.Fatalf("closed poll accepted a vote: %v", votes)
	}
}

func TestTimerAndMusicUpdates(t *testing.T) {
	remote := newLocalRemote(t)
	b := createBoard(t, remote)
	admin := openStore(t, remote, b.ID, alice)
	guest := openStore(t, remote, b.ID, bob)

	state := domain.StartTimer(domain.DefaultTimer(), alice.ID, 2000)
	if err := admin.UpdateTimer(state); err != nil {
		t.Fatalf("update timer: %v", err)
	}
	playing := true
	track := "https://example.invalid/lofi.mp3"
	if err := admin.UpdateMusic(domain.MusicPatch{IsPlaying: &playing, CurrentTrack: &track}); err != nil {
		t.Fatalf("update music: %v", err)
	}
	flush(t, admin)

	eventually(t, func() bool {
		snap := guest.Snapshot()
		return snap.Timer.IsRunning && snap.Timer.Owner == alice.ID && snap.Music.IsPlaying && snap.Music.CurrentTrack == track
	}, "guest never saw timer and music")
}

func TestClearAllNotes(t *testing.T) {
	remote := newLocalRemote(t)
	b := createBoard(t, remote)
	admin := detachedStore(t, remote, b.ID, alice)
	_, _ = admin.AddNote("went-well", "x", "Alice", alice.ID)
	_, _ = admin.AddNote("to-improve", "y", "Alice", alice.ID)
	flush(t, admin)

	if err := admin.ClearAllNotes(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n := len(admin.Snapshot().Notes); n != 0 {
		t.Fatalf("expected empty replica, got %d notes", n)
	}
	flush(t, admin)
	if data, _ := remote.Get(context.Background(), Path(b.ID, "notes")); data != nil {
		t.Fatalf("notes still stored: %s", data)
	}
}

type failingDelete struct {
	Remote
	err error
}

func (f failingDelete) Delete(context.Context, string) error {
	return f.err
}

func TestClearAllNotesFailureReloads(t *testing.T) {
	local := newLocalRemote(t)
	b := createBoard(t, local)
	seed := openStore(t, local, b.ID, alice)
	nid, _ := seed.AddNote("went-well", "keep me", "Alice", alice.ID)
	flush(t, seed)

	remote := failingDelete{Remote: local, err: errors.New("backend unavailable")}
	admin := New(b.ID, alice, remote, nullLogger())
	t.Cleanup(func() { admin.Close(time.Second) })
	if err := admin.Activate(context.Background()); err != nil {
		t.Fatalf("activate: %v", err)
	}
	errs := make(chan error, 1)
	admin.OnError(func(err error) { errs <- err })

	if err := admin.ClearAllNotes(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	select {
	case err := <-errs:
		var werr *WriteError
		if !errors.As(err, &werr) || werr.Op != opClearNotes.name {
			t.Fatalf("unexpected error event: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no error event")
	}
	eventually(t, func() bool { _, ok := admin.Snapshot().Notes[nid]; return ok }, "replica was not reloaded")
}

func TestConcurrentEditSurfacesConflict(t *testing.T) {
	remote := newLocalRemote(t)
	b := createBoard(t, remote)
	author := detachedStore(t, remote, b.ID, alice)
	nid, _ := author.AddNote("went-well", "draft", "Alice", alice.ID)
	flush(t, author)

	stale := detachedStore(t, remote, b.ID, bob)
	conflicts := make(chan error, 1)
	stale.OnError(func(err error) { conflicts <- err })

	if err := author.UpdateNote(nid, "final"); err != nil {
		t.Fatalf("update: %v", err)
	}
	flush(t, author)
	if err := stale.UpdateNote(nid, "overwrite"); err != nil {
		t.Fatalf("stale update: %v", err)
	}

	select {
	case err := <-conflicts:
		if !errors.Is(err, domain.ErrConflictDetected) {
			t.Fatalf("expected conflict, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("conflict was not reported")
	}
	stored, _ := remoteNote(t, remote, b.ID, nid)
	if stored.Content != "final" || stored.Rev != 2 {
		t.Fatalf("winner overwritten: %#v", stored)
	}
	eventually(t, func() bool { return stale.Snapshot().Notes[nid].Content == "final" }, "stale replica not restored")
}

// gatedMerge holds the first MergeFields issued after arm until release is
// closed.
type gatedMerge struct {
	Remote
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedMerge) MergeFields(ctx context.Context, path string, fields map[string]any, opts ...storage.WriteOption) error {
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.release
	}
	return g.Remote.MergeFields(ctx, path, fields, opts...)
}

func TestConsecutiveEditsSurviveInterleavedSnapshots(t *testing.T) {
	local := newLocalRemote(t)
	b := createBoard(t, local)
	gate := &gatedMerge{Remote: local, entered: make(chan struct{}), release: make(chan struct{})}

	author := openStore(t, gate, b.ID, alice)
	voter := openStore(t, local, b.ID, bob)
	conflicts := make(chan error, 4)
	author.OnError(func(err error) { conflicts <- err })

	nid, err := author.AddNote("went-well", "v0", "Alice", alice.ID)
	if err != nil {
		t.Fatalf("add note: %v", err)
	}
	flush(t, author)
	eventually(t, func() bool { _, ok := voter.Snapshot().Notes[nid]; return ok }, "voter never saw the note")

	gate.armed.Store(true)
	if err := author.UpdateNote(nid, "v1"); err != nil {
		t.Fatalf("first edit: %v", err)
	}
	<-gate.entered

	if err := voter.VoteNote(nid); err != nil {
		t.Fatalf("vote: %v", err)
	}
	flush(t, voter)
	eventually(t, func() bool {
		n := author.Snapshot().Notes[nid]
		return n.Votes == 1 && n.Content == "v0"
	}, "author never received the vote snapshot")

	if err := author.UpdateNote(nid, "v2"); err != nil {
		t.Fatalf("second edit: %v", err)
	}
	close(gate.release)
	flush(t, author)

	stored, _ := remoteNote(t, local, b.ID, nid)
	if stored.Content != "v2" || stored.Rev != 3 || stored.Votes != 1 {
		t.Fatalf("latest edit lost: %#v", stored)
	}
	select {
	case err := <-conflicts:
		t.Fatalf("own edits reported as conflict: %v", err)
	default:
	}
	eventually(t, func() bool { return author.Snapshot().Notes[nid].Content == "v2" }, "author replica not at latest edit")
}

func TestConsecutiveColumnEditsDoNotConflict(t *testing.T) {
	remote := newLocalRemote(t)
	b := createBoard(t, remote)
	admin := detachedStore(t, remote, b.ID, alice)
	conflicts := make(chan error, 4)
	admin.OnError(func(err error) { conflicts <- err })

	for _, title := range []string{"Kudos", "Shout-outs", "Wins"} {
		title := title
		if err := admin.UpdateColumn("went-well", domain.ColumnPatch{Title: &title}); err != nil {
			t.Fatalf("update column: %v", err)
		}
	}
	flush(t, admin)
	select {
	case err := <-conflicts:
		t.Fatalf("own edits reported as conflict: %v", err)
	default:
	}
	data, err := remote.Get(context.Background(), Path(b.ID, "columns", "went-well"))
	if err != nil {
		t.Fatalf("get column: %v", err)
	}
	var col domain.Column
	if err := sonic.Unmarshal(data, &col); err != nil {
		t.Fatalf("decode column: %v", err)
	}
	if col.Title != "Wins" || col.Rev != 4 {
		t.Fatalf("unexpected stored column: %#v", col)
	}
}

func TestUpdateColumnRevision(t *testing.T) {
	remote := newLocalRemote(t)
	b := createBoard(t, remote)
	admin := openStore(t, remote, b.ID, alice)
	title := "Kudos"

	if err := admin.UpdateColumn("went-well", domain.ColumnPatch{Title: &title}); err != nil {
		t.Fatalf("update column: %v", err)
	}
	flush(t, admin)
	eventually(t, func() bool {
		col := admin.Snapshot().Columns["went-well"]
		return col.Title == "Kudos" && col.Rev == 2
	}, "column update never reflected back")

	if err := admin.UpdateColumn("missing", domain.ColumnPatch{Title: &title}); err != nil {
		t.Fatalf("unknown column should be a no-op: %v", err)
	}
}

func TestSnapshotReplayIsIdempotent(t *testing.T) {
	remote := newLocalRemote(t)
	s := New("b1", alice, remote, nullLogger())
	t.Cleanup(func() { s.Close(time.Second) })

	var calls atomic.Int32
	s.OnChange(func(domain.Board) { calls.Add(1) })

	data, err := sonic.Marshal(domain.NewBoard("b1", "Retro", alice.ID, 1))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s.applySnapshot(data)
	before := s.Snapshot()
	s.applySnapshot(data)

	s.mu.RLock()
	version := s.version
	s.mu.RUnlock()
	if version != 1 {
		t.Fatalf("expected one state change, got %d", version)
	}
	eventually(t, func() bool { return calls.Load() == 1 }, "listener not called")
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatalf("duplicate listener calls: %d", calls.Load())
	}
	if after := s.Snapshot(); after.Name != before.Name || len(after.Columns) != len(before.Columns) {
		t.Fatalf("replay changed state")
	}
}

func TestLastSnapshotWins(t *testing.T) {
	remote := newLocalRemote(t)
	b := createBoard(t, remote)
	s := openStore(t, remote, b.ID, alice)
	_, _ = s.AddNote("went-well", "mine", "Alice", alice.ID)

	replacement := domain.NewBoard(b.ID, "Replaced", alice.ID, 1)
	if err := remote.SetSubtree(context.Background(), Path(b.ID), replacement); err != nil {
		t.Fatalf("replace: %v", err)
	}
	flush(t, s)
	eventually(t, func() bool { return s.Snapshot().Name == "Replaced" }, "remote snapshot did not win")
}

func TestRedisBackedReplicasConverge(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	newRemote := func() *storage.RedisStore {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return storage.NewRedisStore(client, nullLogger())
	}

	first := newRemote()
	b := createBoard(t, first)
	admin := openStore(t, first, b.ID, alice)
	guest := openStore(t, newRemote(), b.ID, bob)

	id, err := guest.AddNote("action-items", "ship it", bob.Name, bob.ID)
	if err != nil {
		t.Fatalf("add note: %v", err)
	}
	flush(t, guest)
	eventually(t, func() bool { _, ok := admin.Snapshot().Notes[id]; return ok }, "note never reached admin")
}
