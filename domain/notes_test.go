package domain

import (
	"slices"
	"testing"
)

func TestNewNoteAppendsToColumn(t *testing.T) {
	notes := Notes{
		"a": {ID: "a", ColumnID: "c1", Order: 0},
		"b": {ID: "b", ColumnID: "c1", Order: 4},
		"c": {ID: "c", ColumnID: "c2", Order: 9},
	}
	n := NewNote(notes, "n1", "c1", "hello", "Alice", "u1", 50)

	if n.Order != 5 {
		t.Fatalf("expected order 5, got %d", n.Order)
	}
	if n.Votes != 0 || n.VotedBy == nil || n.Rev != 1 || n.CreatedAt != 50 {
		t.Fatalf("unexpected note: %#v", n)
	}
	if got := NewNote(notes, "n2", "empty", "", "", "", 0); got.Order != 0 {
		t.Fatalf("expected order 0 in empty column, got %d", got.Order)
	}
}

func TestUpdateNoteContentBumpsRevision(t *testing.T) {
	notes := Notes{"n1": {ID: "n1", Content: "old", Votes: 1, VotedBy: []string{"u1"}, Rev: 3}}
	out, ok := UpdateNoteContent(notes, "n1", "new")
	if !ok {
		t.Fatalf("expected note to be found")
	}
	if n := out["n1"]; n.Content != "new" || n.Rev != 4 || n.Votes != 1 {
		t.Fatalf("unexpected note: %#v", n)
	}
	if notes["n1"].Content != "old" {
		t.Fatalf("input must not be mutated")
	}
}

func TestReorderNotesIgnoresOtherColumns(t *testing.T) {
	notes := Notes{
		"a": {ID: "a", ColumnID: "c1", Order: 0},
		"b": {ID: "b", ColumnID: "c1", Order: 1},
		"x": {ID: "x", ColumnID: "c2", Order: 0},
	}
	out, changed := ReorderNotes(notes, "c1", []string{"b", "x", "a"})

	if out["b"].Order != 0 || out["a"].Order != 2 {
		t.Fatalf("unexpected orders: b=%d a=%d", out["b"].Order, out["a"].Order)
	}
	if out["x"].Order != 0 || out["x"].ColumnID != "c2" {
		t.Fatalf("foreign note changed: %#v", out["x"])
	}
	if _, ok := changed["x"]; ok || len(changed) != 2 {
		t.Fatalf("unexpected changes: %v", changed)
	}
}

func TestMoveNoteKeepsOrder(t *testing.T) {
	notes := Notes{"n1": {ID: "n1", ColumnID: "c1", Order: 3}}
	out, ok := MoveNote(notes, "n1", "c2")
	if !ok {
		t.Fatalf("expected move")
	}
	if n := out["n1"]; n.ColumnID != "c2" || n.Order != 3 {
		t.Fatalf("unexpected note: %#v", n)
	}
	if _, ok := MoveNote(out, "n1", "c2"); ok {
		t.Fatalf("moving into the same column must be a no-op")
	}
}

func TestDeleteNote(t *testing.T) {
	notes := Notes{"n1": {ID: "n1"}}
	out, ok := DeleteNote(notes, "n1")
	if !ok || len(out) != 0 {
		t.Fatalf("expected deletion, got %v", out)
	}
	if _, ok := DeleteNote(out, "n1"); ok {
		t.Fatalf("expected missing note to report false")
	}
}

func TestToggleVoteIsInvolution(t *testing.T) {
	n := Note{ID: "n1", VotedBy: []string{"u2"}, Votes: 1}

	voted := ToggleVote(n, "u1")
	if voted.Votes != 2 || !slices.Contains(voted.VotedBy, "u1") {
		t.Fatalf("expected u1 vote, got %#v", voted)
	}
	unvoted := ToggleVote(voted, "u1")
	if unvoted.Votes != 1 || slices.Contains(unvoted.VotedBy, "u1") {
		t.Fatalf("expected u1 vote removed, got %#v", unvoted)
	}
	if len(n.VotedBy) != 1 {
		t.Fatalf("input must not be mutated")
	}
}

func TestToggleVoteDropsDuplicates(t *testing.T) {
	n := Note{ID: "n1", VotedBy: []string{"u2", "u2", "u3"}, Votes: 3}
	out := ToggleVote(n, "u1")
	if out.Votes != 3 || len(out.VotedBy) != 3 {
		t.Fatalf("expected duplicate voters collapsed, got %#v", out)
	}
}

func TestToggleReactionSingleEmojiPerUser(t *testing.T) {
	n := Note{ID: "n1"}

	n = ToggleReaction(n, "u1", "👍")
	n = ToggleReaction(n, "u2", "👍")
	n = ToggleReaction(n, "u1", "🎉")
	if got, _ := ReactionOf(n, "u1"); got != "🎉" {
		t.Fatalf("expected u1 to move to 🎉, got %q", got)
	}
	if slices.Contains(n.Reactions["👍"], "u1") {
		t.Fatalf("u1 still in 👍 set: %v", n.Reactions)
	}

	n = ToggleReaction(n, "u1", "🎉")
	if _, ok := n.Reactions["🎉"]; ok {
		t.Fatalf("expected empty reactor set removed: %v", n.Reactions)
	}
	if _, ok := ReactionOf(n, "u1"); ok {
		t.Fatalf("expected u1 reaction cleared")
	}
	if len(n.Reactions["👍"]) != 1 {
		t.Fatalf("other users affected: %v", n.Reactions)
	}
}

func TestCommentsLifecycle(t *testing.T) {
	n := Note{ID: "n1"}
	n = AddComment(n, Comment{ID: "c2", Content: "second", CreatedAt: 20})
	n = AddComment(n, Comment{ID: "c1", Content: "first", CreatedAt: 10})

	sorted := n.SortedComments()
	if len(sorted) != 2 || sorted[0].ID != "c1" || sorted[1].ID != "c2" {
		t.Fatalf("unexpected comment order: %v", sorted)
	}

	updated, ok := UpdateComment(n, "c1", "edited", 30)
	if !ok || updated.Comments["c1"].Content != "edited" || updated.Comments["c1"].UpdatedAt != 30 {
		t.Fatalf("unexpected update: %#v", updated.Comments["c1"])
	}
	if n.Comments["c1"].Content != "first" {
		t.Fatalf("input must not be mutated")
	}
	if _, ok := UpdateComment(n, "missing", "x", 0); ok {
		t.Fatalf("expected missing comment to report false")
	}

	n, _ = DeleteComment(n, "c1")
	n, ok = DeleteComment(n, "c2")
	if !ok || n.Comments != nil {
		t.Fatalf("expected empty comments cleared, got %#v", n.Comments)
	}
}

func TestSetVoteIsIdempotent(t *testing.T) {
	n := Note{ID: "n1", VotedBy: []string{"u1"}, Votes: 1}

	if out := SetVote(n, "u1", true); out.Votes != 1 || len(out.VotedBy) != 1 {
		t.Fatalf("repeated vote must not double count: %#v", out)
	}
	if out := SetVote(n, "u2", false); out.Votes != 1 {
		t.Fatalf("removing a non-voter must not change votes: %#v", out)
	}
	if out := SetVote(n, "u1", false); out.Votes != 0 || len(out.VotedBy) != 0 {
		t.Fatalf("expected vote removed: %#v", out)
	}
}
