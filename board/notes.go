package board

import (
	"context"
	"slices"

	"github.com/bytedance/sonic"

	"retro-sync/domain"
)

var (
	opAddNote      = operation{name: "note.add"}
	opUpdateNote   = operation{name: "note.update"}
	opReorderNotes = operation{name: "note.reorder"}
	opDeleteNote   = operation{name: "note.delete"}
	opVoteNote     = operation{name: "note.vote"}
	opReactNote    = operation{name: "note.react"}
	opMoveNote     = operation{name: "note.move"}
	opClearNotes   = operation{name: "notes.clear", admin: true, destructive: true}
)

// AddNote appends a note to columnID and returns its id.
func (s *Store) AddNote(columnID, content, author, authorID string) (string, error) {
	id := newID()
	err := s.commit(opAddNote, func(b *domain.Board) (write, error) {
		if _, ok := b.Columns[columnID]; !ok {
			return nil, domain.ErrColumnNotFound
		}
		n := domain.NewNote(b.Notes, id, columnID, content, author, authorID, s.nowMillis())
		b.Notes = domain.AddNote(b.Notes, n)
		return s.merge(Path(s.id, "notes"), map[string]any{id: n}), nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// UpdateNote replaces the content of note id. Like UpdateColumn the write
// is conditional on the note's revision.
func (s *Store) UpdateNote(id, content string) error {
	return s.commit(opUpdateNote, func(b *domain.Board) (write, error) {
		n, ok := b.Notes[id]
		if !ok || n.Content == content {
			return nil, nil
		}
		b.Notes, _ = domain.UpdateNoteContent(b.Notes, id, content)
		w, rev := s.conditionalMergeLocked(sub("notes", id), Path(s.id, "notes", id), n.Rev, map[string]any{"content": content})
		n = b.Notes[id]
		n.Rev = rev
		b.Notes[id] = n
		return w, nil
	})
}

// ReorderNotes orders the notes of columnID by their position in ids.
func (s *Store) ReorderNotes(columnID string, ids []string) error {
	return s.commit(opReorderNotes, func(b *domain.Board) (write, error) {
		var changed map[string]int
		b.Notes, changed = domain.ReorderNotes(b.Notes, columnID, ids)
		if len(changed) == 0 {
			return nil, nil
		}
		fields := make(map[string]any, len(changed))
		for id, order := range changed {
			fields[sub(id, "order")] = order
		}
		return s.merge(Path(s.id, "notes"), fields), nil
	})
}

// DeleteNote removes note id with its comments and reactions.
func (s *Store) DeleteNote(id string) error {
	return s.commit(opDeleteNote, func(b *domain.Board) (write, error) {
		var ok bool
		if b.Notes, ok = domain.DeleteNote(b.Notes, id); !ok {
			return nil, nil
		}
		return s.merge(Path(s.id, "notes"), map[string]any{id: nil}), nil
	})
}

// VoteNote toggles the user's vote on note id. The remote write sets the
// vote atomically on the stored note, so concurrent voters never lose each
// other's votes.
func (s *Store) VoteNote(id string) error {
	uid := s.user.ID
	return s.commit(opVoteNote, func(b *domain.Board) (write, error) {
		n, ok := b.Notes[id]
		if !ok {
			return nil, nil
		}
		on := !slices.Contains(n.VotedBy, uid)
		b.Notes = domain.AddNote(b.Notes, domain.SetVote(n, uid, on))
		return s.patchNote(id, func(n domain.Note) domain.Note {
			return domain.SetVote(n, uid, on)
		}, "votes", "votedBy"), nil
	})
}

// ReactNote toggles the user's emoji reaction on note id.
func (s *Store) ReactNote(id, emoji string) error {
	if emoji == "" {
		return domain.ErrEmojiEmpty
	}
	uid := s.user.ID
	return s.commit(opReactNote, func(b *domain.Board) (write, error) {
		n, ok := b.Notes[id]
		if !ok {
			return nil, nil
		}
		next := domain.ToggleReaction(n, uid, emoji)
		target, _ := domain.ReactionOf(next, uid)
		b.Notes = domain.AddNote(b.Notes, next)
		return s.patchNote(id, func(n domain.Note) domain.Note {
			return domain.SetReaction(n, uid, target)
		}, "reactions"), nil
	})
}

// MoveNote moves note id to columnID keeping its order.
func (s *Store) MoveNote(id, columnID string) error {
	return s.commit(opMoveNote, func(b *domain.Board) (write, error) {
		if _, ok := b.Columns[columnID]; !ok {
			return nil, domain.ErrColumnNotFound
		}
		var ok bool
		if b.Notes, ok = domain.MoveNote(b.Notes, id, columnID); !ok {
			return nil, nil
		}
		return s.merge(Path(s.id, "notes"), map[string]any{sub(id, "columnId"): columnID}), nil
	})
}

// ClearAllNotes deletes every note of the board. If the delete fails the
// replica reloads from the remote store and the failure is reported through
// OnError.
func (s *Store) ClearAllNotes() error {
	return s.commit(opClearNotes, func(b *domain.Board) (write, error) {
		b.Notes = domain.Notes{}
		return func(ctx context.Context, r Remote) error {
			return r.Delete(ctx, Path(s.id, "notes"))
		}, nil
	})
}

// patchNote rewrites the listed fields of the stored note id with the result
// of fn in one atomic update. Other fields are kept as stored.
func (s *Store) patchNote(id string, fn func(domain.Note) domain.Note, keys ...string) write {
	return func(ctx context.Context, r Remote) error {
		return r.Update(ctx, Path(s.id, "notes", id), func(current []byte) (any, error) {
			if current == nil {
				return nil, domain.ErrNoteNotFound
			}
			var stored map[string]any
			if err := sonic.Unmarshal(current, &stored); err != nil {
				return nil, err
			}
			var n domain.Note
			if err := sonic.Unmarshal(current, &n); err != nil {
				return nil, err
			}
			data, err := sonic.Marshal(fn(n))
			if err != nil {
				return nil, err
			}
			var updated map[string]any
			if err := sonic.Unmarshal(data, &updated); err != nil {
				return nil, err
			}
			for _, k := range keys {
				if v, ok := updated[k]; ok {
					stored[k] = v
				} else {
					delete(stored, k)
				}
			}
			return stored, nil
		})
	}
}
