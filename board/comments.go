package board

import (
	"strings"

	"retro-sync/domain"
)

var (
	opAddComment    = operation{name: "comment.add"}
	opUpdateComment = operation{name: "comment.update"}
	opDeleteComment = operation{name: "comment.delete"}
)

// AddComment attaches a comment by the store's user to note noteID.
func (s *Store) AddComment(noteID, content string) (string, error) {
	id := newCommentID()
	err := s.commit(opAddComment, func(b *domain.Board) (write, error) {
		n, ok := b.Notes[noteID]
		if !ok {
			return nil, domain.ErrNoteNotFound
		}
		c := domain.Comment{
			ID:        id,
			Content:   strings.TrimSpace(content),
			Author:    s.user.Name,
			AuthorID:  s.user.ID,
			CreatedAt: s.nowMillis(),
		}
		b.Notes = domain.AddNote(b.Notes, domain.AddComment(n, c))
		return s.patchNote(noteID, func(n domain.Note) domain.Note {
			return domain.AddComment(n, c)
		}, "comments"), nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// UpdateComment replaces the content of a comment.
func (s *Store) UpdateComment(noteID, commentID, content string) error {
	return s.commit(opUpdateComment, func(b *domain.Board) (write, error) {
		n, ok := b.Notes[noteID]
		if !ok {
			return nil, nil
		}
		now := s.nowMillis()
		content = strings.TrimSpace(content)
		if n, ok = domain.UpdateComment(n, commentID, content, now); !ok {
			return nil, nil
		}
		b.Notes = domain.AddNote(b.Notes, n)
		return s.merge(Path(s.id, "notes"), map[string]any{
			sub(noteID, "comments", commentID, "content"):   content,
			sub(noteID, "comments", commentID, "updatedAt"): now,
		}), nil
	})
}

// DeleteComment removes a comment.
func (s *Store) DeleteComment(noteID, commentID string) error {
	return s.commit(opDeleteComment, func(b *domain.Board) (write, error) {
		n, ok := b.Notes[noteID]
		if !ok {
			return nil, nil
		}
		if n, ok = domain.DeleteComment(n, commentID); !ok {
			return nil, nil
		}
		b.Notes = domain.AddNote(b.Notes, n)
		return s.merge(Path(s.id, "notes"), map[string]any{sub(noteID, "comments", commentID): nil}), nil
	})
}
