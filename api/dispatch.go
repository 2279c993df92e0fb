package api

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"

	"retro-sync/domain"
)

// commandHandler applies one decoded client command to the session. The
// returned value is sent back in the result frame.
type commandHandler func(ctx context.Context, s *session, payload []byte) (any, error)

type idPayload struct {
	ID string `json:"id"`
}

type createdPayload struct {
	ID string `json:"id"`
}

type addColumnPayload struct {
	Title string             `json:"title"`
	Color domain.ColorOption `json:"color"`
}

type updateColumnPayload struct {
	ID string `json:"id"`
	domain.ColumnPatch
}

type idsPayload struct {
	ColumnID string   `json:"columnId,omitempty"`
	IDs      []string `json:"ids"`
}

type notePayload struct {
	ID       string `json:"id,omitempty"`
	ColumnID string `json:"columnId,omitempty"`
	Content  string `json:"content,omitempty"`
	Emoji    string `json:"emoji,omitempty"`
}

type commentPayload struct {
	NoteID    string `json:"noteId"`
	CommentID string `json:"commentId,omitempty"`
	Content   string `json:"content,omitempty"`
}

type pollPayload struct {
	ID       string   `json:"id,omitempty"`
	Question string   `json:"question,omitempty"`
	Options  []string `json:"options,omitempty"`
	OptionID int      `json:"optionId"`
}

type timerPayload struct {
	Seconds int `json:"seconds"`
}

type musicPayload struct {
	Track string `json:"track"`
}

var commands = map[string]commandHandler{
	"column.add": func(_ context.Context, s *session, raw []byte) (any, error) {
		var p addColumnPayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		return created(s.store.AddColumn(p.Title, p.Color))
	},
	"column.update": func(_ context.Context, s *session, raw []byte) (any, error) {
		var p updateColumnPayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		return nil, s.store.UpdateColumn(p.ID, p.ColumnPatch)
	},
	"column.delete": func(_ context.Context, s *session, raw []byte) (any, error) {
		var p idPayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		return nil, s.store.DeleteColumn(p.ID)
	},
	"column.move": func(_ context.Context, s *session, raw []byte) (any, error) {
		var p idsPayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		return nil, s.store.MoveColumn(p.IDs)
	},

	"note.add": func(_ context.Context, s *session, raw []byte) (any, error) {
		var p notePayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		return created(s.store.AddNote(p.ColumnID, p.Content, s.user.Name, s.user.ID))
	},
	"note.update": func(_ context.Context, s *session, raw []byte) (any, error) {
		var p notePayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		return nil, s.store.UpdateNote(p.ID, p.Content)
	},
	"note.reorder": func(_ context.Context, s *session, raw []byte) (any, error) {
		var p idsPayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		return nil, s.store.ReorderNotes(p.ColumnID, p.IDs)
	},
	"note.delete": func(_ context.Context, s *session, raw []byte) (any, error) {
		var p idPayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		return nil, s.store.DeleteNote(p.ID)
	},
	"note.vote": func(_ context.Context, s *session, raw []byte) (any, error) {
		var p idPayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		return nil, s.store.VoteNote(p.ID)
	},
	"note.react": func(_ context.Context, s *session, raw []byte) (any, error) {
		var p notePayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		return nil, s.store.ReactNote(p.ID, p.Emoji)
	},
	"note.move": func(_ context.Context, s *session, raw []byte) (any, error) {
		var p notePayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		return nil, s.store.MoveNote(p.ID, p.ColumnID)
	},
	"notes.clear": func(_ context.Context, s *session, _ []byte) (any, error) {
		return nil, s.store.ClearAllNotes()
	},

	"comment.add": func(_ context.Context, s *session, raw []byte) (any, error) {
		var p commentPayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		return created(s.store.AddComment(p.NoteID, p.Content))
	},
	"comment.update": func(_ context.Context, s *session, raw []byte) (any, error) {
		var p commentPayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		return nil, s.store.UpdateComment(p.NoteID, p.CommentID, p.Content)
	},
	"comment.delete": func(_ context.Context, s *session, raw []byte) (any, error) {
		var p commentPayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		return nil, s.store.DeleteComment(p.NoteID, p.CommentID)
	},

	"poll.create": func(_ context.Context, s *session, raw []byte) (any, error) {
		var p pollPayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		return created(s.store.CreatePoll(p.Question, p.Options))
	},
	"poll.vote": func(_ context.Context, s *session, raw []byte) (any, error) {
		var p pollPayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		return nil, s.store.VotePoll(p.ID, p.OptionID)
	},
	"poll.close": func(_ context.Context, s *session, raw []byte) (any, error) {
		var p idPayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		return nil, s.store.ClosePoll(p.ID)
	},
	"poll.delete": func(_ context.Context, s *session, raw []byte) (any, error) {
		var p idPayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		return nil, s.store.DeletePoll(p.ID)
	},

	"timer.start": func(_ context.Context, s *session, _ []byte) (any, error) {
		return nil, s.timer.Start()
	},
	"timer.pause": func(_ context.Context, s *session, _ []byte) (any, error) {
		return nil, s.timer.Pause()
	},
	"timer.reset": func(_ context.Context, s *session, _ []byte) (any, error) {
		return nil, s.timer.Reset()
	},
	"timer.duration": func(_ context.Context, s *session, raw []byte) (any, error) {
		var p timerPayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		return nil, s.timer.SetDuration(p.Seconds)
	},

	"music.play": func(_ context.Context, s *session, raw []byte) (any, error) {
		var p musicPayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		return nil, s.music.Play(p.Track)
	},
	"music.pause": func(_ context.Context, s *session, _ []byte) (any, error) {
		return nil, s.music.Pause()
	},
	"music.toggle": func(_ context.Context, s *session, _ []byte) (any, error) {
		return nil, s.music.Toggle()
	},
	"music.track": func(_ context.Context, s *session, raw []byte) (any, error) {
		var p musicPayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		return nil, s.music.SetTrack(p.Track)
	},

	"members.offline": func(ctx context.Context, s *session, _ []byte) (any, error) {
		return s.tracker.Offline(ctx, s.store.Snapshot())
	},
	"board.reload": func(ctx context.Context, s *session, _ []byte) (any, error) {
		return nil, s.store.Reload(ctx)
	},
}

// decodePayload decodes raw into v. A missing payload leaves v zeroed.
func decodePayload(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := sonic.ConfigStd.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidPayload, err)
	}
	return nil
}

func created(id string, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return createdPayload{ID: id}, nil
}
