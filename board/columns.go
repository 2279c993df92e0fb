package board

import (
	"context"
	"strings"

	"github.com/bytedance/sonic"

	"retro-sync/domain"
)

var (
	opAddColumn    = operation{name: "column.add", admin: true}
	opUpdateColumn = operation{name: "column.update", admin: true}
	opDeleteColumn = operation{name: "column.delete", admin: true}
	opMoveColumn   = operation{name: "column.move", admin: true}
)

// AddColumn appends a column and returns its id.
func (s *Store) AddColumn(title string, color domain.ColorOption) (string, error) {
	id := newID()
	err := s.commit(opAddColumn, func(b *domain.Board) (write, error) {
		col := domain.NewColumn(b.Columns, id, strings.TrimSpace(title), color)
		b.Columns = domain.AddColumn(b.Columns, col)
		return s.merge(Path(s.id, "columns"), map[string]any{id: col}), nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// UpdateColumn applies p to column id. The write only lands if nobody else
// changed the column since this replica saw it; otherwise a conflict is
// reported through OnError.
func (s *Store) UpdateColumn(id string, p domain.ColumnPatch) error {
	return s.commit(opUpdateColumn, func(b *domain.Board) (write, error) {
		col, ok := b.Columns[id]
		if !ok || p.Empty() {
			return nil, nil
		}
		b.Columns, _ = domain.UpdateColumn(b.Columns, id, p)
		w, rev := s.conditionalMergeLocked(sub("columns", id), Path(s.id, "columns", id), col.Rev, p.Fields())
		col = b.Columns[id]
		col.Rev = rev
		b.Columns[id] = col
		return w, nil
	})
}

// DeleteColumn removes column id together with its notes.
func (s *Store) DeleteColumn(id string) error {
	return s.commit(opDeleteColumn, func(b *domain.Board) (write, error) {
		if _, ok := b.Columns[id]; !ok {
			return nil, nil
		}
		b.Columns, b.Notes, _ = domain.DeleteColumn(b.Columns, b.Notes, id)
		return func(ctx context.Context, r Remote) error {
			if err := r.MergeFields(ctx, Path(s.id, "columns"), map[string]any{id: nil}); err != nil {
				return err
			}
			return r.Update(ctx, Path(s.id, "notes"), func(current []byte) (any, error) {
				return dropColumnNotes(current, id)
			})
		}, nil
	})
}

// dropColumnNotes removes every stored note of columnID, including notes
// this replica has not seen yet.
func dropColumnNotes(current []byte, columnID string) (any, error) {
	if current == nil {
		return nil, nil
	}
	var notes map[string]map[string]any
	if err := sonic.Unmarshal(current, &notes); err != nil {
		return nil, err
	}
	for id, n := range notes {
		if n["columnId"] == columnID {
			delete(notes, id)
		}
	}
	if len(notes) == 0 {
		return nil, nil
	}
	return notes, nil
}

// MoveColumn orders the listed columns by their position in ids.
func (s *Store) MoveColumn(ids []string) error {
	return s.commit(opMoveColumn, func(b *domain.Board) (write, error) {
		var changed map[string]int
		b.Columns, changed = domain.MoveColumns(b.Columns, ids)
		if len(changed) == 0 {
			return nil, nil
		}
		fields := make(map[string]any, len(changed))
		for id, order := range changed {
			fields[sub(id, "order")] = order
		}
		return s.merge(Path(s.id, "columns"), fields), nil
	})
}
