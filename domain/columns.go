package domain

// ColumnPatch carries the column fields a caller wants to change.
type ColumnPatch struct {
	Title      *string `json:"title,omitempty"`
	Color      *string `json:"color,omitempty"`
	TitleColor *string `json:"titleColor,omitempty"`
}

// Fields returns the patch as a partial document.
func (p ColumnPatch) Fields() map[string]any {
	fields := map[string]any{}
	if p.Title != nil {
		fields["title"] = *p.Title
	}
	if p.Color != nil {
		fields["color"] = *p.Color
	}
	if p.TitleColor != nil {
		fields["titleColor"] = *p.TitleColor
	}
	return fields
}

// Empty reports whether the patch changes nothing.
func (p ColumnPatch) Empty() bool {
	return p.Title == nil && p.Color == nil && p.TitleColor == nil
}

// NewColumn builds a column placed after every existing column.
func NewColumn(cols Columns, id, title string, color ColorOption) Column {
	return Column{
		ID:         id,
		Title:      title,
		Color:      color.Color,
		TitleColor: color.TitleColor,
		Order:      cols.NextOrder(),
		Rev:        1,
	}
}

// AddColumn returns a copy of cols containing col.
func AddColumn(cols Columns, col Column) Columns {
	out := cols.Clone()
	if out == nil {
		out = Columns{}
	}
	out[col.ID] = col
	return out
}

// UpdateColumn applies p to the column id and bumps its revision. The second
// result is false when the column does not exist.
func UpdateColumn(cols Columns, id string, p ColumnPatch) (Columns, bool) {
	col, ok := cols[id]
	if !ok {
		return cols, false
	}
	if p.Title != nil {
		col.Title = *p.Title
	}
	if p.Color != nil {
		col.Color = *p.Color
	}
	if p.TitleColor != nil {
		col.TitleColor = *p.TitleColor
	}
	col.Rev++
	out := cols.Clone()
	out[id] = col
	return out, true
}

// DeleteColumn removes the column and every note that references it. It
// returns the ids of the removed notes.
func DeleteColumn(cols Columns, notes Notes, id string) (Columns, Notes, []string) {
	outCols := cols.Clone()
	delete(outCols, id)
	outNotes := make(Notes, len(notes))
	var removed []string
	for nid, n := range notes {
		if n.ColumnID == id {
			removed = append(removed, nid)
			continue
		}
		outNotes[nid] = n
	}
	return outCols, outNotes, removed
}

// MoveColumns assigns each listed column its index as order. Columns not in
// ids keep their order. The returned map holds only the orders that changed.
func MoveColumns(cols Columns, ids []string) (Columns, map[string]int) {
	out := cols.Clone()
	changed := map[string]int{}
	for i, id := range ids {
		col, ok := out[id]
		if !ok {
			continue
		}
		if col.Order != i {
			col.Order = i
			out[id] = col
			changed[id] = i
		}
	}
	return out, changed
}
