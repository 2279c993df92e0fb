package domain

import "sort"

// Board is the aggregate root of one retrospective session. The JSON field
// names are the persisted document shape shared by every replica.
type Board struct {
	ID          string     `json:"id,omitempty"`
	Name        string     `json:"name"`
	AdminID     string     `json:"adminId"`
	CreatedAt   int64      `json:"createdAt"`
	Columns     Columns    `json:"columns,omitempty"`
	Notes       Notes      `json:"notes,omitempty"`
	Timer       TimerState `json:"timer"`
	Music       MusicState `json:"music"`
	Polls       Polls      `json:"polls,omitempty"`
	OnlineUsers Members    `json:"onlineUsers,omitempty"`
}

// Column groups notes on the board.
type Column struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Color      string `json:"color"`
	TitleColor string `json:"titleColor"`
	Order      int    `json:"order"`
	Rev        int64  `json:"rev,omitempty"`
}

// ColorOption is the pair of color tokens picked for a new column.
type ColorOption struct {
	Color      string `json:"color"`
	TitleColor string `json:"titleColor"`
}

// Note is a sticky note placed in a column.
type Note struct {
	ID        string              `json:"id"`
	Content   string              `json:"content"`
	Author    string              `json:"author"`
	AuthorID  string              `json:"authorId"`
	Votes     int                 `json:"votes"`
	VotedBy   []string            `json:"votedBy"`
	Order     int                 `json:"order"`
	CreatedAt int64               `json:"createdAt"`
	ColumnID  string              `json:"columnId"`
	Color     string              `json:"color,omitempty"`
	Comments  map[string]Comment  `json:"comments,omitempty"`
	Reactions map[string][]string `json:"reactions,omitempty"`
	Rev       int64               `json:"rev,omitempty"`
}

// Comment is attached to a single note.
type Comment struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Author    string `json:"author"`
	AuthorID  string `json:"authorId"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt,omitempty"`
}

// Clone returns a deep copy of b.
func (b Board) Clone() Board {
	out := b
	out.Columns = b.Columns.Clone()
	out.Notes = b.Notes.Clone()
	out.Polls = b.Polls.Clone()
	out.OnlineUsers = b.OnlineUsers.Clone()
	return out
}

// Normalize replaces nil collections with empty ones and repairs derived
// fields so decoded snapshots can be mutated safely.
func (b *Board) Normalize() {
	if b.Columns == nil {
		b.Columns = Columns{}
	}
	if b.Notes == nil {
		b.Notes = Notes{}
	}
	if b.Polls == nil {
		b.Polls = Polls{}
	}
	if b.OnlineUsers == nil {
		b.OnlineUsers = Members{}
	}
	for id, p := range b.Polls {
		if p.ID == "" {
			p.ID = id
			b.Polls[id] = p
		}
	}
	for id, n := range b.Notes {
		if n.VotedBy == nil {
			n.VotedBy = []string{}
		}
		n.Votes = len(n.VotedBy)
		b.Notes[id] = n
	}
}

// Columns is keyed by column id.
type Columns map[string]Column

// Clone returns a copy of the map.
func (c Columns) Clone() Columns {
	if c == nil {
		return nil
	}
	out := make(Columns, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// NextOrder returns max(order)+1, or 0 for an empty set.
func (c Columns) NextOrder() int {
	next, seen := 0, false
	for _, col := range c {
		if !seen || col.Order+1 > next {
			next, seen = col.Order+1, true
		}
	}
	return next
}

// Sorted returns the columns in display order.
func (c Columns) Sorted() []Column {
	out := make([]Column, 0, len(c))
	for _, col := range c {
		out = append(out, col)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Notes is keyed by note id.
type Notes map[string]Note

// Clone returns a deep copy of the map.
func (n Notes) Clone() Notes {
	if n == nil {
		return nil
	}
	out := make(Notes, len(n))
	for k, v := range n {
		out[k] = v.Clone()
	}
	return out
}

// Clone returns a deep copy of the note.
func (n Note) Clone() Note {
	out := n
	if n.VotedBy != nil {
		out.VotedBy = append([]string{}, n.VotedBy...)
	}
	if n.Comments != nil {
		out.Comments = make(map[string]Comment, len(n.Comments))
		for k, v := range n.Comments {
			out.Comments[k] = v
		}
	}
	if n.Reactions != nil {
		out.Reactions = make(map[string][]string, len(n.Reactions))
		for k, v := range n.Reactions {
			out.Reactions[k] = append([]string{}, v...)
		}
	}
	return out
}

// NextOrder returns max(order)+1 among the notes of columnID, or 0.
func (n Notes) NextOrder(columnID string) int {
	next, seen := 0, false
	for _, note := range n {
		if note.ColumnID != columnID {
			continue
		}
		if !seen || note.Order+1 > next {
			next, seen = note.Order+1, true
		}
	}
	return next
}

// InColumn returns the notes of columnID sorted by order, then creation time.
func (n Notes) InColumn(columnID string) []Note {
	out := make([]Note, 0)
	for _, note := range n {
		if note.ColumnID == columnID {
			out = append(out, note)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// BoardInfo is the directory entry of a board, used for name uniqueness and
// lookups without loading the whole document.
type BoardInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AdminID   string `json:"adminId"`
	CreatedAt int64  `json:"createdAt"`
}

// Info returns the directory entry of b.
func (b Board) Info() BoardInfo {
	return BoardInfo{ID: b.ID, Name: b.Name, AdminID: b.AdminID, CreatedAt: b.CreatedAt}
}
