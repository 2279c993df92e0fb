package domain

// DefaultColumns returns the columns a new board starts with.
func DefaultColumns() Columns {
	return Columns{
		"went-well":    {ID: "went-well", Title: "What went well", Color: "green", TitleColor: "green-dark", Order: 0, Rev: 1},
		"to-improve":   {ID: "to-improve", Title: "What to improve", Color: "red", TitleColor: "red-dark", Order: 1, Rev: 1},
		"action-items": {ID: "action-items", Title: "Action items", Color: "blue", TitleColor: "blue-dark", Order: 2, Rev: 1},
	}
}

// DefaultBoard is the state shown before the first snapshot of id arrives.
func DefaultBoard(id string) Board {
	b := Board{
		ID:      id,
		Columns: DefaultColumns(),
		Timer:   DefaultTimer(),
	}
	b.Normalize()
	return b
}

// NewBoard builds the initial snapshot written by the creating admin.
func NewBoard(id, name, adminID string, now int64) Board {
	b := DefaultBoard(id)
	b.Name = name
	b.AdminID = adminID
	b.CreatedAt = now
	return b
}
