package domain

// Export is the read-only snapshot handed to the export formatter.
type Export struct {
	BoardID   string       `json:"boardId"`
	BoardName string       `json:"boardName"`
	Columns   []Column     `json:"columns"`
	Notes     []ExportNote `json:"notes"`
	Polls     []Poll       `json:"polls"`
	Members   []Member     `json:"members"`
}

// ExportNote is a note with its comments flattened oldest first.
type ExportNote struct {
	Note
	Comments []Comment `json:"comments"`
}

// BuildExport flattens b into display order.
func BuildExport(b Board, members []Member) Export {
	exp := Export{
		BoardID:   b.ID,
		BoardName: b.Name,
		Columns:   b.Columns.Sorted(),
		Notes:     make([]ExportNote, 0, len(b.Notes)),
		Polls:     b.Polls.Sorted(),
		Members:   members,
	}
	for _, col := range exp.Columns {
		for _, n := range b.Notes.InColumn(col.ID) {
			exp.Notes = append(exp.Notes, ExportNote{Note: n, Comments: n.SortedComments()})
		}
	}
	if exp.Members == nil {
		exp.Members = []Member{}
	}
	return exp
}
