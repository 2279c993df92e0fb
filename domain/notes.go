package domain

import "slices"

// NewNote builds a note appended to the end of columnID.
func NewNote(notes Notes, id, columnID, content, author, authorID string, now int64) Note {
	return Note{
		ID:        id,
		Content:   content,
		Author:    author,
		AuthorID:  authorID,
		Votes:     0,
		VotedBy:   []string{},
		Order:     notes.NextOrder(columnID),
		CreatedAt: now,
		ColumnID:  columnID,
		Rev:       1,
	}
}

// AddNote returns a copy of notes containing n.
func AddNote(notes Notes, n Note) Notes {
	out := notes.Clone()
	if out == nil {
		out = Notes{}
	}
	out[n.ID] = n
	return out
}

// UpdateNoteContent replaces the content of note id and bumps its revision.
// Votes, order and comments are untouched.
func UpdateNoteContent(notes Notes, id, content string) (Notes, bool) {
	n, ok := notes[id]
	if !ok {
		return notes, false
	}
	out := notes.Clone()
	n = out[id]
	n.Content = content
	n.Rev++
	out[id] = n
	return out, true
}

// ReorderNotes assigns each listed note of columnID its index as order. Ids
// that do not belong to columnID are ignored. The returned map holds only
// the orders that changed.
func ReorderNotes(notes Notes, columnID string, ids []string) (Notes, map[string]int) {
	out := notes.Clone()
	changed := map[string]int{}
	for i, id := range ids {
		n, ok := out[id]
		if !ok || n.ColumnID != columnID {
			continue
		}
		if n.Order != i {
			n.Order = i
			out[id] = n
			changed[id] = i
		}
	}
	return out, changed
}

// DeleteNote removes note id with its comments and reactions.
func DeleteNote(notes Notes, id string) (Notes, bool) {
	if _, ok := notes[id]; !ok {
		return notes, false
	}
	out := notes.Clone()
	delete(out, id)
	return out, true
}

// MoveNote reassigns note id to columnID. The order is kept as is.
func MoveNote(notes Notes, id, columnID string) (Notes, bool) {
	n, ok := notes[id]
	if !ok || n.ColumnID == columnID {
		return notes, false
	}
	out := notes.Clone()
	n = out[id]
	n.ColumnID = columnID
	out[id] = n
	return out, true
}

// ToggleVote adds or removes userID from the voters of n. Votes always
// equals the number of distinct voters afterwards.
func ToggleVote(n Note, userID string) Note {
	out := n.Clone()
	voters := make([]string, 0, len(out.VotedBy)+1)
	found := false
	for _, id := range out.VotedBy {
		if id == userID {
			found = true
			continue
		}
		if !slices.Contains(voters, id) {
			voters = append(voters, id)
		}
	}
	if !found {
		voters = append(voters, userID)
	}
	out.VotedBy = voters
	out.Votes = len(voters)
	return out
}

// SetVote makes userID a voter of n when on is true and removes them
// otherwise. Duplicate voters are dropped.
func SetVote(n Note, userID string, on bool) Note {
	if slices.Contains(n.VotedBy, userID) != on {
		return ToggleVote(n, userID)
	}
	out := n.Clone()
	voters := make([]string, 0, len(out.VotedBy))
	for _, id := range out.VotedBy {
		if !slices.Contains(voters, id) {
			voters = append(voters, id)
		}
	}
	out.VotedBy = voters
	out.Votes = len(voters)
	return out
}

// ToggleReaction toggles userID's reaction with emoji on n. A user belongs to
// at most one reactor set: reacting with a new emoji moves them.
func ToggleReaction(n Note, userID, emoji string) Note {
	if cur, ok := ReactionOf(n, userID); ok && cur == emoji {
		return SetReaction(n, userID, "")
	}
	return SetReaction(n, userID, emoji)
}

// SetReaction leaves userID in the reactor set of emoji only. An empty emoji
// clears the user's reaction. Empty sets are dropped.
func SetReaction(n Note, userID, emoji string) Note {
	out := n.Clone()
	reactions := make(map[string][]string, len(out.Reactions)+1)
	for key, users := range out.Reactions {
		kept := slices.DeleteFunc(users, func(id string) bool { return id == userID })
		if len(kept) > 0 {
			reactions[key] = kept
		}
	}
	if emoji != "" {
		reactions[emoji] = append(reactions[emoji], userID)
	}
	if len(reactions) == 0 {
		reactions = nil
	}
	out.Reactions = reactions
	return out
}

// ReactionOf returns the emoji userID reacted with on n, if any.
func ReactionOf(n Note, userID string) (string, bool) {
	for key, users := range n.Reactions {
		if slices.Contains(users, userID) {
			return key, true
		}
	}
	return "", false
}
