package domain

import "sort"

// AddComment returns a copy of n with c attached.
func AddComment(n Note, c Comment) Note {
	out := n.Clone()
	if out.Comments == nil {
		out.Comments = map[string]Comment{}
	}
	out.Comments[c.ID] = c
	return out
}

// UpdateComment replaces the content of comment id on n.
func UpdateComment(n Note, id, content string, now int64) (Note, bool) {
	c, ok := n.Comments[id]
	if !ok {
		return n, false
	}
	out := n.Clone()
	c.Content = content
	c.UpdatedAt = now
	out.Comments[id] = c
	return out, true
}

// DeleteComment removes comment id from n.
func DeleteComment(n Note, id string) (Note, bool) {
	if _, ok := n.Comments[id]; !ok {
		return n, false
	}
	out := n.Clone()
	delete(out.Comments, id)
	if len(out.Comments) == 0 {
		out.Comments = nil
	}
	return out, true
}

// SortedComments returns the comments of n oldest first.
func (n Note) SortedComments() []Comment {
	out := make([]Comment, 0, len(n.Comments))
	for _, c := range n.Comments {
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}
