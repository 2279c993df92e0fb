package domain

import (
	"slices"
	"sort"
	"strings"
)

// Poll is a single-choice question run by the board admin.
type Poll struct {
	ID        string       `json:"id"`
	Question  string       `json:"question"`
	Options   []PollOption `json:"options"`
	CreatedAt int64        `json:"createdAt"`
	CreatedBy string       `json:"createdBy"`
	IsActive  bool         `json:"isActive"`
	ClosedAt  int64        `json:"closedAt,omitempty"`
}

// PollOption is one answer of a poll. ID is the option's index.
type PollOption struct {
	ID    int      `json:"id"`
	Text  string   `json:"text"`
	Votes []string `json:"votes"`
}

// Polls is keyed by poll id.
type Polls map[string]Poll

// Clone returns a deep copy of the map.
func (p Polls) Clone() Polls {
	if p == nil {
		return nil
	}
	out := make(Polls, len(p))
	for k, v := range p {
		out[k] = v.Clone()
	}
	return out
}

// Clone returns a deep copy of the poll.
func (p Poll) Clone() Poll {
	out := p
	out.Options = make([]PollOption, len(p.Options))
	for i, o := range p.Options {
		o.Votes = append([]string{}, o.Votes...)
		out.Options[i] = o
	}
	return out
}

// Sorted returns every poll, oldest first.
func (p Polls) Sorted() []Poll {
	out := make([]Poll, 0, len(p))
	for _, poll := range p {
		out = append(out, poll)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Active returns the active polls, oldest first.
func (p Polls) Active() []Poll {
	var out []Poll
	for _, poll := range p.Sorted() {
		if poll.IsActive {
			out = append(out, poll)
		}
	}
	return out
}

// NewPoll validates the question and options and builds an active poll.
func NewPoll(id, question string, options []string, createdBy string, now int64) (Poll, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Poll{}, ErrQuestionIsEmpty
	}
	if len(options) < 2 {
		return Poll{}, ErrNotEnoughOptions
	}
	p := Poll{
		ID:        id,
		Question:  question,
		Options:   make([]PollOption, 0, len(options)),
		CreatedAt: now,
		CreatedBy: createdBy,
		IsActive:  true,
	}
	for i, text := range options {
		text = strings.TrimSpace(text)
		if text == "" {
			return Poll{}, ErrOptionIsEmpty
		}
		p.Options = append(p.Options, PollOption{ID: i, Text: text, Votes: []string{}})
	}
	return p, nil
}

// VotePoll records userID's single choice for optionID. Voting on an
// inactive poll changes nothing. The second result reports a change.
func VotePoll(p Poll, optionID int, userID string) (Poll, bool, error) {
	if !p.IsActive {
		return p, false, nil
	}
	target := -1
	for i, o := range p.Options {
		if o.ID == optionID {
			target = i
			break
		}
	}
	if target < 0 {
		return p, false, ErrOptionNotFound
	}
	if slices.Contains(p.Options[target].Votes, userID) && p.voteCount(userID) == 1 {
		return p, false, nil
	}
	out := p.Clone()
	for i := range out.Options {
		out.Options[i].Votes = slices.DeleteFunc(out.Options[i].Votes, func(id string) bool { return id == userID })
	}
	out.Options[target].Votes = append(out.Options[target].Votes, userID)
	return out, true, nil
}

func (p Poll) voteCount(userID string) int {
	n := 0
	for _, o := range p.Options {
		for _, id := range o.Votes {
			if id == userID {
				n++
			}
		}
	}
	return n
}

// ClosePoll deactivates p. Closing a closed poll returns it unchanged.
func ClosePoll(p Poll, now int64) (Poll, bool) {
	if !p.IsActive {
		return p, false
	}
	out := p.Clone()
	out.IsActive = false
	out.ClosedAt = now
	return out, true
}

// CloseActive closes every active poll other than except and returns the ids
// it closed, oldest poll first.
func CloseActive(polls Polls, except string, now int64) (Polls, []string) {
	out := polls.Clone()
	var closed []string
	for _, p := range polls.Active() {
		if p.ID == except {
			continue
		}
		out[p.ID], _ = ClosePoll(p, now)
		closed = append(closed, p.ID)
	}
	return out, closed
}
