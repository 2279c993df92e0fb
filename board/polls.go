package board

import (
	"context"

	"github.com/bytedance/sonic"

	"retro-sync/domain"
)

var (
	opCreatePoll = operation{name: "poll.create", admin: true}
	opVotePoll   = operation{name: "poll.vote"}
	opClosePoll  = operation{name: "poll.close", admin: true}
	opDeletePoll = operation{name: "poll.delete", admin: true}
)

// CreatePoll starts a poll and closes any poll that is still active, unless
// the store was built WithKeepActivePolls.
func (s *Store) CreatePoll(question string, options []string) (string, error) {
	id := newID()
	err := s.commit(opCreatePoll, func(b *domain.Board) (write, error) {
		now := s.nowMillis()
		p, err := domain.NewPoll(id, question, options, s.user.ID, now)
		if err != nil {
			return nil, err
		}
		var (
			polls  domain.Polls
			closed []string
		)
		if s.keepActivePolls {
			polls = b.Polls.Clone()
			if open := len(b.Polls.Active()); open > 0 {
				s.log.WithField("active", open).Warn("poll created while others are still active")
			}
		} else {
			polls, closed = domain.CloseActive(b.Polls, id, now)
		}
		if polls == nil {
			polls = domain.Polls{}
		}
		polls[id] = p
		b.Polls = polls

		fields := map[string]any{id: p}
		for _, cid := range closed {
			fields[sub(cid, "isActive")] = false
			fields[sub(cid, "closedAt")] = now
		}
		return s.merge(Path(s.id, "polls"), fields), nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// VotePoll records the user's single choice on poll id. Votes on a closed
// poll are ignored.
func (s *Store) VotePoll(id string, optionID int) error {
	uid := s.user.ID
	return s.commit(opVotePoll, func(b *domain.Board) (write, error) {
		p, ok := b.Polls[id]
		if !ok {
			return nil, domain.ErrPollNotFound
		}
		next, changed, err := domain.VotePoll(p, optionID, uid)
		if err != nil || !changed {
			return nil, err
		}
		polls := b.Polls.Clone()
		polls[id] = next
		b.Polls = polls
		return func(ctx context.Context, r Remote) error {
			return r.Update(ctx, Path(s.id, "polls", id), func(current []byte) (any, error) {
				if current == nil {
					return nil, domain.ErrPollNotFound
				}
				var stored domain.Poll
				if err := sonic.Unmarshal(current, &stored); err != nil {
					return nil, err
				}
				voted, _, err := domain.VotePoll(stored, optionID, uid)
				if err != nil {
					return nil, err
				}
				return voted, nil
			})
		}, nil
	})
}

// ClosePoll deactivates poll id. Closing a closed poll does nothing.
func (s *Store) ClosePoll(id string) error {
	return s.commit(opClosePoll, func(b *domain.Board) (write, error) {
		p, ok := b.Polls[id]
		if !ok {
			return nil, nil
		}
		now := s.nowMillis()
		closed, changed := domain.ClosePoll(p, now)
		if !changed {
			return nil, nil
		}
		polls := b.Polls.Clone()
		polls[id] = closed
		b.Polls = polls
		return s.merge(Path(s.id, "polls"), map[string]any{
			sub(id, "isActive"): false,
			sub(id, "closedAt"): now,
		}), nil
	})
}

// DeletePoll removes poll id.
func (s *Store) DeletePoll(id string) error {
	return s.commit(opDeletePoll, func(b *domain.Board) (write, error) {
		if _, ok := b.Polls[id]; !ok {
			return nil, nil
		}
		polls := b.Polls.Clone()
		delete(polls, id)
		b.Polls = polls
		return s.merge(Path(s.id, "polls"), map[string]any{id: nil}), nil
	})
}
