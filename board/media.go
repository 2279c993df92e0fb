package board

import (
	"context"

	"retro-sync/domain"
)

var (
	opUpdateTimer = operation{name: "timer.update", admin: true}
	opUpdateMusic = operation{name: "music.update", admin: true}
)

// UpdateTimer replaces the timer state. Ranges are not validated here; the
// countdown owner clamps at zero.
func (s *Store) UpdateTimer(state domain.TimerState) error {
	return s.commit(opUpdateTimer, func(b *domain.Board) (write, error) {
		if b.Timer == state {
			return nil, nil
		}
		b.Timer = state
		return func(ctx context.Context, r Remote) error {
			return r.SetSubtree(ctx, Path(s.id, "timer"), state)
		}, nil
	})
}

// UpdateMusic applies p to the music state.
func (s *Store) UpdateMusic(p domain.MusicPatch) error {
	return s.commit(opUpdateMusic, func(b *domain.Board) (write, error) {
		fields := p.Fields()
		if len(fields) == 0 {
			return nil, nil
		}
		b.Music = domain.ApplyMusic(b.Music, p)
		return s.merge(Path(s.id, "music"), fields), nil
	})
}
