package engine

import "retro-sync/domain"

// Music drives the shared background music transport.
type Music struct {
	board Board
}

// NewMusic creates the music engine for b.
func NewMusic(b Board) *Music {
	return &Music{board: b}
}

// Play starts playback, switching to track when it is not empty.
func (m *Music) Play(track string) error {
	playing := true
	p := domain.MusicPatch{IsPlaying: &playing}
	if track != "" {
		p.CurrentTrack = &track
	}
	return m.board.UpdateMusic(p)
}

// Pause stops playback.
func (m *Music) Pause() error {
	playing := false
	return m.board.UpdateMusic(domain.MusicPatch{IsPlaying: &playing})
}

// Toggle flips playback.
func (m *Music) Toggle() error {
	if m.board.Snapshot().Music.IsPlaying {
		return m.Pause()
	}
	return m.Play("")
}

// SetTrack switches the track without changing playback.
func (m *Music) SetTrack(url string) error {
	return m.board.UpdateMusic(domain.MusicPatch{CurrentTrack: &url})
}
