package domain

// DefaultTimerSeconds is the countdown length of a fresh board.
const DefaultTimerSeconds = 5 * 60

// TimerState is the shared countdown. Owner is the token of the only timer
// engine, one per connected session, that may write ticks while the timer
// runs.
type TimerState struct {
	IsRunning   bool   `json:"isRunning"`
	TimeLeft    int    `json:"timeLeft"`
	Duration    int    `json:"duration,omitempty"`
	LastUpdated int64  `json:"lastUpdated,omitempty"`
	Owner       string `json:"owner,omitempty"`
}

// MusicState is the shared background music transport.
type MusicState struct {
	IsPlaying    bool   `json:"isPlaying"`
	CurrentTrack string `json:"currentTrack,omitempty"`
}

// MusicPatch carries the music fields a caller wants to change.
type MusicPatch struct {
	IsPlaying    *bool   `json:"isPlaying,omitempty"`
	CurrentTrack *string `json:"currentTrack,omitempty"`
}

// Fields returns the patch as a partial document.
func (p MusicPatch) Fields() map[string]any {
	fields := map[string]any{}
	if p.IsPlaying != nil {
		fields["isPlaying"] = *p.IsPlaying
	}
	if p.CurrentTrack != nil {
		fields["currentTrack"] = *p.CurrentTrack
	}
	return fields
}

// DefaultTimer returns a stopped timer of DefaultTimerSeconds.
func DefaultTimer() TimerState {
	return TimerState{TimeLeft: DefaultTimerSeconds, Duration: DefaultTimerSeconds}
}

// StartTimer starts the countdown with owner as the ticking engine. A
// finished timer restarts from its full duration.
func StartTimer(t TimerState, owner string, now int64) TimerState {
	if t.TimeLeft <= 0 {
		t.TimeLeft = t.Duration
	}
	t.IsRunning = t.TimeLeft > 0
	t.Owner = owner
	t.LastUpdated = now
	return t
}

// PauseTimer stops the countdown keeping the remaining time.
func PauseTimer(t TimerState, now int64) TimerState {
	t.IsRunning = false
	t.LastUpdated = now
	return t
}

// ResetTimer stops the countdown and restores the full duration.
func ResetTimer(t TimerState, now int64) TimerState {
	t.IsRunning = false
	t.TimeLeft = t.Duration
	t.LastUpdated = now
	return t
}

// SetTimerDuration changes the duration of a stopped timer; a running timer
// keeps its countdown and only the duration changes.
func SetTimerDuration(t TimerState, seconds int, now int64) TimerState {
	if seconds < 0 {
		seconds = 0
	}
	t.Duration = seconds
	if !t.IsRunning {
		t.TimeLeft = seconds
	}
	t.LastUpdated = now
	return t
}

// TickTimer advances a running timer by elapsed seconds. Negative remaining
// time is clamped to zero; the second result reports that the countdown
// finished on this tick.
func TickTimer(t TimerState, elapsed int, now int64) (TimerState, bool) {
	if !t.IsRunning || elapsed <= 0 {
		return t, false
	}
	t.TimeLeft -= elapsed
	t.LastUpdated = now
	if t.TimeLeft <= 0 {
		t.TimeLeft = 0
		t.IsRunning = false
		return t, true
	}
	return t, false
}

// ApplyMusic applies p to m.
func ApplyMusic(m MusicState, p MusicPatch) MusicState {
	if p.IsPlaying != nil {
		m.IsPlaying = *p.IsPlaying
	}
	if p.CurrentTrack != nil {
		m.CurrentTrack = *p.CurrentTrack
	}
	return m
}
