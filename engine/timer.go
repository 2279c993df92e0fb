package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"retro-sync/domain"
)

// Board is the replica surface the engines drive. *board.Store implements it.
type Board interface {
	User() domain.Identity
	Snapshot() domain.Board
	OnChange(fn func(domain.Board)) (cancel func())
	UpdateTimer(state domain.TimerState) error
	UpdateMusic(p domain.MusicPatch) error
}

// Timer runs the shared countdown. Every session hosts a Timer, but only the
// one whose token is stored as the timer's owner ticks it; the others just
// watch. Two sessions of the same user are different owners.
type Timer struct {
	board Board
	log   *log.Entry
	now   func() time.Time
	tick  time.Duration
	token string

	// writeMu serializes read-modify-write cycles on the timer state.
	writeMu sync.Mutex

	mu         sync.Mutex
	onFinished func()
	unwatch    func()
	stopLoop   context.CancelFunc
	loopDone   chan struct{}
}

// TimerOption configures a Timer.
type TimerOption func(*Timer)

// WithTick changes the tick interval. One tick always counts as one second
// of countdown.
func WithTick(d time.Duration) TimerOption {
	return func(t *Timer) { t.tick = d }
}

// WithTimerClock replaces time.Now.
func WithTimerClock(now func() time.Time) TimerOption {
	return func(t *Timer) { t.now = now }
}

// WithOwnerToken sets the token the Timer claims ownership with, so a
// resumed session can pick up the countdown it owned before.
func WithOwnerToken(token string) TimerOption {
	return func(t *Timer) { t.token = token }
}

// NewTimer creates the countdown engine for b with a fresh owner token.
func NewTimer(b Board, logger *log.Logger, opts ...TimerOption) *Timer {
	t := &Timer{
		board: b,
		now:   time.Now,
		tick:  time.Second,
		token: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = logger.WithFields(log.Fields{"user": b.User().ID, "engine": "timer", "owner": t.token})
	return t
}

// Token returns the owner token this Timer writes when it starts the
// countdown.
func (t *Timer) Token() string { return t.token }

// OnFinished sets the hook run by the owner when the countdown reaches zero.
func (t *Timer) OnFinished(fn func()) {
	t.mu.Lock()
	t.onFinished = fn
	t.mu.Unlock()
}

// Watch starts following the board so the tick loop runs exactly while this
// participant owns a running timer.
func (t *Timer) Watch() {
	t.mu.Lock()
	if t.unwatch != nil {
		t.mu.Unlock()
		return
	}
	t.unwatch = t.board.OnChange(t.observe)
	t.mu.Unlock()
	t.observe(t.board.Snapshot())
}

// Stop stops watching and ends the tick loop.
func (t *Timer) Stop() {
	t.mu.Lock()
	if t.unwatch != nil {
		t.unwatch()
		t.unwatch = nil
	}
	done := t.haltLocked()
	t.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Start runs the countdown with this Timer as owner. Only the board admin
// may start it; the store rejects everyone else.
func (t *Timer) Start() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	b := t.board.Snapshot()
	return t.board.UpdateTimer(domain.StartTimer(b.Timer, t.token, t.now().UnixMilli()))
}

// Pause stops the countdown keeping the remaining time.
func (t *Timer) Pause() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	b := t.board.Snapshot()
	return t.board.UpdateTimer(domain.PauseTimer(b.Timer, t.now().UnixMilli()))
}

// Reset stops the countdown and restores the full duration.
func (t *Timer) Reset() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	b := t.board.Snapshot()
	return t.board.UpdateTimer(domain.ResetTimer(b.Timer, t.now().UnixMilli()))
}

// SetDuration changes the countdown length.
func (t *Timer) SetDuration(seconds int) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	b := t.board.Snapshot()
	return t.board.UpdateTimer(domain.SetTimerDuration(b.Timer, seconds, t.now().UnixMilli()))
}

func (t *Timer) owns(b domain.Board) bool {
	return b.Timer.IsRunning && b.Timer.Owner == t.token
}

func (t *Timer) observe(b domain.Board) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.unwatch == nil {
		return
	}
	if !t.owns(b) {
		t.haltLocked()
		return
	}
	if t.stopLoop != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.stopLoop = cancel
	t.loopDone = make(chan struct{})
	go t.loop(ctx, t.loopDone, b.Timer)
}

func (t *Timer) haltLocked() chan struct{} {
	if t.stopLoop == nil {
		return nil
	}
	t.stopLoop()
	done := t.loopDone
	t.stopLoop = nil
	t.loopDone = nil
	return done
}

func (t *Timer) loop(ctx context.Context, done chan struct{}, start domain.TimerState) {
	defer func() {
		t.mu.Lock()
		if t.loopDone == done {
			t.haltLocked()
		}
		t.mu.Unlock()
		close(done)
	}()

	if start.LastUpdated > 0 {
		behind := int((t.now().UnixMilli() - start.LastUpdated) / 1000)
		if behind > 0 {
			t.log.WithField("seconds", behind).Info("catching up stale countdown")
			if !t.advance(behind) {
				return
			}
		}
	}

	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !t.advance(1) {
			return
		}
	}
}

// advance counts the timer down by elapsed seconds and reports whether the
// loop should keep running.
func (t *Timer) advance(elapsed int) bool {
	t.writeMu.Lock()
	b := t.board.Snapshot()
	if !t.owns(b) {
		t.writeMu.Unlock()
		return false
	}
	next, finished := domain.TickTimer(b.Timer, elapsed, t.now().UnixMilli())
	err := t.board.UpdateTimer(next)
	t.writeMu.Unlock()
	if err != nil {
		t.log.WithError(err).Warn("timer tick rejected")
		return false
	}
	if !finished {
		return true
	}

	t.log.Info("countdown finished")
	if b.Music.IsPlaying {
		paused := false
		if err := t.board.UpdateMusic(domain.MusicPatch{IsPlaying: &paused}); err != nil {
			t.log.WithError(err).Warn("could not pause music after countdown")
		}
	}
	t.mu.Lock()
	fn := t.onFinished
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
	return false
}
