package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"retro-sync/board"
	"retro-sync/domain"
	"retro-sync/engine"
	"retro-sync/presence"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Pings are sent with this period; it must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	sendBufferSize = 256
)

// session is one websocket connection to one board. It owns the
// participant's board replica, presence lease and timer engine.
type session struct {
	conn    *websocket.Conn
	user    domain.Identity
	store   *board.Store
	tracker *presence.Tracker
	timer   *engine.Timer
	music   *engine.Music
	deduper Deduper
	cfg     SessionConfig
	logger  *log.Logger
	log     *log.Entry

	send chan []byte
	done chan struct{}

	mu     sync.Mutex
	closed bool

	cancels []func()
}

func newSession(conn *websocket.Conn, boardID string, user domain.Identity, deps Deps, logger *log.Logger) *session {
	cfg := deps.Session.withDefaults()
	opts := []board.Option{board.WithPropagation(cfg.Propagation)}
	if cfg.KeepActivePolls {
		opts = append(opts, board.WithKeepActivePolls())
	}
	store := board.New(boardID, user, deps.Remote, logger, opts...)
	s := &session{
		conn:    conn,
		user:    user,
		store:   store,
		tracker: presence.NewTracker(boardID, user, deps.Remote, deps.History, cfg.Lease, logger),
		timer:   engine.NewTimer(store, logger),
		music:   engine.NewMusic(store),
		deduper: deps.Deduper,
		cfg:     cfg,
		logger:  logger,
		log:     logger.WithFields(log.Fields{"board": boardID, "user": user.ID}),
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
	}
	return s
}

// open wires the replica to the connection and brings it online. Listeners
// are registered before the first snapshot so the client receives it.
func (s *session) open(ctx context.Context) error {
	s.cancels = append(s.cancels,
		s.store.OnChange(s.pushSnapshot),
		s.store.OnError(s.pushWriteError),
	)
	s.timer.OnFinished(func() {
		s.push(serverFrame{Type: frameEvent, Payload: eventPayload{Name: "timer.finished"}})
	})
	if err := s.store.Activate(ctx); err != nil {
		return err
	}
	s.timer.Watch()
	if err := s.tracker.Activate(ctx); err != nil {
		if !errors.Is(err, domain.ErrBoardNotFound) {
			return err
		}
		s.log.WithError(err).Warn("presence unavailable until the board document exists")
	}
	return nil
}

// run blocks until the connection ends, then takes the participant offline
// and drains queued writes.
func (s *session) run(ctx context.Context) {
	go s.writePump()
	s.readPump(ctx)
	s.shutdown()
}

func (s *session) shutdown() {
	s.timer.Stop()
	for _, cancel := range s.cancels {
		cancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Drain)
	defer cancel()
	if err := s.tracker.Deactivate(ctx); err != nil {
		s.log.WithError(err).Warn("presence deactivate failed")
	}
	s.store.Close(s.cfg.Drain)
	s.close()
}

// fail reports err to the client and tears the session down without
// serving commands.
func (s *session) fail(err error) {
	if data, merr := sonic.ConfigStd.Marshal(errorFrame("", err)); merr == nil {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = s.conn.WriteMessage(websocket.TextMessage, data)
	}
	s.shutdown()
}

// close ends the connection; readPump returns on its next read.
func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	_ = s.conn.Close()
}

func (s *session) readPump(ctx context.Context) {
	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.WithError(err).Debug("websocket read error")
			}
			return
		}
		s.handle(ctx, data)
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.log.WithError(err).Debug("websocket write error")
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// push queues a frame for the client. A client that cannot keep up is
// disconnected; it receives a full snapshot when it reconnects.
func (s *session) push(f serverFrame) {
	data, err := sonic.ConfigStd.Marshal(f)
	if err != nil {
		s.log.WithError(err).Error("encode frame")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.send <- data:
	default:
		s.log.Warn("send buffer full; closing slow client")
		s.closed = true
		close(s.done)
		_ = s.conn.Close()
	}
}

func (s *session) pushSnapshot(b domain.Board) {
	s.push(serverFrame{Type: frameSnapshot, Payload: snapshotPayload{
		Board:   b,
		Online:  s.tracker.Online(b),
		IsAdmin: b.AdminID != "" && b.AdminID == s.user.ID,
	}})
}

func (s *session) pushWriteError(err error) {
	f := errorFrame("", err)
	var we *board.WriteError
	if errors.As(err, &we) {
		f.Error.Op = we.Op
	}
	s.push(f)
}

// handle runs one client frame to completion before the next is read, so a
// participant's commands apply in the order sent.
func (s *session) handle(ctx context.Context, data []byte) {
	var cmd domain.Command
	if err := sonic.ConfigStd.Unmarshal(data, &cmd); err != nil || cmd.Type == "" {
		s.push(errorFrame("", errInvalidFrame))
		return
	}
	if cmd.Type == "ping" {
		s.push(serverFrame{Type: framePong, ID: cmd.ID})
		return
	}

	metrics, ctx := newCommandMetrics(ctx, s.logger, commandSpanName, commandEventName,
		attribute.String("retro.command.type", cmd.Type),
		attribute.String("retro.board.id", s.store.ID()),
		attribute.String("enduser.id", s.user.ID),
	)
	err := s.execute(ctx, cmd, metrics)
	metrics.Finish(statusForCode(errorCode(err)), err)
}

func (s *session) execute(ctx context.Context, cmd domain.Command, metrics *commandMetrics) error {
	h, ok := commands[cmd.Type]
	if !ok {
		s.push(errorFrame(cmd.ID, errUnknownCommand))
		return errUnknownCommand
	}

	recorded := false
	if cmd.ID != "" && s.deduper != nil {
		added, err := s.deduper.Add(ctx, s.user.ID, s.dedupeKey(cmd.ID))
		switch {
		case err != nil:
			s.log.WithError(err).Warn("deduper unavailable; applying command without idempotency check")
		case !added:
			metrics.Set(attribute.Bool("retro.command.duplicate", true))
			s.push(serverFrame{Type: frameResult, ID: cmd.ID, Payload: resultPayload{Duplicate: true}})
			return nil
		default:
			recorded = true
		}
	}

	out, err := h(ctx, s, []byte(cmd.Payload))
	if err != nil {
		if recorded {
			if rerr := s.deduper.Remove(ctx, s.user.ID, s.dedupeKey(cmd.ID)); rerr != nil {
				s.log.WithError(rerr).Warn("failed to roll back idempotency key")
			}
		}
		s.push(errorFrame(cmd.ID, err))
		return err
	}
	s.push(serverFrame{Type: frameResult, ID: cmd.ID, Payload: resultPayload{Value: out}})
	return nil
}

func (s *session) dedupeKey(id string) string {
	return s.store.ID() + ":" + id
}
