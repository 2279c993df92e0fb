package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"retro-sync/board"
	"retro-sync/domain"
)

const (
	createBoardMaxSize = 4 * 1024
	exportMemberLimit  = 100
)

// Gateway serves the board API and hosts the websocket sessions.
type Gateway struct {
	deps     Deps
	log      *log.Logger
	upgrader websocket.Upgrader
	streams  *streamHub

	mu       sync.Mutex
	sessions map[*session]struct{}
	closing  chan struct{}
	shutOnce sync.Once
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, deps Deps, logger *log.Logger) *Gateway {
	if logger == nil {
		panic("api.Register: logger is nil")
	}
	g := &Gateway{
		deps: deps,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		streams:  newStreamHub(deps.Remote, logger),
		sessions: make(map[*session]struct{}),
		closing:  make(chan struct{}),
	}

	e.GET("/healthz", g.healthz)
	e.POST("/api/boards", g.createBoard)
	e.GET("/api/boards/:id", g.getBoard)
	e.POST("/api/boards/:id/export", g.exportBoard)
	e.GET("/api/boards/:id/stream", g.streamBoard)
	e.GET("/api/boards/:id/ws", g.boardSocket)
	return g
}

// Shutdown disconnects every websocket session and event stream and waits
// until the sessions have taken their participants offline.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutOnce.Do(func() { close(g.closing) })

	g.mu.Lock()
	open := make([]*session, 0, len(g.sessions))
	for s := range g.sessions {
		open = append(open, s)
	}
	g.mu.Unlock()
	for _, s := range open {
		s.close()
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		g.mu.Lock()
		n := len(g.sessions)
		g.mu.Unlock()
		if n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (g *Gateway) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if _, err := g.deps.Remote.Get(ctx, board.Path("healthz")); err != nil {
		g.log.WithError(err).Warn("health check failed")
		return c.NoContent(http.StatusServiceUnavailable)
	}
	return c.NoContent(http.StatusOK)
}

// lookup resolves boardID in the directory and returns the HTTP status to
// answer with when it cannot.
func (g *Gateway) lookup(ctx context.Context, boardID string) (int, error) {
	if _, err := g.deps.Directory.Lookup(ctx, boardID); err != nil {
		if errors.Is(err, domain.ErrBoardNotFound) {
			return http.StatusNotFound, err
		}
		g.log.WithError(err).WithField("board", boardID).Error("directory lookup failed")
		return http.StatusInternalServerError, err
	}
	return http.StatusOK, nil
}

func (g *Gateway) createBoard(c echo.Context) (err error) {
	metrics, ctx := newCommandMetrics(c.Request().Context(), g.log, createSpanName, createEventName,
		attribute.String("http.route", "/api/boards"),
	)
	defer func() {
		metrics.Finish(c.Response().Status, err)
	}()

	user, authErr := g.deps.Auth.Identify(c.Request())
	if authErr != nil {
		err = authErr
		return c.String(http.StatusUnauthorized, authErr.Error())
	}
	metrics.Set(attribute.String("enduser.id", user.ID))

	var req createBoardRequest
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, createBoardMaxSize))
	if decErr := dec.Decode(&req); decErr != nil {
		err = errInvalidPayload
		return c.JSON(http.StatusBadRequest, errorResponse{Code: codeInvalid, Error: "invalid body"})
	}

	b, createErr := board.Create(ctx, g.deps.Remote, g.deps.Directory, req.Name, user, time.Now())
	if createErr != nil {
		err = createErr
		code := errorCode(createErr)
		msg := createErr.Error()
		if code == codeInternal {
			g.log.WithError(createErr).Error("create board failed")
			msg = "failed to create board"
		}
		return c.JSON(statusForCode(code), errorResponse{Code: code, Error: msg})
	}
	metrics.Set(attribute.String("retro.board.id", b.ID))
	return c.JSON(http.StatusCreated, createBoardResponse{ID: b.ID, Name: b.Name})
}

func (g *Gateway) getBoard(c echo.Context) error {
	if _, err := g.deps.Auth.Identify(c.Request()); err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	ctx := c.Request().Context()
	boardID := c.Param("id")
	if status, err := g.lookup(ctx, boardID); err != nil {
		return c.JSON(status, errorResponse{Code: errorCode(err), Error: err.Error()})
	}
	b, err := g.loadBoard(ctx, boardID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Code: codeInternal, Error: "failed to load board"})
	}
	return c.JSON(http.StatusOK, b)
}

func (g *Gateway) loadBoard(ctx context.Context, boardID string) (domain.Board, error) {
	data, err := g.deps.Remote.Get(ctx, board.Path(boardID))
	if err != nil {
		g.log.WithError(err).WithField("board", boardID).Error("load board failed")
		return domain.Board{}, err
	}
	b, err := decodeBoard(boardID, data)
	if err != nil {
		g.log.WithError(err).WithField("board", boardID).Error("undecodable board document")
		return domain.Board{}, err
	}
	return b, nil
}

func (g *Gateway) exportBoard(c echo.Context) error {
	if _, err := g.deps.Auth.Identify(c.Request()); err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	if g.deps.Exporter == nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Code: codeInternal, Error: "export is not configured"})
	}
	ctx := c.Request().Context()
	boardID := c.Param("id")
	if status, err := g.lookup(ctx, boardID); err != nil {
		return c.JSON(status, errorResponse{Code: errorCode(err), Error: err.Error()})
	}
	b, err := g.loadBoard(ctx, boardID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Code: codeInternal, Error: "failed to load board"})
	}

	var members []domain.Member
	if g.deps.History != nil {
		members, err = g.deps.History.Recent(ctx, boardID, exportMemberLimit)
		if err != nil {
			g.log.WithError(err).WithField("board", boardID).Warn("export without member history")
		}
	}
	if err := g.deps.Exporter.EnqueueExport(ctx, domain.BuildExport(b, members)); err != nil {
		g.log.WithError(err).WithField("board", boardID).Error("enqueue export failed")
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Code: codeInternal, Error: "failed to queue export"})
	}
	return c.NoContent(http.StatusAccepted)
}

func (g *Gateway) boardSocket(c echo.Context) error {
	user, err := g.deps.Auth.Identify(c.Request())
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	ctx := c.Request().Context()
	boardID := c.Param("id")
	if status, err := g.lookup(ctx, boardID); err != nil {
		return c.JSON(status, errorResponse{Code: errorCode(err), Error: err.Error()})
	}

	conn, err := g.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		g.log.WithError(err).Warn("websocket upgrade failed")
		return nil
	}

	s := newSession(conn, boardID, user, g.deps, g.log)
	if !g.track(s) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		s.store.Close(s.cfg.Drain)
		_ = conn.Close()
		return nil
	}
	defer g.untrack(s)

	if err := s.open(ctx); err != nil {
		s.log.WithError(err).Error("session open failed")
		s.fail(err)
		return nil
	}
	s.log.Info("session opened")
	s.run(ctx)
	s.log.Info("session closed")
	return nil
}

func (g *Gateway) track(s *session) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.closing:
		return false
	default:
	}
	g.sessions[s] = struct{}{}
	return true
}

func (g *Gateway) untrack(s *session) {
	g.mu.Lock()
	delete(g.sessions, s)
	g.mu.Unlock()
}
