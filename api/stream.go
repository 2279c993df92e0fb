package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"retro-sync/board"
	"retro-sync/domain"
)

// streamHub shares one remote subscription per board between all event
// stream clients of that board.
type streamHub struct {
	remote board.Remote
	log    *log.Logger

	mu    sync.Mutex
	feeds map[string]*boardFeed
}

func newStreamHub(remote board.Remote, logger *log.Logger) *streamHub {
	return &streamHub{remote: remote, log: logger, feeds: make(map[string]*boardFeed)}
}

// boardFeed keeps the latest document of a board and wakes subscribers when
// it changes. Slow subscribers skip intermediate values.
type boardFeed struct {
	mu     sync.Mutex
	latest []byte
	subs   map[chan struct{}]struct{}
	unsub  func()
}

func (f *boardFeed) publish(data []byte) {
	f.mu.Lock()
	f.latest = data
	for ch := range f.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	f.mu.Unlock()
}

func (f *boardFeed) value() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest
}

func (h *streamHub) subscribe(ctx context.Context, boardID string) (*boardFeed, chan struct{}, func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	feed, ok := h.feeds[boardID]
	if !ok {
		feed = &boardFeed{subs: make(map[chan struct{}]struct{})}
		unsub, err := h.remote.Subscribe(context.WithoutCancel(ctx), board.Path(boardID), feed.publish)
		if err != nil {
			return nil, nil, nil, err
		}
		feed.unsub = unsub
		h.feeds[boardID] = feed
	}

	ch := make(chan struct{}, 1)
	feed.mu.Lock()
	feed.subs[ch] = struct{}{}
	feed.mu.Unlock()

	return feed, ch, func() { h.unsubscribe(boardID, feed, ch) }, nil
}

func (h *streamHub) unsubscribe(boardID string, feed *boardFeed, ch chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	feed.mu.Lock()
	delete(feed.subs, ch)
	empty := len(feed.subs) == 0
	feed.mu.Unlock()

	if empty && h.feeds[boardID] == feed {
		delete(h.feeds, boardID)
		feed.unsub()
	}
}

// decodeBoard turns a stored board document into its snapshot form. A
// missing document yields the default board.
func decodeBoard(id string, data []byte) (domain.Board, error) {
	if data == nil {
		return domain.DefaultBoard(id), nil
	}
	var b domain.Board
	if err := sonic.Unmarshal(data, &b); err != nil {
		return domain.Board{}, err
	}
	if b.ID == "" {
		b.ID = id
	}
	b.Normalize()
	return b, nil
}

func (g *Gateway) streamBoard(c echo.Context) error {
	if _, err := g.deps.Auth.Identify(c.Request()); err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	boardID := c.Param("id")
	ctx := c.Request().Context()
	if status, err := g.lookup(ctx, boardID); err != nil {
		return c.JSON(status, errorResponse{Code: errorCode(err), Error: err.Error()})
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}

	feed, ch, cancel, err := g.streams.subscribe(ctx, boardID)
	if err != nil {
		g.log.WithError(err).WithField("board", boardID).Error("stream subscribe failed")
		return c.String(http.StatusInternalServerError, "stream unavailable")
	}
	defer cancel()

	c.Response().WriteHeader(http.StatusOK)
	for {
		b, err := decodeBoard(boardID, feed.value())
		if err != nil {
			g.log.WithError(err).WithField("board", boardID).Error("undecodable board document")
			return err
		}
		data, err := sonic.ConfigStd.Marshal(b)
		if err != nil {
			return err
		}
		for _, part := range [][]byte{[]byte("event: snapshot\ndata: "), data, []byte("\n\n")} {
			if _, err := c.Response().Write(part); err != nil {
				return nil
			}
		}
		flusher.Flush()
		select {
		case <-ctx.Done():
			return nil
		case <-g.closing:
			return nil
		case <-ch:
		}
	}
}
