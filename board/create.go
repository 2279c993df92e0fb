package board

import (
	"context"
	"fmt"
	"strings"
	"time"

	"retro-sync/domain"
)

// Directory keeps board names unique and answers lookups without loading
// the board document.
type Directory interface {
	Reserve(ctx context.Context, info domain.BoardInfo) error
	Release(ctx context.Context, info domain.BoardInfo) error
	Lookup(ctx context.Context, id string) (domain.BoardInfo, error)
}

// Create registers a new board named name with admin as its administrator
// and writes its initial document. Unlike commands it waits for the remote
// store. A taken name fails with domain.ErrBoardNameTaken.
func Create(ctx context.Context, remote Remote, dir Directory, name string, admin domain.Identity, now time.Time) (domain.Board, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Board{}, domain.ErrBoardNameEmpty
	}
	b := domain.NewBoard(newID(), name, admin.ID, now.UnixMilli())
	if err := dir.Reserve(ctx, b.Info()); err != nil {
		return domain.Board{}, err
	}
	if err := remote.SetSubtree(ctx, Path(b.ID), b); err != nil {
		if rerr := dir.Release(ctx, b.Info()); rerr != nil {
			err = fmt.Errorf("%w (release: %v)", err, rerr)
		}
		return domain.Board{}, fmt.Errorf("board: write %s: %w", b.ID, err)
	}
	return b, nil
}
