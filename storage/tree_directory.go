package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"retro-sync/domain"
)

type treeWriter interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Update(ctx context.Context, path string, fn func(current []byte) (any, error)) error
	Delete(ctx context.Context, path string) error
}

// TreeDirectory keeps the board directory inside the tree store itself. It is
// used when no Azure storage is configured.
type TreeDirectory struct {
	tree treeWriter
}

// NewTreeDirectory creates a directory on top of a tree store.
func NewTreeDirectory(tree treeWriter) *TreeDirectory {
	return &TreeDirectory{tree: tree}
}

func namePath(name string) string {
	return "registry/names/" + nameKey(name)
}

func infoPath(id string) string {
	return "registry/boards/" + id
}

func (d *TreeDirectory) Reserve(ctx context.Context, info domain.BoardInfo) error {
	err := d.tree.Update(ctx, namePath(info.Name), func(current []byte) (any, error) {
		if current != nil {
			return nil, domain.ErrBoardNameTaken
		}
		return info.ID, nil
	})
	if err != nil {
		return err
	}
	err = d.tree.Update(ctx, infoPath(info.ID), func([]byte) (any, error) {
		return info, nil
	})
	if err != nil {
		_ = d.tree.Delete(ctx, namePath(info.Name))
		return fmt.Errorf("storage: add board: %w", err)
	}
	return nil
}

func (d *TreeDirectory) Release(ctx context.Context, info domain.BoardInfo) error {
	if err := d.tree.Delete(ctx, infoPath(info.ID)); err != nil {
		return err
	}
	return d.tree.Delete(ctx, namePath(info.Name))
}

func (d *TreeDirectory) Lookup(ctx context.Context, id string) (domain.BoardInfo, error) {
	data, err := d.tree.Get(ctx, infoPath(id))
	if err != nil {
		return domain.BoardInfo{}, err
	}
	if data == nil {
		return domain.BoardInfo{}, domain.ErrBoardNotFound
	}
	var info domain.BoardInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return domain.BoardInfo{}, err
	}
	return info, nil
}
