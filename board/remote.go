package board

import (
	"context"
	"strings"

	"retro-sync/storage"
)

// Remote is the shared tree store a replica reads from and writes to.
// storage.RedisStore and storage.LocalStore implement it.
type Remote interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Subscribe(ctx context.Context, path string, fn func([]byte)) (func(), error)
	SetSubtree(ctx context.Context, path string, value any) error
	MergeFields(ctx context.Context, path string, fields map[string]any, opts ...storage.WriteOption) error
	Delete(ctx context.Context, path string) error
	Update(ctx context.Context, path string, fn func(current []byte) (any, error)) error
}

// Path returns the tree path of board id, optionally extended by segments.
func Path(id string, segments ...string) string {
	return strings.Join(append([]string{"boards", id}, segments...), "/")
}

// sub joins relative path segments used as MergeFields keys.
func sub(segments ...string) string {
	return strings.Join(segments, "/")
}
