package presence

import (
	"context"
	"fmt"
	"sort"

	"github.com/bytedance/sonic"

	"retro-sync/domain"
	"retro-sync/storage"
)

type treeStore interface {
	Get(ctx context.Context, path string) ([]byte, error)
	MergeFields(ctx context.Context, path string, fields map[string]any, opts ...storage.WriteOption) error
}

// TreeHistory keeps member history in the tree store under
// history/<board>. It serves deployments without Redis.
type TreeHistory struct {
	tree treeStore
}

// NewTreeHistory creates a history on top of tree.
func NewTreeHistory(tree treeStore) *TreeHistory {
	return &TreeHistory{tree: tree}
}

func historyPath(boardID string) string {
	return "history/" + boardID
}

func (h *TreeHistory) Touch(ctx context.Context, boardID string, m domain.Member) error {
	if err := h.tree.MergeFields(ctx, historyPath(boardID), map[string]any{m.ID: m}); err != nil {
		return fmt.Errorf("presence: touch history %s: %w", boardID, err)
	}
	return nil
}

func (h *TreeHistory) Recent(ctx context.Context, boardID string, limit int) ([]domain.Member, error) {
	data, err := h.tree.Get(ctx, historyPath(boardID))
	if err != nil {
		return nil, err
	}
	out := []domain.Member{}
	if data == nil {
		return out, nil
	}
	var members map[string]domain.Member
	if err := sonic.Unmarshal(data, &members); err != nil {
		return nil, err
	}
	for _, m := range members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastSeen != out[j].LastSeen {
			return out[i].LastSeen > out[j].LastSeen
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
