package storage

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bytedance/sonic"

	"retro-sync/domain"
)

// Documents are decoded into generic trees of map[string]any, []any and
// scalars. Map keys are encoded in sorted order so equal trees produce equal
// bytes.
var codec = sonic.ConfigStd

func encodeTree(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return codec.Marshal(v)
}

func decodeTree(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v any
	if err := codec.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// toTree converts an arbitrary value into its generic tree form.
func toTree(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return decodeTree(t)
	case string, bool, float64, map[string]any, []any:
		return t, nil
	}
	data, err := codec.Marshal(v)
	if err != nil {
		return nil, err
	}
	return decodeTree(data)
}

func getAt(root any, inner []string) (any, bool) {
	cur := root
	for _, seg := range inner {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// setAt stores value at inner and returns the new root. Missing or scalar
// intermediate nodes are replaced by maps.
func setAt(root any, inner []string, value any) any {
	if len(inner) == 0 {
		return value
	}
	m, ok := root.(map[string]any)
	if !ok {
		m = map[string]any{}
	}
	child := m[inner[0]]
	m[inner[0]] = setAt(child, inner[1:], value)
	return m
}

// deleteAt removes the value at inner and returns the new root.
func deleteAt(root any, inner []string) any {
	if len(inner) == 0 {
		return nil
	}
	m, ok := root.(map[string]any)
	if !ok {
		return root
	}
	if len(inner) == 1 {
		delete(m, inner[0])
		return m
	}
	child, ok := m[inner[0]]
	if !ok {
		return m
	}
	m[inner[0]] = deleteAt(child, inner[1:])
	return m
}

// mergeAt applies fields to the map at inner. Keys may hold relative paths
// ("n1/order"); nil values delete the key.
func mergeAt(root any, inner []string, fields map[string]any, opts writeOptions) (any, error) {
	target, _ := getAt(root, inner)
	m, ok := target.(map[string]any)
	if opts.ifRevision != nil {
		if !ok {
			return nil, fmt.Errorf("storage: %s is gone: %w", strings.Join(inner, "/"), domain.ErrConflictDetected)
		}
		if cur := revisionOf(m); cur != *opts.ifRevision {
			return nil, fmt.Errorf("storage: %s at rev %d, expected %d: %w", strings.Join(inner, "/"), cur, *opts.ifRevision, domain.ErrConflictDetected)
		}
	}
	if !ok {
		m = map[string]any{}
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sub, err := splitPath(k)
		if err != nil {
			return nil, err
		}
		if fields[k] == nil {
			deleteAt(m, sub)
			continue
		}
		if len(sub) > 1 {
			// Field updates never create the entity they address.
			if _, exists := getAt(m, sub[:len(sub)-1]); !exists {
				continue
			}
		}
		v, err := toTree(fields[k])
		if err != nil {
			return nil, fmt.Errorf("storage: encode %s: %w", k, err)
		}
		setAt(m, sub, v)
	}
	if opts.ifRevision != nil {
		m["rev"] = float64(*opts.ifRevision + 1)
	}
	return setAt(root, inner, m), nil
}

func revisionOf(m map[string]any) int64 {
	switch v := m["rev"].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

// mutateDocument decodes current, applies fn and encodes the result. A nil
// result means the document is removed.
func mutateDocument(current []byte, fn func(root any) (any, error)) ([]byte, error) {
	root, err := decodeTree(current)
	if err != nil {
		return nil, fmt.Errorf("storage: decode document: %w", err)
	}
	next, err := fn(root)
	if err != nil {
		return nil, err
	}
	if m, ok := next.(map[string]any); ok && len(m) == 0 {
		next = nil
	}
	return encodeTree(next)
}

// valueAt returns the encoded value at inner, or nil when absent.
func valueAt(doc []byte, inner []string) ([]byte, error) {
	root, err := decodeTree(doc)
	if err != nil {
		return nil, fmt.Errorf("storage: decode document: %w", err)
	}
	v, ok := getAt(root, inner)
	if !ok {
		return nil, nil
	}
	return encodeTree(v)
}
