package storage

import (
	"errors"
	"fmt"
	"strings"
)

var errInvalidPath = errors.New("invalid path")

// docRef locates a value: the document holding it and the path inside it.
// The first two segments of a path select the document.
type docRef struct {
	path  []string
	doc   string
	inner []string
}

func resolve(path string) (docRef, error) {
	segs, err := splitPath(path)
	if err != nil {
		return docRef{}, err
	}
	if len(segs) < 2 {
		return docRef{}, fmt.Errorf("storage: %q: %w", path, errInvalidPath)
	}
	return docRef{path: segs, doc: segs[0] + ":" + segs[1], inner: segs[2:]}, nil
}

func splitPath(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, fmt.Errorf("storage: empty path: %w", errInvalidPath)
	}
	segs := strings.Split(path, "/")
	for _, s := range segs {
		if s == "" || s == "." || s == ".." {
			return nil, fmt.Errorf("storage: %q: %w", path, errInvalidPath)
		}
	}
	return segs, nil
}

func (r docRef) String() string {
	return strings.Join(r.path, "/")
}

// overlaps reports whether a change at one path can affect the value at the
// other, that is when one is a prefix of the other.
func overlaps(a, b []string) bool {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
