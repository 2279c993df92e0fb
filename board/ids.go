package board

import (
	"crypto/rand"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

func newID() string {
	return uuid.NewString()
}

// newCommentID returns an id that sorts by creation time, so comment maps
// read back in a stable order even when timestamps tie.
func newCommentID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
