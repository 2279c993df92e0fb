package api

import (
	"context"
	"net/http"
	"time"

	"retro-sync/board"
	"retro-sync/domain"
	"retro-sync/presence"
)

// Authenticator resolves the verified identity behind a request.
type Authenticator interface {
	Identify(r *http.Request) (domain.Identity, error)
}

// Deduper prevents processing of duplicate commands.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when processing fails.
	Remove(ctx context.Context, userID, key string) error
}

// Exporter hands board exports to the downstream formatter.
type Exporter interface {
	EnqueueExport(ctx context.Context, exp domain.Export) error
}

// Deps are the backends the gateway runs on. Deduper and Exporter are
// optional.
type Deps struct {
	Remote    board.Remote
	Directory board.Directory
	History   presence.History
	Auth      Authenticator
	Deduper   Deduper
	Exporter  Exporter
	Session   SessionConfig
}

// SessionConfig tunes the per-connection board replica.
type SessionConfig struct {
	Lease       time.Duration
	Drain       time.Duration
	Propagation board.PropagationConfig
	// KeepActivePolls leaves earlier polls open when a new one is created.
	KeepActivePolls bool
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.Lease <= 0 {
		c.Lease = presence.DefaultLease
	}
	if c.Drain <= 0 {
		c.Drain = 5 * time.Second
	}
	return c
}
