package domain

import (
	"sort"
	"time"
)

// Presence marks a participant as connected to a board. ExpiresAt is the end
// of the participant's current lease.
type Presence struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	JoinedAt  int64  `json:"joinedAt"`
	LastSeen  int64  `json:"lastSeen,omitempty"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
}

// Member is a participant known from the board's history.
type Member struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	LastSeen int64  `json:"lastSeen"`
}

// Members is keyed by user id.
type Members map[string]Presence

// Clone returns a copy of the map.
func (m Members) Clone() Members {
	if m == nil {
		return nil
	}
	out := make(Members, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Expired reports whether p's lease ended before now. Entries written without
// a lease expire lease after they joined.
func (p Presence) Expired(now int64, lease time.Duration) bool {
	end := p.ExpiresAt
	if end == 0 {
		end = p.JoinedAt + lease.Milliseconds()
	}
	return end <= now
}

// Online returns the entries whose lease is still valid, in join order.
func (m Members) Online(now int64, lease time.Duration) []Presence {
	out := make([]Presence, 0, len(m))
	for _, p := range m {
		if !p.Expired(now, lease) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt != out[j].JoinedAt {
			return out[i].JoinedAt < out[j].JoinedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Offline returns the known members that are not online, most recently seen
// first.
func Offline(known []Member, online []Presence) []Member {
	present := make(map[string]struct{}, len(online))
	for _, p := range online {
		present[p.ID] = struct{}{}
	}
	out := make([]Member, 0, len(known))
	for _, m := range known {
		if _, ok := present[m.ID]; ok {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastSeen > out[j].LastSeen })
	return out
}
