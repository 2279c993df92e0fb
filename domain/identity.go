package domain

// Identity is the verified participant behind a session.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
