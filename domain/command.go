package domain

import "github.com/bytedance/sonic"

// Command is a board command received from a connected participant.
type Command struct {
	// ID doubles as the idempotency key of the command.
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Payload   sonic.NoCopyRawMessage `json:"payload,omitempty"`
	Timestamp int64                  `json:"timestamp,omitempty"`
}
