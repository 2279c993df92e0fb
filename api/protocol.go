package api

import (
	"errors"
	"net/http"

	"retro-sync/domain"
)

const maxFrameSize = 64 * 1024 // 64 KiB

// Server frame types.
const (
	frameSnapshot = "snapshot"
	frameResult   = "result"
	frameError    = "error"
	frameEvent    = "event"
	framePong     = "pong"
)

// Error codes carried by error frames.
const (
	codePermissionDenied = "permission_denied"
	codeConflict         = "conflict"
	codeInvalid          = "invalid"
	codeNotFound         = "not_found"
	codeDuplicate        = "duplicate"
	codeInternal         = "internal"
)

var (
	errUnknownCommand = errors.New("unknown command type")
	errInvalidPayload = errors.New("invalid payload")
	errInvalidFrame   = errors.New("invalid frame")
)

// serverFrame is every message written to a websocket client.
type serverFrame struct {
	Type    string      `json:"type"`
	ID      string      `json:"id,omitempty"`
	Payload any         `json:"payload,omitempty"`
	Error   *frameIssue `json:"error,omitempty"`
}

type frameIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Op      string `json:"op,omitempty"`
}

type snapshotPayload struct {
	Board   domain.Board      `json:"board"`
	Online  []domain.Presence `json:"online"`
	IsAdmin bool              `json:"isAdmin"`
}

type resultPayload struct {
	Duplicate bool `json:"duplicate,omitempty"`
	Value     any  `json:"value,omitempty"`
}

type eventPayload struct {
	Name string `json:"name"`
}

// POST /api/boards request and response bodies
type createBoardRequest struct {
	Name string `json:"name"`
}

type createBoardResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrPermissionDenied):
		return codePermissionDenied
	case errors.Is(err, domain.ErrConflictDetected):
		return codeConflict
	case errors.Is(err, domain.ErrBoardNameTaken):
		return codeDuplicate
	case errors.Is(err, domain.ErrBoardNotFound),
		errors.Is(err, domain.ErrColumnNotFound),
		errors.Is(err, domain.ErrNoteNotFound),
		errors.Is(err, domain.ErrCommentNotFound),
		errors.Is(err, domain.ErrPollNotFound),
		errors.Is(err, domain.ErrOptionNotFound):
		return codeNotFound
	case errors.Is(err, domain.ErrBoardNameEmpty),
		errors.Is(err, domain.ErrEmojiEmpty),
		errors.Is(err, domain.ErrQuestionIsEmpty),
		errors.Is(err, domain.ErrNotEnoughOptions),
		errors.Is(err, domain.ErrOptionIsEmpty),
		errors.Is(err, errUnknownCommand),
		errors.Is(err, errInvalidPayload),
		errors.Is(err, errInvalidFrame):
		return codeInvalid
	default:
		return codeInternal
	}
}

func statusForCode(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case codePermissionDenied:
		return http.StatusForbidden
	case codeConflict, codeDuplicate:
		return http.StatusConflict
	case codeNotFound:
		return http.StatusNotFound
	case codeInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func errorFrame(id string, err error) serverFrame {
	code := errorCode(err)
	issue := &frameIssue{Code: code, Message: err.Error()}
	if code == codeInternal {
		issue.Message = "internal error"
	}
	return serverFrame{Type: frameError, ID: id, Error: issue}
}
