package domain

import "errors"

var (
	// ErrPermissionDenied is returned when a non-admin issues an admin-only command.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrConflictDetected indicates that a revisioned entity was changed by
	// another writer since the local replica last saw it.
	ErrConflictDetected = errors.New("conflict detected")

	ErrBoardNotFound  = errors.New("board not found")
	ErrBoardNameTaken = errors.New("board name already taken")
	ErrBoardNameEmpty = errors.New("board name is empty")

	ErrColumnNotFound  = errors.New("column not found")
	ErrNoteNotFound    = errors.New("note not found")
	ErrCommentNotFound = errors.New("comment not found")
	ErrEmojiEmpty      = errors.New("emoji is empty")

	ErrPollNotFound     = errors.New("poll not found")
	ErrQuestionIsEmpty  = errors.New("poll question is empty")
	ErrNotEnoughOptions = errors.New("poll needs at least two options")
	ErrOptionIsEmpty    = errors.New("poll option is empty")
	ErrOptionNotFound   = errors.New("poll option not found")
)
