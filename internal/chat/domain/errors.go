package domain

import "errors"

var (
	ErrFolderNotFound  = errors.New("folder not found")
	ErrChatNotFound    = errors.New("chat not found")
	ErrSubtaskNotFound = errors.New("subtask not found")
	ErrKeyNotFound     = errors.New("provider key not found")
	ErrSealerMissing   = errors.New("provider keys are not enabled")
)
