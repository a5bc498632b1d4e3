package domain

import "errors"

var (
	ErrNotConnected           = errors.New("github account not connected")
	ErrNotConfigured          = errors.New("github integration not configured")
	ErrChangeNotFound         = errors.New("pending change not found")
	ErrChangeAlreadyProcessed = errors.New("pending change already processed")
)
