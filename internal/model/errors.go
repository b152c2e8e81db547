package model

import "errors"

// Sentinel errors shared by every store implementation.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrScoreNotInPreview = errors.New("score is not in preview")
	ErrDuplicateDispute  = errors.New("a pending dispute already exists for this score")
	ErrDisputeNotPending = errors.New("dispute has already been reviewed")
	ErrFlagNotPending    = errors.New("flag is not pending")
	ErrInvalidTransition = errors.New("invalid status transition")
)
