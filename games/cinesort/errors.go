package cinesort

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores and the registry when no puzzle matches.
	ErrNotFound = errors.New("puzzle not found")

	// ErrSessionOver is returned for actions on a session that already ended.
	ErrSessionOver = errors.New("session is over")
)

// ConflictError is returned when creating a puzzle for a date that already has one.
type ConflictError struct {
	Date     string
	Existing Puzzle
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("a puzzle already exists for %s (%q)", e.Date, e.Existing.Title)
}

// ValidationError blocks a save or a session action. Nothing is partially applied.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// UploadError is returned when storing a scene image failed or timed out.
type UploadError struct {
	Index int
	Name  string
	Err   error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("failed to upload image %d (%s): %v", e.Index+1, e.Name, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// IsConflict reports whether err is, or wraps, a *ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsValidation reports whether err is, or wraps, a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
