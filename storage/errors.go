package storage

import (
	"errors"
	"fmt"
)

var (
	ErrWordNotFound    = errors.New("word not found in dictionary")
	ErrDuplicateWord   = errors.New("word already exists in dictionary")
	ErrMeaningExists   = errors.New("meaning already exists for this word")
	ErrMeaningNotFound = errors.New("old meaning not found for this word")
	ErrEmptyMeanings   = errors.New("word must have at least one meaning")
	ErrInvalidEntry    = errors.New("invalid dictionary entry")
)

// PersistError reports that a mutation could not be written to the
// dictionary file. The mutation has been rolled back.
type PersistError struct {
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Path, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }
