package internal

import (
	"errors"
	"fmt"
)

var (
	ErrNoSource         = errors.New("no byte source supplied")
	ErrSourceUnreadable = errors.New("source unreadable")
	ErrSourceTooLarge   = errors.New("source exceeds size limit")
	ErrNotSpreadsheet   = errors.New("not a spreadsheet container")
	ErrTableMissing     = errors.New("required table missing")
)

// SourceError is fatal to a whole extraction: no partial result accompanies it.
type SourceError struct {
	Op  string // "read", "decode", "locate"
	Ref string
	Err error
}

func (e *SourceError) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("source %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("source %s %q: %v", e.Op, e.Ref, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

func NewSourceError(op, ref string, err error) *SourceError {
	return &SourceError{Op: op, Ref: ref, Err: err}
}
