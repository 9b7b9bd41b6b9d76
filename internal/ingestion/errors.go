package ingestion

import (
	"errors"
	"fmt"
)

var (
	ErrArchiveNotFound = errors.New("tick archive not found")
	ErrAlreadyIngested = errors.New("date already ingested")
	ErrIngestionFailed = errors.New("ingestion failed")
	// ErrFatalInconsistency means a failed run could not remove its partial
	// writes. Storage holds an incomplete day and needs an operator.
	ErrFatalInconsistency = errors.New("ingestion left partial data behind")
)

// RecordParseError reports a malformed row in an archive member.
type RecordParseError struct {
	File   string
	Line   int
	Column string
	Err    error
}

func (e *RecordParseError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
	}
	return fmt.Sprintf("%s:%d: column %s: %v", e.File, e.Line, e.Column, e.Err)
}

func (e *RecordParseError) Unwrap() error {
	return e.Err
}
