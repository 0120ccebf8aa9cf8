package repository

import "errors"

// Error is a domain error from repository operations.
//
// The filesystem bridge translates Code to an errno; the scheduler reports
// Busy as informational.
type Error struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable description
	Message string

	// Feed is the feed the error relates to (if applicable)
	Feed string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Feed != "" {
		return e.Message + ": " + e.Feed
	}
	return e.Message
}

// ErrorCode is the category of a repository error.
type ErrorCode int

const (
	// ErrNotFound indicates a missing feed, article or path
	ErrNotFound ErrorCode = iota

	// ErrReadOnly indicates a mutation was attempted through the filesystem
	ErrReadOnly

	// ErrBusy indicates a refresh for the feed is already underway
	ErrBusy

	// ErrFetchFailure indicates a network or parse error during refresh
	ErrFetchFailure

	// ErrStorageFailure indicates the durable backend failed
	ErrStorageFailure

	// ErrInvalidArgument indicates invalid parameters, such as a bad feed
	// name in SetFeeds
	ErrInvalidArgument
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "not found"
	case ErrReadOnly:
		return "read-only"
	case ErrBusy:
		return "busy"
	case ErrFetchFailure:
		return "fetch failure"
	case ErrStorageFailure:
		return "storage failure"
	case ErrInvalidArgument:
		return "invalid argument"
	default:
		return "unknown"
	}
}

// NewError builds an *Error.
func NewError(code ErrorCode, message, feedID string) *Error {
	return &Error{Code: code, Message: message, Feed: feedID}
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}

func is(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// IsNotFound reports whether err is a NotFound repository error.
func IsNotFound(err error) bool { return is(err, ErrNotFound) }

// IsBusy reports whether err signals a refresh already in progress.
func IsBusy(err error) bool { return is(err, ErrBusy) }

// IsReadOnly reports whether err is a ReadOnly repository error.
func IsReadOnly(err error) bool { return is(err, ErrReadOnly) }
