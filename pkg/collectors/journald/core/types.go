package core

import (
	"errors"
	"fmt"
	"time"
)

// CollectorError represents a journald collector error
type CollectorError struct {
	Type      ErrorType
	Message   string
	Cause     error
	Timestamp time.Time
}

// ErrorType categorizes collector errors
type ErrorType string

const (
	ErrorTypeJournal     ErrorType = "journal"
	ErrorTypeMatch       ErrorType = "match"
	ErrorTypeRead        ErrorType = "read"
	ErrorTypeSeek        ErrorType = "seek"
	ErrorTypePoll        ErrorType = "poll"
	ErrorTypeUnsupported ErrorType = "unsupported"
)

func (e CollectorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

func (e CollectorError) Unwrap() error {
	return e.Cause
}

// NewCollectorError creates a new collector error
func NewCollectorError(errType ErrorType, message string, cause error) CollectorError {
	return CollectorError{
		Type:      errType,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// WrapError returns err unchanged when it already is a CollectorError and
// wraps it otherwise
func WrapError(errType ErrorType, message string, err error) error {
	var cerr CollectorError
	if errors.As(err, &cerr) {
		return err
	}
	return NewCollectorError(errType, message, err)
}

var (
	ErrNoMoreEntries        = errors.New("no more journal entries")
	ErrReadTimeout          = errors.New("journal wait timed out")
	ErrJournalNotOpen       = errors.New("journal not open")
	ErrAlreadyStarted       = errors.New("watcher already started")
	ErrPlatformNotSupported = errors.New("journald is only supported on linux")
)

// Common journald field names
const (
	FieldIdentifier  = "SYSLOG_IDENTIFIER"
	FieldBootID      = "_BOOT_ID"
	FieldSystemdUnit = "_SYSTEMD_UNIT"
	FieldCursor      = "__CURSOR"

	// CoredumpIdentifier tags every entry written by systemd-coredump
	CoredumpIdentifier = "systemd-coredump"
)
