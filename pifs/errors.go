package pifs

import (
	"github.com/pkg/errors"
)

// Status is the stable error-kind taxonomy every internal operation
// reports (spec §6's "Error codes"). Numeric values are not part of
// the contract, only the kinds are.
type Status int

const (
	StatusSuccess Status = iota
	StatusGeneral
	StatusNotInitialized
	StatusInvalidOpenMode
	StatusInvalidFileName
	StatusFileNotFound
	StatusFileAlreadyExist
	StatusNoMoreResource
	StatusNoMoreSpace
	StatusNoMoreEntry
	StatusEndOfFile
	StatusConfiguration
	StatusFlashInit
	StatusFlashRead
	StatusFlashWrite
	StatusFlashErase
	StatusFlashTimeout
	StatusFlashGeneral
	StatusInternalAllocation
	StatusInternalRange
	StatusSeekNotPossible
	StatusNotADirectory
	StatusIsADirectory
	StatusDirectoryNotEmpty
	StatusDeltaMapFull
	StatusEntryListFull
)

var statusNames = map[Status]string{
	StatusSuccess:            "success",
	StatusGeneral:            "general error",
	StatusNotInitialized:     "not initialized",
	StatusInvalidOpenMode:    "invalid open mode",
	StatusInvalidFileName:    "invalid file name",
	StatusFileNotFound:       "file not found",
	StatusFileAlreadyExist:   "file already exists",
	StatusNoMoreResource:     "no more resource",
	StatusNoMoreSpace:        "no more space",
	StatusNoMoreEntry:        "no more entry",
	StatusEndOfFile:          "end of file",
	StatusConfiguration:      "configuration error",
	StatusFlashInit:          "flash init error",
	StatusFlashRead:          "flash read error",
	StatusFlashWrite:         "flash write error",
	StatusFlashErase:         "flash erase error",
	StatusFlashTimeout:       "flash timeout",
	StatusFlashGeneral:       "flash error",
	StatusInternalAllocation: "internal allocation error",
	StatusInternalRange:      "internal range error",
	StatusSeekNotPossible:    "seek not possible",
	StatusNotADirectory:      "not a directory",
	StatusIsADirectory:       "is a directory",
	StatusDirectoryNotEmpty:  "directory not empty",
	StatusDeltaMapFull:       "delta map full",
	StatusEntryListFull:      "entry list full",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown status"
}

// StatusError is the typed error every exported operation that can
// fail ultimately wraps. Call Status() on the cause of a returned
// error (via errors.Cause) to compare error kinds.
type StatusError struct {
	status Status
	msg    string
}

func (e *StatusError) Error() string {
	if e.msg == "" {
		return e.status.String()
	}
	return e.msg + ": " + e.status.String()
}

// Status reports the stable error kind.
func (e *StatusError) Status() Status {
	return e.status
}

func newStatusError(status Status, msg string) error {
	return &StatusError{status: status, msg: msg}
}

func newStatusErrorf(status Status, format string, args ...interface{}) error {
	return &StatusError{status: status, msg: errorsSprintf(format, args...)}
}

func errorsSprintf(format string, args ...interface{}) string {
	return errors.Errorf(format, args...).Error()
}

// StatusOf unwraps err (through any github.com/pkg/errors wrapping)
// looking for a *StatusError and returns its Status, StatusSuccess for
// a nil error, or StatusGeneral for anything else.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	if se, ok := errors.Cause(err).(*StatusError); ok {
		return se.status
	}
	return StatusGeneral
}
