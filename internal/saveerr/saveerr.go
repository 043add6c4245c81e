// Package saveerr defines the stable error codes reported by the save pipeline.
//
// Codes are part of the external contract: tooling keys off the numeric id and
// name, never off the message text.
package saveerr

import (
	"errors"
	"fmt"
	"strings"
)

type Code int

const (
	NoSaveKeyAssigned Code = iota + 1
	DuplicateSaveKeys
	NoSaveValueFound
	SaveValueTypeMismatch
	SaveValueLoadFailed
	DecryptionFailed
	MalformedDocument
	LegacyMigrationFailed
	PreLoadHookFailed
	StorageReadFailed
	StorageWriteFailed
	SlotLimitReached
	SlotNotFound
	BackupWriteFailed
	LoadFailedCompletely
	MetadataProviderFailed
	LocationMigrationFailed
	SaveValueWriteFailed
)

var codeNames = map[Code]string{
	NoSaveKeyAssigned:       "NoSaveKeyAssigned",
	DuplicateSaveKeys:       "DuplicateSaveKeys",
	NoSaveValueFound:        "NoSaveValueFound",
	SaveValueTypeMismatch:   "SaveValueTypeMismatch",
	SaveValueLoadFailed:     "SaveValueLoadFailed",
	DecryptionFailed:        "DecryptionFailed",
	MalformedDocument:       "MalformedDocument",
	LegacyMigrationFailed:   "LegacyMigrationFailed",
	PreLoadHookFailed:       "PreLoadHookFailed",
	StorageReadFailed:       "StorageReadFailed",
	StorageWriteFailed:      "StorageWriteFailed",
	SlotLimitReached:        "SlotLimitReached",
	SlotNotFound:            "SlotNotFound",
	BackupWriteFailed:       "BackupWriteFailed",
	LoadFailedCompletely:    "LoadFailedCompletely",
	MetadataProviderFailed:  "MetadataProviderFailed",
	LocationMigrationFailed: "LocationMigrationFailed",
	SaveValueWriteFailed:    "SaveValueWriteFailed",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// PerValue reports whether the code is isolated to a single entry.
func (c Code) PerValue() bool {
	switch c {
	case NoSaveValueFound, SaveValueTypeMismatch, SaveValueLoadFailed:
		return true
	default:
		return false
	}
}

// Error pairs a Code with the context it was raised in.
type Error struct {
	Code   Code
	Scope  string
	Key    string
	Detail string
	Err    error
}

func New(code Code, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, detail string) *Error {
	return &Error{Code: code, Detail: detail, Err: err}
}

// At returns a copy of e tagged with scope and key.
func (e *Error) At(scope, key string) *Error {
	out := *e
	out.Scope = scope
	out.Key = key
	return &out
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "savekit: %s (%d)", e.Code, int(e.Code))
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Scope != "" || e.Key != "" {
		fmt.Fprintf(&b, " [scope=%s key=%q]", e.Scope, e.Key)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || other == nil {
		return false
	}
	return e.Code == other.Code && other.Detail == "" && other.Err == nil
}

// CodeOf extracts the outermost Code from err.
func CodeOf(err error) (Code, bool) {
	var saveErr *Error
	if errors.As(err, &saveErr) && saveErr != nil {
		return saveErr.Code, true
	}
	return 0, false
}

// Sentinel returns a bare Error usable as an errors.Is target.
func Sentinel(code Code) *Error {
	return &Error{Code: code}
}
