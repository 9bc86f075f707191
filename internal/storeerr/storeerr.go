// Package storeerr defines the error taxonomy shared by the remote client,
// the document store, the file gateway and the sync engine.
//
// Every failure surfaced by the store matches exactly one of the sentinel
// kinds below through errors.Is. The kinds tell callers what happened:
//
//   - ErrNotFound: nothing happened, safe to ignore
//   - ErrConflict, ErrRejected, ErrUnauthorized: the change was not applied
//   - ErrTransport: try again
package storeerr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("version conflict")
	ErrRejected     = errors.New("rejected")
	ErrTransport    = errors.New("transport error")
	ErrUnauthorized = errors.New("unauthorized")
)

const (
	CodeNotFound     = "E_NOT_FOUND"
	CodeConflict     = "E_CONFLICT"
	CodeRejected     = "E_REJECTED"
	CodeTransport    = "E_TRANSPORT"
	CodeUnauthorized = "E_UNAUTHORIZED"
	CodeUnknown      = "E_UNKNOWN_ERR"
)

// Kind returns the sentinel the error belongs to, or nil if it is outside the taxonomy.
func Kind(err error) error {
	for _, kind := range []error{ErrNotFound, ErrConflict, ErrRejected, ErrUnauthorized, ErrTransport} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	switch Kind(err) {
	case ErrNotFound:
		return CodeNotFound
	case ErrConflict:
		return CodeConflict
	case ErrRejected:
		return CodeRejected
	case ErrUnauthorized:
		return CodeUnauthorized
	case ErrTransport:
		return CodeTransport
	default:
		return CodeUnknown
	}
}

// IsRetryable reports whether a bounded retry may succeed. Only transport
// errors qualify; a conflict needs a fresh read first.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport)
}

// APIError is a failure reported by the remote content API.
type APIError struct {
	Kind    error  // one of the sentinels
	Op      string // fetch, write, delete, list, probe
	Path    string
	Status  int    // HTTP status, zero for transport failures
	Message string // provider message
	Err     error  // underlying transport error, if any
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Path != "" {
		fmt.Fprintf(&b, " %q", e.Path)
	}
	fmt.Fprintf(&b, ": %s", e.Kind)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *APIError) Is(target error) bool { return target == e.Kind }
func (e *APIError) Unwrap() error        { return e.Err }

// RejectedError describes an upload refused before any remote call.
type RejectedError struct {
	Name   string
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("rejected: %s", e.Reason)
	}
	return fmt.Sprintf("rejected %q: %s", e.Name, e.Reason)
}

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }
