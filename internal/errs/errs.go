// Package errs classifies pipeline failures so callers can branch on the kind of
// failure without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind groups failures by how a caller is expected to react to them.
type Kind string

const (
	KindDecode       Kind = "decode"
	KindRender       Kind = "render"
	KindEncode       Kind = "encode"
	KindConflict     Kind = "conflict"
	KindNetwork      Kind = "network"
	KindQuota        Kind = "quota_exceeded"
	KindStorage      Kind = "storage"
	KindInvalidInput Kind = "invalid_input"
	KindNotFound     Kind = "not_found"
)

// Error is the structured error returned across package boundaries.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return string(e.Kind)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Op == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrDecode        = &Error{Kind: KindDecode}
	ErrRender        = &Error{Kind: KindRender}
	ErrEncode        = &Error{Kind: KindEncode}
	ErrConflict      = &Error{Kind: KindConflict}
	ErrNetwork       = &Error{Kind: KindNetwork}
	ErrQuotaExceeded = &Error{Kind: KindQuota}
	ErrStorage       = &Error{Kind: KindStorage}
	ErrInvalidInput  = &Error{Kind: KindInvalidInput}
	ErrNotFound      = &Error{Kind: KindNotFound}
)

// New builds an error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf is New with a formatted cause.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsUpload reports whether err belongs to the upload failure family: conflict,
// network, quota or a generic storage failure.
func IsUpload(err error) bool {
	switch KindOf(err) {
	case KindConflict, KindNetwork, KindQuota, KindStorage:
		return true
	}
	return false
}
