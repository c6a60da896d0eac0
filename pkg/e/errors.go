// Package e holds the error taxonomy shared between the GitHub client,
// the archive pipeline and the HTTP boundary.
package e

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTaskNotFound    = errors.New("task not found")
	ErrTaskNotFinished = errors.New("task not finished")
	ErrNotFound        = errors.New("not found")
	ErrNotImplemented  = errors.New("not implemented")
)

// Kind classifies a failure talking to the origin. The HTTP boundary maps
// each kind to a status code; nothing below the boundary does that mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindAuthentication
	KindPermission
	KindRateLimit
	KindNotFound
	KindUpstream
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindPermission:
		return "permission"
	case KindRateLimit:
		return "rate_limit"
	case KindNotFound:
		return "not_found"
	case KindUpstream:
		return "upstream"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

// Error is a classified origin failure. Message carries the origin's own
// text verbatim where available. ResetAt is only set for KindRateLimit.
type Error struct {
	Kind    Kind
	Message string
	ResetAt time.Time
	wrapped error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.wrapped }

// KindOf returns the classification of err, KindInternal if it carries none.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

func Authentication(msg string) error {
	return &Error{Kind: KindAuthentication, Message: msg}
}

func Permission(msg string) error {
	return &Error{Kind: KindPermission, Message: msg}
}

func RateLimited(resetAt time.Time) error {
	return &Error{
		Kind:    KindRateLimit,
		Message: fmt.Sprintf("GitHub API rate limit exceeded. Resets at %s", resetAt.Format("2006-01-02 15:04:05")),
		ResetAt: resetAt,
	}
}

func PathNotFound(msg string) error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func Upstream(msg string) error {
	return &Error{Kind: KindUpstream, Message: msg}
}

// Transient marks a connection-level failure eligible for automatic retry.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTransient, Message: err.Error(), wrapped: err}
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}
