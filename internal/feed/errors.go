package feed

import (
	"errors"
	"fmt"
)

// ErrNoData is returned by Snapshot when a symbol has never been populated.
var ErrNoData = errors.New("feed: no data")

// ErrNotFound marks an authenticated request answered with not-found. For
// account endpoints this is a valid empty state, not a failure.
var ErrNotFound = errors.New("feed: not found")

// ErrPushUnsupported is returned by OpenPush when a venue has no streaming
// channel for the feed; the coordinator then runs in pull mode permanently.
var ErrPushUnsupported = errors.New("feed: push transport unsupported")

// TransportError is a connection level failure: dial errors, dropped
// sockets, 5xx responses, timeouts. It triggers fallback and is retried,
// never propagated to feed callers.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// AuthError is terminal for the feed. It is surfaced to the caller via Err()
// and never retried.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("auth %s: %v", e.Op, e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// SchemaError is a malformed payload. It is logged and the message skipped;
// the feed keeps running.
type SchemaError struct {
	Venue string
	Err   error
}

func (e *SchemaError) Error() string { return fmt.Sprintf("schema %s: %v", e.Venue, e.Err) }
func (e *SchemaError) Unwrap() error { return e.Err }

// IsAuthError reports whether err is terminal for a feed.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
