package session

import "errors"

var (
	// ErrInvalidKey is returned when a guild id, user id or session name is unusable.
	ErrInvalidKey = errors.New("invalid session key")

	// ErrSessionExists is returned by Create when the name is already taken in the cache or the store.
	ErrSessionExists = errors.New("session already exists")

	// ErrLimitReached is returned by Create when the user already holds the maximum number of sessions.
	ErrLimitReached = errors.New("session limit reached")

	// ErrMalformedTranscript is returned by Update when a message lacks a role or content.
	// Neither tier is changed.
	ErrMalformedTranscript = errors.New("malformed transcript")

	// ErrStoreUnavailable is returned when the durable store could not complete a write, or a
	// read whose result would be written back.
	ErrStoreUnavailable = errors.New("session store unavailable")

	// ErrSessionBusy is returned while another caller holds the session's Lease.
	ErrSessionBusy = errors.New("session is busy")
)
