package realtime

import "errors"

var (
	// ErrMissingAPIKey is returned at client construction when no credential
	// is configured. Connection attempts never get far enough to fail lazily.
	ErrMissingAPIKey = errors.New("realtime: api key is required")

	// ErrNotConnected is returned by outbound operations attempted before
	// Connect or after the transport dropped. Callers treat it as
	// retryable-by-reconnect, not fatal.
	ErrNotConnected = errors.New("realtime: not connected")

	// ErrAlreadyConnected is returned by Connect on a live session.
	ErrAlreadyConnected = errors.New("realtime: already connected")
)
