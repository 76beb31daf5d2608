package repository

import "errors"

var (
	// ErrConnectionLost signals a transient transport failure. The stream
	// manager reacts with backoff reconnection; it never reaches consumers.
	ErrConnectionLost = errors.New("connection lost")

	// ErrInvalidInput is returned synchronously for non-finite or negative
	// volume/price passed to the detector.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotConnected is returned when Stream is called before Connect.
	ErrNotConnected = errors.New("provider not connected")

	// ErrProviderNotFound is returned for an unknown provider name.
	ErrProviderNotFound = errors.New("provider not found")
)
