package model

import "errors"

// Error taxonomy. These are sentinel kinds, not concrete
// per-call errors: callers compare with errors.Is against the wrapped
// return value.
var (
	// ErrMalformedFrame means the envelope could not be decoded. The
	// sender's stream is closed; no other peer is affected.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUnknownSession means a sync frame arrived before join. The frame
	// is dropped and the sender's stream is closed.
	ErrUnknownSession = errors.New("unknown session")

	// ErrFileMissing is the precondition failure for move/delete when the
	// source path does not exist.
	ErrFileMissing = errors.New("file missing")

	// ErrDestinationExists is the precondition failure for move when the
	// destination path already exists.
	ErrDestinationExists = errors.New("destination exists")

	// ErrBackpressure means a peer's outbound queue exceeded the
	// high-water mark; its stream was closed rather than blocking the
	// broadcast.
	ErrBackpressure = errors.New("backpressure: peer too slow")

	// ErrSnapshotIOFailed wraps a disk/DB read or write error from the
	// snapshot store. It is logged and retried on the next tick; it never
	// tears down a session.
	ErrSnapshotIOFailed = errors.New("snapshot io failed")

	// ErrPermanentDisconnect is surfaced to a client replica's caller once
	// reconnect attempts are exhausted.
	ErrPermanentDisconnect = errors.New("permanently disconnected")
)
