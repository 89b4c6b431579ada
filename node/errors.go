package node

import "errors"

var (
	// ErrRemoteClosed is returned to waiters whose remote disconnected.
	ErrRemoteClosed = errors.New("node: remote closed")
	// ErrUnknownRemote indicates a disconnect for a remote that is not live.
	ErrUnknownRemote = errors.New("node: unknown remote")
	// ErrNodeDestroyed is returned by entry points after Destroy.
	ErrNodeDestroyed = errors.New("node: destroyed")
	// ErrAwaitTimeout is returned when a correlated reply does not arrive in time.
	ErrAwaitTimeout = errors.New("node: await timed out")
)
