package node

import (
	"encoding/json"
	"time"
)

// Activity is one pluggable slice of the protocol. Every hook is optional.
// Activities hold no state of their own; per-remote and per-node state
// lives in RemoteSlot and NodeSlot tables.
type Activity struct {
	Name string

	NodeCreated        func(n *Node) error
	NodeDestroyed      func(n *Node) error
	RemoteConnected    func(n *Node, r *Remote) error
	RemoteDisconnected func(n *Node, r *Remote) error
	// Message reports whether it handled the message. A returned error
	// is logged and dispatch moves on to the next activity.
	Message func(n *Node, r *Remote, msgType string, payload json.RawMessage) (bool, error)
	Nanny   func(n *Node, r *Remote, now time.Time) error
}
