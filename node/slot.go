package node

// RemoteSlot is a typed per-remote side table owned by one activity.
type RemoteSlot[T any] struct {
	name string
}

// NewRemoteSlot creates a slot. Each call yields a distinct key.
func NewRemoteSlot[T any](name string) *RemoteSlot[T] {
	return &RemoteSlot[T]{name: name}
}

// Get returns the value stored for r.
func (s *RemoteSlot[T]) Get(r *Remote) (T, bool) {
	value, ok := r.detail[s]
	if !ok {
		var zero T
		return zero, false
	}
	return value.(T), true
}

// Set stores value for r.
func (s *RemoteSlot[T]) Set(r *Remote, value T) {
	r.detail[s] = value
}

// Delete clears the value stored for r.
func (s *RemoteSlot[T]) Delete(r *Remote) {
	delete(r.detail, s)
}

func (s *RemoteSlot[T]) String() string {
	return s.name
}

// NodeSlot is a typed per-node side table owned by one activity.
type NodeSlot[T any] struct {
	name string
}

// NewNodeSlot creates a slot. Each call yields a distinct key.
func NewNodeSlot[T any](name string) *NodeSlot[T] {
	return &NodeSlot[T]{name: name}
}

// Get returns the value stored on n.
func (s *NodeSlot[T]) Get(n *Node) (T, bool) {
	value, ok := n.detail[s]
	if !ok {
		var zero T
		return zero, false
	}
	return value.(T), true
}

// Set stores value on n.
func (s *NodeSlot[T]) Set(n *Node, value T) {
	n.detail[s] = value
}

// Delete clears the value stored on n.
func (s *NodeSlot[T]) Delete(n *Node) {
	delete(n.detail, s)
}

func (s *NodeSlot[T]) String() string {
	return s.name
}
