package node

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"invsync/network"
)

// Remote is the node's view of one connected peer. Name, heartbeat and
// slot state are owned by the node's event loop; Send, Await and Request
// are safe from any goroutine.
type Remote struct {
	node *Node
	conn network.Conn

	name          string
	lastHeartbeat time.Time
	detail        map[any]any
	logger        *zap.Logger

	removed atomic.Bool
}

func newRemote(n *Node, conn network.Conn) *Remote {
	return &Remote{
		node:   n,
		conn:   conn,
		detail: make(map[any]any),
		logger: n.logger.With(zap.String("remote", conn.ID()), zap.String("addr", conn.RemoteAddr())),
	}
}

// ID returns the connection id.
func (r *Remote) ID() string {
	return r.conn.ID()
}

// Addr returns the peer address.
func (r *Remote) Addr() string {
	return r.conn.RemoteAddr()
}

// Name returns the normalized player name, empty until identified.
func (r *Remote) Name() string {
	return r.name
}

// Identify records the player's name.
func (r *Remote) Identify(name string) {
	r.name = name
	r.logger = r.node.logger.With(
		zap.String("remote", r.conn.ID()),
		zap.String("addr", r.conn.RemoteAddr()),
		zap.String("player", name),
	)
}

// LastHeartbeat returns the last liveness timestamp. ok is false until
// liveness tracking has started.
func (r *Remote) LastHeartbeat() (time.Time, bool) {
	return r.lastHeartbeat, !r.lastHeartbeat.IsZero()
}

// Heartbeat records liveness at now.
func (r *Remote) Heartbeat(now time.Time) {
	r.lastHeartbeat = now
}

// Closed reports whether the remote has been removed from its node.
func (r *Remote) Closed() bool {
	return r.removed.Load()
}

// Logger returns the remote-scoped logger.
func (r *Remote) Logger() *zap.Logger {
	return r.logger
}

// Send encodes and writes one message.
func (r *Remote) Send(msgType string, message any) error {
	if r.removed.Load() {
		return fmt.Errorf("send %q: %w", msgType, ErrRemoteClosed)
	}
	payload, err := network.EncodeEnvelope(msgType, message)
	if err != nil {
		return err
	}
	if err := r.conn.Send(payload); err != nil {
		return fmt.Errorf("send %q: %w", msgType, err)
	}
	return nil
}

// Await blocks until a message of msgType arrives on r. It fails with
// ErrRemoteClosed if r disconnects and ErrAwaitTimeout after the node's
// await timeout. It must not be called from an activity hook.
func (r *Remote) Await(ctx context.Context, msgType string) (json.RawMessage, error) {
	waiter, err := r.node.pending.add(r, msgType)
	if err != nil {
		return nil, err
	}
	defer r.node.pending.remove(r, msgType, waiter)
	return r.node.wait(ctx, msgType, waiter)
}

// Request sends one message and waits for the correlated reply type. The
// waiter is registered before sending so a fast reply is never missed.
func (r *Remote) Request(ctx context.Context, msgType string, message any, replyType string) (json.RawMessage, error) {
	waiter, err := r.node.pending.add(r, replyType)
	if err != nil {
		return nil, err
	}
	defer r.node.pending.remove(r, replyType, waiter)

	if err := r.Send(msgType, message); err != nil {
		return nil, err
	}
	return r.node.wait(ctx, replyType, waiter)
}
