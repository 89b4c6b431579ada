package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"invsync/network"
	"invsync/storage"
)

// Node owns the connected remotes and the ordered activity list, and
// dispatches every lifecycle, message and nanny event to the activities.
//
// Events are processed one at a time under the node lock. Accessors that
// do not lock (Remotes, FindByName, PlayerData, slots) are meant for use
// inside activity hooks or inside Do.
type Node struct {
	options Options
	logger  *zap.Logger
	clock   clockwork.Clock

	mu         sync.Mutex
	activities []Activity
	remotes    []*Remote
	detail     map[any]any
	localData  map[string]json.RawMessage
	listeners  []network.Listener
	destroyed  bool

	pending *pendingTable

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	nannyMu   sync.Mutex
	nannyStop chan struct{}
	nannyDone chan struct{}
}

// New creates a node and notifies each activity in registration order.
func New(options Options) (*Node, error) {
	opts, err := options.withDefaults()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		options:    opts,
		logger:     opts.Logger.With(zap.String("role", string(opts.Role))),
		clock:      opts.Clock,
		activities: opts.Activities,
		detail:     make(map[any]any),
		pending:    newPendingTable(),
		ctx:        ctx,
		cancel:     cancel,
	}
	if opts.Role == RoleHost {
		n.localData = make(map[string]json.RawMessage)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	for _, activity := range n.activities {
		if activity.NodeCreated == nil {
			continue
		}
		n.guard(activity, "node_created", nil, func() error {
			return activity.NodeCreated(n)
		})
	}
	return n, nil
}

// Role returns the node's protocol side.
func (n *Node) Role() Role {
	return n.options.Role
}

// Store returns the local data-model store, which may be nil.
func (n *Node) Store() *storage.Store {
	return n.options.Store
}

// UI returns the application surface.
func (n *Node) UI() UI {
	return n.options.UI
}

// Logger returns the node logger.
func (n *Node) Logger() *zap.Logger {
	return n.logger
}

// Now returns the node clock's current time.
func (n *Node) Now() time.Time {
	return n.clock.Now()
}

// LivenessTimeout returns how long a host tolerates a silent guest.
func (n *Node) LivenessTimeout() time.Duration {
	return n.options.LivenessTimeout
}

// Remotes returns a copy of the live remotes in connection order.
func (n *Node) Remotes() []*Remote {
	return append([]*Remote(nil), n.remotes...)
}

// FindByName returns the identified remote with the given name.
func (n *Node) FindByName(name string) *Remote {
	if name == "" {
		return nil
	}
	for _, remote := range n.remotes {
		if remote.name == name {
			return remote
		}
	}
	return nil
}

// Do runs fn on the node's event loop.
func (n *Node) Do(fn func(n *Node) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.destroyed {
		return ErrNodeDestroyed
	}
	return fn(n)
}

// Listen accepts connections on transport until ctx is done or the node
// is destroyed. The returned listener reports the bound address.
func (n *Node) Listen(ctx context.Context, transport network.Transport, address string) (network.Listener, error) {
	listener, err := transport.Listen(address)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	n.mu.Lock()
	if n.destroyed {
		n.mu.Unlock()
		_ = listener.Close()
		return nil, ErrNodeDestroyed
	}
	n.listeners = append(n.listeners, listener)
	n.wg.Add(1)
	n.mu.Unlock()

	go n.acceptLoop(ctx, listener)
	n.StartNanny()
	n.logger.Info("listening", zap.String("addr", listener.Addr()))
	return listener, nil
}

// Connect dials address and attaches the resulting connection.
func (n *Node) Connect(ctx context.Context, transport network.Transport, address string) (*Remote, error) {
	conn, err := transport.Dial(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	remote, err := n.Attach(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	n.StartNanny()
	return remote, nil
}

// Attach adopts an established connection as a new remote, notifies the
// activities and starts reading from it.
func (n *Node) Attach(conn network.Conn) (*Remote, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.destroyed {
		return nil, ErrNodeDestroyed
	}

	remote := newRemote(n, conn)
	n.remotes = append(n.remotes, remote)
	remote.logger.Info("remote connected")

	n.wg.Add(1)
	go n.readLoop(remote)

	for _, activity := range n.activities {
		if remote.removed.Load() {
			break
		}
		if activity.RemoteConnected == nil {
			continue
		}
		n.guard(activity, "remote_connected", remote, func() error {
			return activity.RemoteConnected(n, remote)
		})
	}
	return remote, nil
}

// HandlePayload decodes one wire payload from r and dispatches it.
// Malformed envelopes are logged and dropped.
func (n *Node) HandlePayload(r *Remote, payload []byte) {
	envelope, err := network.DecodeEnvelope(payload)
	if err != nil {
		r.logger.Warn("dropping malformed message", zap.Error(err))
		return
	}
	n.Dispatch(r, envelope.Type, envelope.Message)
}

// Dispatch offers a message to the activities in order. The first
// activity reporting it handled stops the dispatch.
func (n *Node) Dispatch(r *Remote, msgType string, payload json.RawMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.destroyed || r.removed.Load() {
		return
	}
	n.dispatchLocked(r, msgType, payload)
}

func (n *Node) dispatchLocked(r *Remote, msgType string, payload json.RawMessage) {
	if n.pending.resolve(r, msgType, payload) {
		return
	}

	for _, activity := range n.activities {
		if r.removed.Load() {
			return
		}
		if activity.Message == nil {
			continue
		}
		if n.deliver(activity, r, msgType, payload) {
			return
		}
	}
	if r.removed.Load() {
		return
	}

	if n.options.Fallback != nil {
		handled, err := n.options.Fallback(n, r, msgType, payload)
		if err != nil {
			r.logger.Warn("fallback failed", zap.String("type", msgType), zap.Error(err))
		} else if handled {
			return
		}
	}

	r.logger.Warn("unknown message", zap.String("type", msgType))
	if n.options.Unknown != nil {
		n.options.Unknown(n, r, msgType, payload)
	}
}

// Tick runs one nanny pass: every activity's Nanny hook for every remote.
func (n *Node) Tick(now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.destroyed {
		return
	}

	for _, remote := range n.Remotes() {
		for _, activity := range n.activities {
			if remote.removed.Load() {
				break
			}
			if activity.Nanny == nil {
				continue
			}
			n.guard(activity, "nanny", remote, func() error {
				return activity.Nanny(n, remote, now)
			})
		}
	}
}

// Disconnect closes r and removes it from the node.
func (n *Node) Disconnect(r *Remote) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.Close(r)
}

// Close removes r, closes its connection, fails its waiters and notifies
// the activities in reverse order. Use it from inside hooks; other callers
// want Disconnect.
func (n *Node) Close(r *Remote) error {
	index := -1
	for i, remote := range n.remotes {
		if remote == r {
			index = i
			break
		}
	}
	if index < 0 {
		return fmt.Errorf("disconnect %s: %w", r.ID(), ErrUnknownRemote)
	}

	n.remotes = append(n.remotes[:index], n.remotes[index+1:]...)
	r.removed.Store(true)
	_ = r.conn.Close()
	n.pending.cancel(r, ErrRemoteClosed)
	r.logger.Info("remote disconnected")

	for i := len(n.activities) - 1; i >= 0; i-- {
		activity := n.activities[i]
		if activity.RemoteDisconnected == nil {
			continue
		}
		n.guard(activity, "remote_disconnected", r, func() error {
			return activity.RemoteDisconnected(n, r)
		})
	}
	return nil
}

// Destroy stops the nanny, notifies the activities in reverse order,
// clears them and closes every connection and listener.
func (n *Node) Destroy() error {
	n.stopNanny()

	n.mu.Lock()
	if n.destroyed {
		n.mu.Unlock()
		return ErrNodeDestroyed
	}
	n.destroyed = true

	for i := len(n.activities) - 1; i >= 0; i-- {
		activity := n.activities[i]
		if activity.NodeDestroyed == nil {
			continue
		}
		n.guard(activity, "node_destroyed", nil, func() error {
			return activity.NodeDestroyed(n)
		})
	}
	n.activities = nil

	var errs []error
	for _, remote := range n.remotes {
		remote.removed.Store(true)
		if err := remote.conn.Close(); err != nil {
			errs = append(errs, err)
		}
		n.pending.cancel(remote, ErrNodeDestroyed)
	}
	n.remotes = nil
	for _, listener := range n.listeners {
		if err := listener.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	n.listeners = nil
	n.mu.Unlock()

	n.cancel()
	n.wg.Wait()
	n.logger.Info("node destroyed")
	return errors.Join(errs...)
}

// StartNanny starts the periodic liveness tick. It is idempotent.
func (n *Node) StartNanny() {
	n.nannyMu.Lock()
	defer n.nannyMu.Unlock()
	if n.nannyStop != nil {
		return
	}
	n.nannyStop = make(chan struct{})
	n.nannyDone = make(chan struct{})
	go n.nannyLoop(n.nannyStop, n.nannyDone)
}

func (n *Node) stopNanny() {
	n.nannyMu.Lock()
	stop, done := n.nannyStop, n.nannyDone
	n.nannyStop, n.nannyDone = nil, nil
	n.nannyMu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (n *Node) nannyLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := n.clock.NewTicker(n.options.NannyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.Chan():
			n.Tick(now)
		}
	}
}

func (n *Node) acceptLoop(ctx context.Context, listener network.Listener) {
	defer n.wg.Done()

	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if errors.Is(err, network.ErrListenerClosed) || ctx.Err() != nil {
				return
			}
			n.logger.Warn("accept failed", zap.Error(err))
			continue
		}
		if _, err := n.Attach(conn); err != nil {
			_ = conn.Close()
			return
		}
	}
}

func (n *Node) readLoop(r *Remote) {
	defer n.wg.Done()

	for {
		payload, err := r.conn.Receive(n.ctx)
		if err != nil {
			if n.ctx.Err() != nil {
				return
			}
			if !errors.Is(err, io.EOF) {
				r.logger.Warn("transport fault", zap.Error(err))
			}
			n.mu.Lock()
			if !r.removed.Load() {
				_ = n.Close(r)
			}
			n.mu.Unlock()
			return
		}
		n.HandlePayload(r, payload)
	}
}

func (n *Node) guard(activity Activity, hook string, r *Remote, fn func() error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			n.logFault(activity, hook, r, fmt.Errorf("panic: %v", recovered))
		}
	}()
	if err := fn(); err != nil {
		n.logFault(activity, hook, r, err)
	}
}

func (n *Node) deliver(activity Activity, r *Remote, msgType string, payload json.RawMessage) (handled bool) {
	defer func() {
		if recovered := recover(); recovered != nil {
			n.logFault(activity, "message:"+msgType, r, fmt.Errorf("panic: %v", recovered))
			handled = false
		}
	}()
	handled, err := activity.Message(n, r, msgType, payload)
	if err != nil {
		n.logFault(activity, "message:"+msgType, r, err)
		return false
	}
	return handled
}

func (n *Node) logFault(activity Activity, hook string, r *Remote, err error) {
	logger := n.logger
	if r != nil {
		logger = r.logger
	}
	logger.Error("activity fault",
		zap.String("activity", activity.Name),
		zap.String("hook", hook),
		zap.Error(err),
	)
}
