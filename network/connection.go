package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
)

// ConnectionState represents the lifecycle state of one connection.
type ConnectionState string

const (
	StateReady        ConnectionState = "READY"
	StateDisconnected ConnectionState = "DISCONNECTED"
)

// Conn is one bidirectional message connection. Receive returns io.EOF
// after a clean close and the transport error otherwise.
type Conn interface {
	ID() string
	RemoteAddr() string
	Send(payload []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
	Done() <-chan struct{}
}

// Listener yields inbound connections.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() string
	Close() error
}

// Transport is a connection factory.
type Transport interface {
	Dial(ctx context.Context, address string) (Conn, error)
	Listen(address string) (Listener, error)
}

// frameIO is the per-transport framing beneath Connection.
type frameIO interface {
	readFrame() ([]byte, error)
	writeFrame(payload []byte) error
	close() error
	remoteAddr() string
	// temporary reports whether a read error may be retried.
	temporary(err error) bool
}

// Connection runs a read loop and a write loop over a frameIO. Inbound
// frames are buffered for Receive; outbound frames wait in a bounded queue.
type Connection struct {
	io frameIO
	id string

	stateMu sync.RWMutex
	state   ConnectionState

	inbound  chan []byte
	outbound chan []byte

	closeOnce   sync.Once
	closed      chan struct{}
	closeIOOnce sync.Once

	errMu    sync.RWMutex
	closeErr error
}

func newConnection(fio frameIO, opts Options) *Connection {
	c := &Connection{
		io:       fio,
		id:       uuid.NewString(),
		inbound:  make(chan []byte, 64),
		outbound: make(chan []byte, opts.SendQueueSize),
		closed:   make(chan struct{}),
		state:    StateReady,
	}
	go c.readLoop()
	go c.writeLoop()
	return c
}

// ID returns a process-unique connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// RemoteAddr returns the peer address as reported by the transport.
func (c *Connection) RemoteAddr() string {
	return c.io.remoteAddr()
}

// State returns the current connection state.
func (c *Connection) State() ConnectionState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Done is closed when the connection is fully disconnected.
func (c *Connection) Done() <-chan struct{} {
	return c.closed
}

// LastError returns the terminal connection error, if any.
func (c *Connection) LastError() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.closeErr
}

// Send queues one payload to be written as one frame. It never blocks: a
// peer that lets the queue fill up is disconnected with ErrSendQueueFull.
func (c *Connection) Send(payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	select {
	case <-c.closed:
		if err := c.LastError(); err != nil {
			return err
		}
		return io.EOF
	default:
	}

	select {
	case c.outbound <- payload:
		return nil
	default:
		c.closeWithError(ErrSendQueueFull)
		return ErrSendQueueFull
	}
}

// Receive waits for the next inbound frame.
func (c *Connection) Receive(ctx context.Context) ([]byte, error) {
	select {
	case payload := <-c.inbound:
		return payload, nil
	default:
	}

	select {
	case payload := <-c.inbound:
		return payload, nil
	case <-c.closed:
		// Frames read before the close are still delivered.
		select {
		case payload := <-c.inbound:
			return payload, nil
		default:
		}
		if err := c.LastError(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close terminates the connection. Frames already queued are still
// written, each within the write timeout.
func (c *Connection) Close() error {
	c.closeWithError(nil)
	return nil
}

func (c *Connection) readLoop() {
	for {
		select {
		case <-c.closed:
			return
		default:
		}

		payload, err := c.io.readFrame()
		if err != nil {
			if c.io.temporary(err) {
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				c.closeWithError(nil)
				return
			}

			c.closeWithError(fmt.Errorf("read frame: %w", err))
			return
		}

		if len(payload) == 0 {
			continue
		}

		select {
		case c.inbound <- payload:
		case <-c.closed:
			return
		}
	}
}

func (c *Connection) writeLoop() {
	defer c.closeIO()

	for {
		select {
		case payload := <-c.outbound:
			if err := c.io.writeFrame(payload); err != nil {
				c.closeWithError(fmt.Errorf("write frame: %w", err))
				return
			}
		case <-c.closed:
			if c.LastError() == nil {
				c.flush()
			}
			return
		}
	}
}

func (c *Connection) flush() {
	for {
		select {
		case payload := <-c.outbound:
			if err := c.io.writeFrame(payload); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) closeIO() {
	c.closeIOOnce.Do(func() {
		_ = c.io.close()
	})
}

func (c *Connection) setState(state ConnectionState) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state = state
}

func (c *Connection) closeWithError(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.closeErr = err
		c.errMu.Unlock()

		c.setState(StateDisconnected)
		close(c.closed)
		// A failed connection is torn down at once; a clean close lets the
		// write loop flush first.
		if err != nil {
			c.closeIO()
		}
	})
}
