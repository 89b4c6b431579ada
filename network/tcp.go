package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// TCPTransport carries length-prefixed JSON frames over TCP.
type TCPTransport struct {
	Options Options
}

// Dial connects to a TCP listener.
func (t TCPTransport) Dial(ctx context.Context, address string) (Conn, error) {
	opts := t.Options.withDefaults()

	dialer := net.Dialer{Timeout: opts.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %q: %w", address, err)
	}
	return newConnection(newTCPFrames(conn, opts), opts), nil
}

// Listen starts a TCP listener and accept loop.
func (t TCPTransport) Listen(address string) (Listener, error) {
	opts := t.Options.withDefaults()
	if address == "" {
		address = ":0"
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", address, err)
	}

	server := &tcpListener{
		listener: listener,
		options:  opts,
		incoming: make(chan Conn, 16),
		errs:     make(chan error, 16),
		closed:   make(chan struct{}),
	}

	server.wg.Add(1)
	go server.acceptLoop()
	return server, nil
}

type tcpFrames struct {
	conn         net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func newTCPFrames(conn net.Conn, opts Options) *tcpFrames {
	return &tcpFrames{
		conn:         conn,
		readTimeout:  opts.FrameReadTimeout,
		writeTimeout: opts.FrameWriteTimeout,
	}
}

func (f *tcpFrames) readFrame() ([]byte, error) {
	return ReadFrameWithTimeout(f.conn, f.readTimeout)
}

func (f *tcpFrames) writeFrame(payload []byte) error {
	if f.writeTimeout > 0 {
		if err := f.conn.SetWriteDeadline(time.Now().Add(f.writeTimeout)); err != nil {
			return err
		}
	}
	return WriteFrame(f.conn, payload)
}

func (f *tcpFrames) close() error {
	return f.conn.Close()
}

func (f *tcpFrames) remoteAddr() string {
	return f.conn.RemoteAddr().String()
}

func (f *tcpFrames) temporary(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

type tcpListener struct {
	listener net.Listener
	options  Options

	incoming chan Conn
	errs     chan error

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func (s *tcpListener) Addr() string {
	return s.listener.Addr().String()
}

// Accept returns the next inbound connection. Asynchronous accept errors
// are returned as they occur; the listener keeps running.
func (s *tcpListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case conn, ok := <-s.incoming:
		if !ok {
			return nil, ErrListenerClosed
		}
		return conn, nil
	case err, ok := <-s.errs:
		if !ok {
			return nil, ErrListenerClosed
		}
		return nil, err
	case <-s.closed:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *tcpListener) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.closed)
		closeErr = s.listener.Close()
		s.wg.Wait()
		close(s.incoming)
		close(s.errs)
	})
	return closeErr
}

func (s *tcpListener) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}

			s.reportError(fmt.Errorf("accept connection: %w", err))
			continue
		}

		connection := newConnection(newTCPFrames(conn, s.options), s.options)
		select {
		case s.incoming <- connection:
		case <-s.closed:
			_ = connection.Close()
			return
		}
	}
}

func (s *tcpListener) reportError(err error) {
	if err == nil {
		return
	}

	// Accept loop shutdown produces expected net.ErrClosed errors.
	if errors.Is(err, net.ErrClosed) {
		return
	}

	select {
	case s.errs <- err:
	default:
	}
}
