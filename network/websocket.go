package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultWSPath is the HTTP path the WebSocket listener upgrades on.
const DefaultWSPath = "/invsync"

// WSTransport carries one JSON envelope per WebSocket text message.
type WSTransport struct {
	Path    string
	Options Options
}

func (t WSTransport) path() string {
	if t.Path == "" {
		return DefaultWSPath
	}
	return t.Path
}

// Dial connects to a WebSocket listener. address is either host:port or a
// full ws:// or wss:// URL.
func (t WSTransport) Dial(ctx context.Context, address string) (Conn, error) {
	opts := t.Options.withDefaults()

	endpoint := address
	if !strings.HasPrefix(endpoint, "ws://") && !strings.HasPrefix(endpoint, "wss://") {
		endpoint = "ws://" + address + t.path()
	}

	dialer := websocket.Dialer{HandshakeTimeout: opts.ConnectionTimeout}
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, fmt.Errorf("dial %q (status=%d): %w", endpoint, status, err)
	}
	conn.SetReadLimit(MaxFrameSize)
	return newConnection(&wsFrames{conn: conn, writeTimeout: opts.FrameWriteTimeout}, opts), nil
}

// Listen serves WebSocket upgrades on address.
func (t WSTransport) Listen(address string) (Listener, error) {
	opts := t.Options.withDefaults()
	if address == "" {
		address = ":0"
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", address, err)
	}

	server := &wsListener{
		listener: listener,
		options:  opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		incoming: make(chan Conn, 16),
		closed:   make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(t.path(), server.handleUpgrade)
	server.http = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	server.wg.Add(1)
	go func() {
		defer server.wg.Done()
		if err := server.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			server.setErr(fmt.Errorf("serve websocket: %w", err))
		}
	}()
	return server, nil
}

type wsFrames struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
}

func (f *wsFrames) readFrame() ([]byte, error) {
	_, data, err := f.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

func (f *wsFrames) writeFrame(payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if f.writeTimeout > 0 {
		if err := f.conn.SetWriteDeadline(time.Now().Add(f.writeTimeout)); err != nil {
			return err
		}
	}
	return f.conn.WriteMessage(websocket.TextMessage, payload)
}

func (f *wsFrames) close() error {
	// WriteControl may run concurrently with a blocked WriteMessage.
	_ = f.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return f.conn.Close()
}

func (f *wsFrames) remoteAddr() string {
	return f.conn.RemoteAddr().String()
}

func (f *wsFrames) temporary(error) bool {
	return false
}

type wsListener struct {
	listener net.Listener
	options  Options
	http     *http.Server
	upgrader websocket.Upgrader

	incoming chan Conn

	errMu    sync.Mutex
	serveErr error

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func (s *wsListener) Addr() string {
	return s.listener.Addr().String()
}

func (s *wsListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case conn := <-s.incoming:
		return conn, nil
	case <-s.closed:
		if err := s.err(); err != nil {
			return nil, err
		}
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *wsListener) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.closed)
		closeErr = s.http.Close()
		s.wg.Wait()
	})
	return closeErr
}

func (s *wsListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(MaxFrameSize)

	connection := newConnection(&wsFrames{conn: conn, writeTimeout: s.options.FrameWriteTimeout}, s.options)
	select {
	case s.incoming <- connection:
	case <-s.closed:
		_ = connection.Close()
	}
}

func (s *wsListener) setErr(err error) {
	s.errMu.Lock()
	s.serveErr = err
	s.errMu.Unlock()
}

func (s *wsListener) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.serveErr
}
