package network

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

func TestTCPTransportSendReceive(t *testing.T) {
	testTransportSendReceive(t, TCPTransport{Options: Options{FrameReadTimeout: 50 * time.Millisecond}})
}

func TestWSTransportSendReceive(t *testing.T) {
	testTransportSendReceive(t, WSTransport{})
}

func testTransportSendReceive(t *testing.T, transport Transport) {
	t.Helper()

	listener, err := transport.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer func() {
		_ = listener.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	client, err := transport.Dial(ctx, listener.Addr())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	server, err := listener.Accept(ctx)
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if server.ID() == client.ID() {
		t.Fatalf("expected distinct connection ids")
	}

	if err := client.Send([]byte(`{"type":"name","message":"alice"}`)); err != nil {
		t.Fatalf("client Send failed: %v", err)
	}
	got, err := server.Receive(ctx)
	if err != nil {
		t.Fatalf("server Receive failed: %v", err)
	}
	if string(got) != `{"type":"name","message":"alice"}` {
		t.Fatalf("unexpected payload: %s", got)
	}

	if err := server.Send([]byte(`{"type":"clients","message":["alice"]}`)); err != nil {
		t.Fatalf("server Send failed: %v", err)
	}
	if _, err := client.Receive(ctx); err != nil {
		t.Fatalf("client Receive failed: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	select {
	case <-server.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected server side to observe close")
	}
	if _, err := server.Receive(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after peer close, got %v", err)
	}
	if err := client.Send([]byte(`{}`)); err == nil {
		t.Fatalf("expected Send on closed connection to fail")
	}
}

func TestListenerAcceptAfterClose(t *testing.T) {
	listener, err := TCPTransport{}.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	if err := listener.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := listener.Accept(context.Background()); !errors.Is(err, ErrListenerClosed) {
		t.Fatalf("expected ErrListenerClosed, got %v", err)
	}
}

func TestPipeDeliversInOrder(t *testing.T) {
	left, right := Pipe()
	defer func() {
		_ = left.Close()
		_ = right.Close()
	}()

	go func() {
		for _, msg := range []string{"one", "two", "three"} {
			if err := left.Send([]byte(msg)); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, want := range []string{"one", "two", "three"} {
		got, err := right.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive failed: %v", err)
		}
		if string(got) != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}

	_ = left.Close()
	if _, err := right.Receive(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after close, got %v", err)
	}
}

// stalledConn returns a connection whose peer never reads.
func stalledConn(t *testing.T, opts Options) *Connection {
	t.Helper()
	opts = opts.withDefaults()
	local, peer := net.Pipe()
	t.Cleanup(func() {
		_ = peer.Close()
	})
	conn := newConnection(newTCPFrames(local, opts), opts)
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func TestSendDoesNotBlockWhenPeerStopsReading(t *testing.T) {
	conn := stalledConn(t, Options{SendQueueSize: 4, FrameWriteTimeout: time.Minute})

	done := make(chan error, 1)
	go func() {
		for i := 0; i < 100; i++ {
			if err := conn.Send([]byte(`{"type":"clients","message":[]}`)); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrSendQueueFull) {
			t.Fatalf("expected ErrSendQueueFull, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Send blocked on a stalled peer")
	}

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected overflow to close the connection")
	}
	if !errors.Is(conn.LastError(), ErrSendQueueFull) {
		t.Fatalf("expected ErrSendQueueFull as close reason, got %v", conn.LastError())
	}
}

func TestWriteTimeoutClosesStalledConnection(t *testing.T) {
	conn := stalledConn(t, Options{FrameWriteTimeout: 50 * time.Millisecond})

	if err := conn.Send([]byte(`{"type":"clients","message":[]}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected write timeout to close the connection")
	}
	if conn.LastError() == nil {
		t.Fatalf("expected a write error after timeout")
	}
}

func TestCloseFlushesQueuedFrames(t *testing.T) {
	left, right := Pipe()
	defer func() {
		_ = right.Close()
	}()

	for _, msg := range []string{"one", "two"} {
		if err := left.Send([]byte(msg)); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}
	if err := left.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, want := range []string{"one", "two"} {
		got, err := right.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive failed: %v", err)
		}
		if string(got) != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
	if _, err := right.Receive(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after flush, got %v", err)
	}
}
