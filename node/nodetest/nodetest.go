// Package nodetest provides in-memory collaborators for node and activity tests.
package nodetest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"invsync/models"
	"invsync/network"
)

// Conn is a network.Conn that records every outbound envelope instead of
// writing it anywhere. Inbound traffic is injected through the node.
type Conn struct {
	id string

	mu   sync.Mutex
	sent []network.Envelope

	closeOnce sync.Once
	closed    chan struct{}
}

var _ network.Conn = (*Conn)(nil)

// NewConn creates a recording connection.
func NewConn(id string) *Conn {
	return &Conn{id: id, closed: make(chan struct{})}
}

func (c *Conn) ID() string         { return c.id }
func (c *Conn) RemoteAddr() string { return "mem:" + c.id }

func (c *Conn) Send(payload []byte) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	envelope, err := network.DecodeEnvelope(payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.sent = append(c.sent, envelope)
	c.mu.Unlock()
	return nil
}

func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Sent returns a copy of the recorded envelopes.
func (c *Conn) Sent() []network.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]network.Envelope(nil), c.sent...)
}

// Types returns the recorded message types in send order.
func (c *Conn) Types() []string {
	sent := c.Sent()
	out := make([]string, 0, len(sent))
	for _, envelope := range sent {
		out = append(out, envelope.Type)
	}
	return out
}

// Last returns the most recent envelope of msgType.
func (c *Conn) Last(msgType string) (network.Envelope, bool) {
	sent := c.Sent()
	for i := len(sent) - 1; i >= 0; i-- {
		if sent[i].Type == msgType {
			return sent[i], true
		}
	}
	return network.Envelope{}, false
}

// Decode unmarshals the most recent envelope of msgType into out.
func (c *Conn) Decode(msgType string, out any) bool {
	envelope, ok := c.Last(msgType)
	if !ok {
		return false
	}
	return json.Unmarshal(envelope.Message, out) == nil
}

// Reset forgets the recorded envelopes.
func (c *Conn) Reset() {
	c.mu.Lock()
	c.sent = nil
	c.mu.Unlock()
}

// UI records every call made by activities.
type UI struct {
	mu sync.Mutex

	names     []string
	alerts    []string
	received  []models.Item
	senders   []string
	delivered []string
	failed    []string
	lost      []string
}

// NewUI creates a recording UI whose name prompt answers from names in order.
func NewUI(names ...string) *UI {
	return &UI{names: names}
}

func (u *UI) Alert(message string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.alerts = append(u.alerts, message)
}

func (u *UI) PromptName() (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.names) == 0 {
		return "", errors.New("no more names")
	}
	name := u.names[0]
	u.names = u.names[1:]
	return name, nil
}

func (u *UI) GiftReceived(from string, item models.Item) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.senders = append(u.senders, from)
	u.received = append(u.received, item)
}

func (u *UI) GiftDelivered(target string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.delivered = append(u.delivered, target)
}

func (u *UI) GiftFailed(target string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.failed = append(u.failed, target)
}

func (u *UI) ConnectionLost(reason string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.lost = append(u.lost, reason)
}

func (u *UI) Alerts() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.alerts...)
}

func (u *UI) Received() []models.Item {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]models.Item(nil), u.received...)
}

func (u *UI) Senders() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.senders...)
}

func (u *UI) Delivered() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.delivered...)
}

func (u *UI) Failed() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.failed...)
}

func (u *UI) Lost() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.lost...)
}
