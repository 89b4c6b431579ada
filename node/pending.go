package node

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

type pendingKey struct {
	remote  *Remote
	msgType string
}

type awaitResult struct {
	payload json.RawMessage
	err     error
}

// pendingTable correlates awaited reply types with waiters, oldest first.
type pendingTable struct {
	mu      sync.Mutex
	waiters map[pendingKey][]chan awaitResult
}

func newPendingTable() *pendingTable {
	return &pendingTable{waiters: make(map[pendingKey][]chan awaitResult)}
}

func (p *pendingTable) add(r *Remote, msgType string) (chan awaitResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r.removed.Load() {
		return nil, fmt.Errorf("await %q: %w", msgType, ErrRemoteClosed)
	}
	waiter := make(chan awaitResult, 1)
	key := pendingKey{remote: r, msgType: msgType}
	p.waiters[key] = append(p.waiters[key], waiter)
	return waiter, nil
}

func (p *pendingTable) remove(r *Remote, msgType string, waiter chan awaitResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := pendingKey{remote: r, msgType: msgType}
	list := p.waiters[key]
	for i, current := range list {
		if current == waiter {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(p.waiters, key)
		return
	}
	p.waiters[key] = list
}

// resolve hands payload to the oldest waiter and reports whether one existed.
func (p *pendingTable) resolve(r *Remote, msgType string, payload json.RawMessage) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := pendingKey{remote: r, msgType: msgType}
	list := p.waiters[key]
	if len(list) == 0 {
		return false
	}
	waiter := list[0]
	if len(list) == 1 {
		delete(p.waiters, key)
	} else {
		p.waiters[key] = list[1:]
	}
	waiter <- awaitResult{payload: payload}
	return true
}

// cancel fails every waiter on r.
func (p *pendingTable) cancel(r *Remote, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, list := range p.waiters {
		if key.remote != r {
			continue
		}
		for _, waiter := range list {
			waiter <- awaitResult{err: fmt.Errorf("await %q: %w", key.msgType, err)}
		}
		delete(p.waiters, key)
	}
}

func (n *Node) wait(ctx context.Context, msgType string, waiter chan awaitResult) (json.RawMessage, error) {
	timer := n.clock.NewTimer(n.options.AwaitTimeout)
	defer timer.Stop()

	select {
	case result := <-waiter:
		return result.payload, result.err
	case <-timer.Chan():
		return nil, fmt.Errorf("await %q: %w", msgType, ErrAwaitTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
