package activities

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"invsync/models"
	"invsync/node"
	"invsync/node/nodetest"
	"invsync/storage"
)

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *storage.Store {
	t.Helper()
	store, _, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func seedProfile(t *testing.T, store *storage.Store, name string) string {
	t.Helper()
	inv := models.Inventory{Name: "backpack", Items: []models.Item{{Name: "rope", Quantity: 1}}}
	require.NoError(t, store.PutInventory(&inv))
	profile := models.Profile{DisplayName: name, InventoryIDs: []string{inv.ID}}
	require.NoError(t, store.PutProfile(&profile))
	return profile.ID
}

type harness struct {
	node  *node.Node
	clock clockwork.FakeClock
	ui    *nodetest.UI
	store *storage.Store
}

func newHostHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock: clockwork.NewFakeClockAt(epoch),
		ui:    nodetest.NewUI(),
		store: newStore(t),
	}
	n, err := NewHost(node.Options{
		Store:  h.store,
		UI:     h.ui,
		Logger: zaptest.NewLogger(t),
		Clock:  h.clock,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = n.Destroy()
	})
	h.node = n
	return h
}

func newGuestHarness(t *testing.T, names ...string) *harness {
	t.Helper()
	h := &harness{
		clock: clockwork.NewFakeClockAt(epoch),
		ui:    nodetest.NewUI(names...),
		store: newStore(t),
	}
	n, err := NewGuest(node.Options{
		Store:  h.store,
		UI:     h.ui,
		Logger: zaptest.NewLogger(t),
		Clock:  h.clock,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = n.Destroy()
	})
	h.node = n
	return h
}

// join attaches a recording connection to a host and completes the handshake.
func (h *harness) join(t *testing.T, name string) (*node.Remote, *nodetest.Conn) {
	t.Helper()
	conn := nodetest.NewConn(name)
	remote, err := h.node.Attach(conn)
	require.NoError(t, err)
	h.send(t, remote, TypeName, name)
	require.Equal(t, NormalizeName(name), remote.Name())
	return remote, conn
}

func (h *harness) send(t *testing.T, r *node.Remote, msgType string, message any) {
	t.Helper()
	payload, err := json.Marshal(message)
	require.NoError(t, err)
	h.node.Dispatch(r, msgType, payload)
}

func (h *harness) do(t *testing.T, fn func(n *node.Node)) {
	t.Helper()
	require.NoError(t, h.node.Do(func(n *node.Node) error {
		fn(n)
		return nil
	}))
}

func lastSnapshot(t *testing.T, conn *nodetest.Conn, msgType string) models.ProfileSnapshot {
	t.Helper()
	var snapshot models.ProfileSnapshot
	require.True(t, conn.Decode(msgType, &snapshot), "expected a %s message", msgType)
	return snapshot
}

// attachGuest connects a guest to a recording host connection and waits
// for the name prompt to finish.
func attachGuest(t *testing.T, g *harness) *nodetest.Conn {
	t.Helper()
	conn := nodetest.NewConn("host")
	_, err := g.node.Attach(conn)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, named := conn.Last(TypeName)
		return named || conn.Closed()
	}, 3*time.Second, 5*time.Millisecond)
	return conn
}

func hostOf(t *testing.T, g *harness) *node.Remote {
	t.Helper()
	var host *node.Remote
	g.do(t, func(n *node.Node) {
		require.Len(t, n.Remotes(), 1)
		host = n.Remotes()[0]
	})
	return host
}

func connected(t *testing.T, h *harness) int {
	t.Helper()
	var count int
	h.do(t, func(n *node.Node) {
		count = len(n.Remotes())
	})
	return count
}

func snapshotItem(name string) models.Item {
	return models.Item{Name: name, Quantity: 1}
}
