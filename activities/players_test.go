package activities

import (
	"testing"

	"github.com/stretchr/testify/require"

	"invsync/node"
	"invsync/node/nodetest"
)

func TestHostSendsRosterOnTick(t *testing.T) {
	h := newHostHarness(t)
	_, alice := h.join(t, "alice")
	_, bob := h.join(t, "bob")
	_, err := h.node.Attach(nodetest.NewConn("anonymous"))
	require.NoError(t, err)

	h.node.Tick(epoch)

	for _, conn := range []*nodetest.Conn{alice, bob} {
		var names []string
		require.True(t, conn.Decode(TypeClients, &names))
		require.Equal(t, []string{"alice", "bob"}, names)
	}

	players, err := Players(h.node)
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, players)
}

func TestGuestCachesRoster(t *testing.T) {
	g := newGuestHarness(t, "carol")
	attachGuest(t, g)

	players, err := Players(g.node)
	require.NoError(t, err)
	require.Empty(t, players)

	g.send(t, hostOf(t, g), TypeClients, []string{"alice", "carol"})

	players, err = Players(g.node)
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "carol"}, players)
}

func TestHostRejectsSyncBeforeHandshake(t *testing.T) {
	h := newHostHarness(t)
	conn := nodetest.NewConn("c1")
	remote, err := h.node.Attach(conn)
	require.NoError(t, err)

	h.send(t, remote, TypeSync, newPlayerSnapshot("ghost"))

	require.Empty(t, h.node.ExportLocalData())
	_, ok := remote.LastHeartbeat()
	require.False(t, ok)
	var notice string
	require.True(t, conn.Decode(TypeError, &notice))
	require.Equal(t, "send your name before syncing", notice)
}

func TestGuestAppliesResetAndSyncsOnTick(t *testing.T) {
	g := newGuestHarness(t, "dave")
	conn := attachGuest(t, g)
	host := hostOf(t, g)

	g.node.Tick(epoch)
	_, synced := conn.Last(TypeSync)
	require.False(t, synced, "no sync before the first reset")

	player := newPlayerSnapshot("dave")
	g.send(t, host, TypeReset, player)

	g.do(t, func(n *node.Node) {
		id, ok := PlayerProfileID(n)
		require.True(t, ok)
		require.Equal(t, player.Profile.ID, id)
	})
	inv, err := g.store.GetInventory(player.Inventories[0].ID)
	require.NoError(t, err)
	require.Equal(t, GroundInventoryName, inv.Name)

	g.node.Tick(epoch)
	snapshot := lastSnapshot(t, conn, TypeSync)
	require.Equal(t, player.Profile.ID, snapshot.Profile.ID)
	require.Equal(t, player.Profile.InventoryIDs, snapshot.Profile.InventoryIDs)
}
