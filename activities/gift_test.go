package activities

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"invsync/models"
	"invsync/node"
	"invsync/node/nodetest"
)

// brokenConn accepts no outbound frames.
type brokenConn struct {
	*nodetest.Conn
}

func (c brokenConn) Send([]byte) error {
	return errors.New("broken pipe")
}

func TestHostRelaysGiftAndAck(t *testing.T) {
	h := newHostHarness(t)
	alice, aliceConn := h.join(t, "alice")
	bob, bobConn := h.join(t, "bob")
	aliceConn.Reset()
	bobConn.Reset()

	gift := models.GiftMessage{From: "alice", Target: "bob", Item: models.Item{ID: "i-1", Name: "sword", Quantity: 1}}
	h.send(t, alice, TypeGift, gift)

	require.Empty(t, aliceConn.Types())
	envelope, ok := bobConn.Last(TypeGift)
	require.True(t, ok)
	raw, err := json.Marshal(gift)
	require.NoError(t, err)
	require.JSONEq(t, string(raw), string(envelope.Message))

	h.send(t, bob, TypeGiftAck, models.GiftAck{From: "alice", Target: "bob"})

	var ack models.GiftAck
	require.True(t, aliceConn.Decode(TypeGiftAck, &ack))
	require.Equal(t, models.GiftAck{From: "alice", Target: "bob"}, ack)
	require.Empty(t, h.ui.Delivered())
}

func TestHostNaksGiftToAbsentPlayer(t *testing.T) {
	h := newHostHarness(t)
	alice, aliceConn := h.join(t, "alice")
	_, bobConn := h.join(t, "bob")
	aliceConn.Reset()
	bobConn.Reset()

	h.send(t, alice, TypeGift, models.GiftMessage{From: "alice", Target: "zed", Item: models.Item{Name: "sword"}})

	require.Equal(t, []string{TypeGiftNak}, aliceConn.Types())
	require.Empty(t, bobConn.Types())
	var nak models.GiftAck
	require.True(t, aliceConn.Decode(TypeGiftNak, &nak))
	require.Equal(t, "zed", nak.Target)
}

func TestHostInitiatedGift(t *testing.T) {
	h := newHostHarness(t)
	bob, bobConn := h.join(t, "bob")

	require.ErrorIs(t, SendGiftFromHost(h.node, "nobody", models.Item{Name: "coin"}), ErrUnknownPlayer)
	require.NoError(t, SendGiftFromHost(h.node, "Bob", models.Item{Name: "coin", Quantity: 3}))

	var gift models.GiftMessage
	require.True(t, bobConn.Decode(TypeGift, &gift))
	require.Empty(t, gift.From)
	require.Equal(t, "bob", gift.Target)

	h.send(t, bob, TypeGiftAck, models.GiftAck{Target: "bob"})
	require.Equal(t, []string{"bob"}, h.ui.Delivered())

	h.send(t, bob, TypeGiftNak, models.GiftAck{Target: "bob"})
	require.Equal(t, []string{"bob"}, h.ui.Failed())
}

func TestHostDropsAckForDepartedSender(t *testing.T) {
	h := newHostHarness(t)
	alice, _ := h.join(t, "alice")
	bob, bobConn := h.join(t, "bob")
	require.NoError(t, h.node.Disconnect(alice))
	bobConn.Reset()

	h.send(t, bob, TypeGiftAck, models.GiftAck{From: "alice", Target: "bob"})
	require.Empty(t, bobConn.Types())
}

func TestGuestReceivesGiftIntoGround(t *testing.T) {
	g := newGuestHarness(t, "bob")
	conn := attachGuest(t, g)
	host := hostOf(t, g)
	player := newPlayerSnapshot("bob")
	g.send(t, host, TypeReset, player)
	conn.Reset()

	g.send(t, host, TypeGift, models.GiftMessage{
		From:   "alice",
		Target: "bob",
		Item:   models.Item{ID: "remote-id", Name: "sword", Quantity: 1, Data: map[string]string{"rarity": "rare"}},
	})

	var ack models.GiftAck
	require.True(t, conn.Decode(TypeGiftAck, &ack))
	require.Equal(t, models.GiftAck{From: "alice", Target: "bob"}, ack)

	ground, err := g.store.GetInventory(player.Inventories[0].ID)
	require.NoError(t, err)
	require.Len(t, ground.Items, 1)
	require.Equal(t, "sword", ground.Items[0].Name)
	require.NotEqual(t, "remote-id", ground.Items[0].ID)
	require.Equal(t, "rare", ground.Items[0].Data["rarity"])

	require.Equal(t, []string{"alice"}, g.ui.Senders())
	require.Len(t, g.ui.Received(), 1)
}

func TestGuestNaksGiftWithoutPlayerData(t *testing.T) {
	g := newGuestHarness(t, "bob")
	conn := attachGuest(t, g)

	g.send(t, hostOf(t, g), TypeGift, models.GiftMessage{From: "alice", Target: "bob", Item: models.Item{Name: "sword"}})

	_, ok := conn.Last(TypeGiftNak)
	require.True(t, ok)
	require.Empty(t, g.ui.Received())
}

func TestGuestSurfacesGiftOutcome(t *testing.T) {
	g := newGuestHarness(t, "alice")
	conn := attachGuest(t, g)
	host := hostOf(t, g)

	require.NoError(t, SendGift(g.node, "Bob", models.Item{Name: "sword"}))
	var gift models.GiftMessage
	require.True(t, conn.Decode(TypeGift, &gift))
	require.Equal(t, "alice", gift.From)
	require.Equal(t, "bob", gift.Target)

	g.send(t, host, TypeGiftAck, models.GiftAck{From: "alice", Target: "bob"})
	g.send(t, host, TypeGiftNak, models.GiftAck{From: "alice", Target: "zed"})

	require.Equal(t, []string{"bob"}, g.ui.Delivered())
	require.Equal(t, []string{"zed"}, g.ui.Failed())
}

func TestSendGiftRequiresConnection(t *testing.T) {
	g := newGuestHarness(t, "alice")
	err := SendGift(g.node, "bob", models.Item{Name: "sword"})
	require.ErrorIs(t, err, ErrNotConnected)

	g.do(t, func(n *node.Node) {
		_, ok := Self(n)
		require.False(t, ok)
	})
}

func TestHostNaksGiftWhenRelayFails(t *testing.T) {
	h := newHostHarness(t)
	alice, aliceConn := h.join(t, "alice")
	bob, err := h.node.Attach(brokenConn{Conn: nodetest.NewConn("bob")})
	require.NoError(t, err)
	h.send(t, bob, TypeName, "bob")
	require.Equal(t, "bob", bob.Name())
	aliceConn.Reset()

	h.send(t, alice, TypeGift, models.GiftMessage{From: "alice", Target: "bob", Item: models.Item{Name: "sword"}})

	require.Equal(t, []string{TypeGiftNak}, aliceConn.Types())
	require.False(t, aliceConn.Closed())
}

func TestHostNamesMalformedGift(t *testing.T) {
	h := newHostHarness(t)
	alice, aliceConn := h.join(t, "alice")
	aliceConn.Reset()

	h.send(t, alice, TypeGift, "not a gift")

	require.Equal(t, []string{TypeError}, aliceConn.Types())
	var notice string
	require.True(t, aliceConn.Decode(TypeError, &notice))
	require.Equal(t, "malformed gift message", notice)
}
