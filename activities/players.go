package activities

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"invsync/models"
	"invsync/node"
	"invsync/storage"
)

var (
	// clients caches the roster the host last sent.
	clients = node.NewRemoteSlot[[]string]("playerList.clients")
	// playerProfile is the store id of the guest's own player profile.
	playerProfile = node.NewNodeSlot[string]("playerInventory.profile")
)

func hostPlayerList() node.Activity {
	return node.Activity{
		Name: "playerList",
		Nanny: func(n *node.Node, r *node.Remote, _ time.Time) error {
			return r.Send(TypeClients, identified(n))
		},
	}
}

func guestPlayerList() node.Activity {
	return node.Activity{
		Name: "playerList",
		Message: func(n *node.Node, r *node.Remote, msgType string, payload json.RawMessage) (bool, error) {
			if msgType != TypeClients {
				return false, nil
			}
			var names []string
			if err := decode(payload, &names); err != nil {
				return malformed(n, r, msgType, err)
			}
			clients.Set(r, names)
			return true, nil
		},
	}
}

func identified(n *node.Node) []string {
	names := make([]string, 0)
	for _, remote := range n.Remotes() {
		if remote.Name() != "" {
			names = append(names, remote.Name())
		}
	}
	return names
}

// Players returns the names of identified players. On a guest this is the
// roster last received from the host.
func Players(n *node.Node) ([]string, error) {
	var names []string
	err := n.Do(func(n *node.Node) error {
		if n.Role() == node.RoleHost {
			names = identified(n)
			return nil
		}
		host, err := hostRemote(n)
		if err != nil {
			return err
		}
		cached, _ := clients.Get(host)
		names = append([]string(nil), cached...)
		return nil
	})
	return names, err
}

func hostPlayerInventory() node.Activity {
	return node.Activity{
		Name: "playerInventory",
		Message: func(n *node.Node, r *node.Remote, msgType string, payload json.RawMessage) (bool, error) {
			if msgType != TypeSync {
				return false, nil
			}
			if r.Name() == "" {
				r.Logger().Warn("sync before handshake")
				return settle(r, msgType, r.Send(TypeError, "send your name before syncing"))
			}
			var snapshot models.ProfileSnapshot
			if err := decode(payload, &snapshot); err != nil {
				return malformed(n, r, msgType, err)
			}
			n.SetPlayerData(r.Name(), payload)
			r.Heartbeat(n.Now())
			return true, nil
		},
	}
}

func guestPlayerInventory() node.Activity {
	return node.Activity{
		Name: "playerInventory",
		Message: func(n *node.Node, r *node.Remote, msgType string, payload json.RawMessage) (bool, error) {
			if msgType != TypeReset {
				return false, nil
			}
			var snapshot models.ProfileSnapshot
			if err := decode(payload, &snapshot); err != nil {
				return malformed(n, r, msgType, err)
			}
			if n.Store() == nil {
				return settle(r, msgType, ErrNoStore)
			}
			id, err := n.Store().ImportProfile(snapshot, storage.ImportOptions{Override: true})
			if err != nil {
				return settle(r, msgType, err)
			}
			playerProfile.Set(n, id)
			return true, nil
		},
		Nanny: func(n *node.Node, r *node.Remote, _ time.Time) error {
			id, ok := playerProfile.Get(n)
			if !ok {
				return nil
			}
			snapshot, err := n.Store().ExportProfile(id)
			if err != nil {
				return err
			}
			return r.Send(TypeSync, snapshot)
		},
	}
}

// pushPlayerReset sends a guest its durable player data, creating a fresh
// player with an empty ground inventory on first contact.
func pushPlayerReset(n *node.Node, r *node.Remote) error {
	data, ok := n.PlayerData(r.Name())
	if !ok {
		fresh, err := json.Marshal(newPlayerSnapshot(r.Name()))
		if err != nil {
			return err
		}
		n.SetPlayerData(r.Name(), fresh)
		data = fresh
	}
	return r.Send(TypeReset, data)
}

func newPlayerSnapshot(name string) models.ProfileSnapshot {
	ground := models.Inventory{
		ID:    uuid.NewString(),
		Name:  GroundInventoryName,
		Items: []models.Item{},
	}
	return models.ProfileSnapshot{
		Profile: models.Profile{
			ID:           uuid.NewString(),
			DisplayName:  name,
			InventoryIDs: []string{ground.ID},
			AlbumIDs:     []string{},
		},
		Inventories: []models.Inventory{ground},
		Albums:      []models.Album{},
	}
}

// PlayerProfileID returns the store id of the guest's player profile.
// It must run on the node loop.
func PlayerProfileID(n *node.Node) (string, bool) {
	return playerProfile.Get(n)
}

// groundInventory finds the inventory gifts are delivered to.
func groundInventory(store *storage.Store, profileID string) (string, error) {
	profile, err := store.GetProfile(profileID)
	if err != nil {
		return "", err
	}
	var fallback string
	for _, id := range profile.InventoryIDs {
		inv, err := store.GetInventory(id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		if inv.Name == GroundInventoryName {
			return inv.ID, nil
		}
		if fallback == "" {
			fallback = inv.ID
		}
	}
	if fallback == "" {
		return "", fmt.Errorf("player %q has no inventory: %w", profileID, storage.ErrNotFound)
	}
	return fallback, nil
}
