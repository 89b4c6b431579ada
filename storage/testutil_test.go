package storage

import (
	"testing"

	"invsync/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

// mustSeedProfile stores a profile with two inventories and one album.
func mustSeedProfile(t *testing.T, store *Store, name string) *models.Profile {
	t.Helper()

	weapons := models.Inventory{
		Name: "weapons",
		Items: []models.Item{
			{Name: "sword", Description: "sharp", Quantity: 1, Data: map[string]string{"rarity": "rare"}},
			{Name: "bow", Quantity: 2},
		},
	}
	if err := store.PutInventory(&weapons); err != nil {
		t.Fatalf("put inventory: %v", err)
	}
	potions := models.Inventory{
		Name:  "potions",
		Items: []models.Item{{Name: "healing", Quantity: 5}},
	}
	if err := store.PutInventory(&potions); err != nil {
		t.Fatalf("put inventory: %v", err)
	}
	album := models.Album{Name: "favourites", InventoryIDs: []string{weapons.ID}}
	if err := store.PutAlbum(&album); err != nil {
		t.Fatalf("put album: %v", err)
	}

	profile := models.Profile{
		DisplayName:  name,
		InventoryIDs: []string{weapons.ID, potions.ID},
		AlbumIDs:     []string{album.ID},
	}
	if err := store.PutProfile(&profile); err != nil {
		t.Fatalf("put profile: %v", err)
	}
	return &profile
}
