package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"invsync/models"
)

// ImportOptions selects how ImportProfile maps snapshot entities onto the store.
type ImportOptions struct {
	// Override overwrites existing entities in place and keeps their IDs
	// ("clone"). Without it every entity is created under a fresh ID ("copy").
	Override bool
}

// ExportProfile builds a self-contained snapshot of one profile. Dangling
// inventory or album references are skipped.
func (s *Store) ExportProfile(id string) (models.ProfileSnapshot, error) {
	profile, err := getProfile(s.db, id)
	if err != nil {
		return models.ProfileSnapshot{}, err
	}

	snapshot := models.ProfileSnapshot{
		Profile:     *profile,
		Inventories: make([]models.Inventory, 0, len(profile.InventoryIDs)),
		Albums:      make([]models.Album, 0, len(profile.AlbumIDs)),
	}
	for _, inventoryID := range profile.InventoryIDs {
		inv, err := getInventory(s.db, inventoryID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return models.ProfileSnapshot{}, err
		}
		snapshot.Inventories = append(snapshot.Inventories, *inv)
	}
	for _, albumID := range profile.AlbumIDs {
		album, err := getAlbum(s.db, albumID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return models.ProfileSnapshot{}, err
		}
		snapshot.Albums = append(snapshot.Albums, *album)
	}

	return snapshot, nil
}

// ImportProfile writes a snapshot into the store and returns the resulting
// profile ID. Reference lists are filtered down to entities that resolved
// after the import and are remapped when IDs were regenerated.
func (s *Store) ImportProfile(snapshot models.ProfileSnapshot, options ImportOptions) (string, error) {
	if snapshot.Profile.DisplayName == "" {
		return "", errors.New("snapshot profile display_name is required")
	}
	if options.Override && snapshot.Profile.ID == "" {
		return "", errors.New("snapshot profile id is required for override import")
	}

	var profileID string
	err := s.withTx(func(tx *sql.Tx, changes *[]Change) error {
		var err error
		if options.Override {
			profileID, err = cloneSnapshot(tx, snapshot, changes)
		} else {
			profileID, err = copySnapshot(tx, snapshot, changes)
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("import profile %q: %w", snapshot.Profile.ID, err)
	}
	return profileID, nil
}

func copySnapshot(tx *sql.Tx, snapshot models.ProfileSnapshot, changes *[]Change) (string, error) {
	inventories := make(map[string]string, len(snapshot.Inventories))
	for _, source := range snapshot.Inventories {
		inv := models.Inventory{
			ID:    newID(),
			Name:  source.Name,
			Items: make([]models.Item, len(source.Items)),
		}
		for i, item := range source.Items {
			item.ID = newID()
			item.Data = copyData(item.Data)
			inv.Items[i] = item
		}
		if _, err := putInventory(tx, &inv); err != nil {
			return "", err
		}
		if source.ID != "" {
			inventories[source.ID] = inv.ID
		}
	}

	albums := make(map[string]string, len(snapshot.Albums))
	for _, source := range snapshot.Albums {
		album := models.Album{
			ID:           newID(),
			Name:         source.Name,
			InventoryIDs: remapIDs(source.InventoryIDs, inventories),
		}
		if _, err := putAlbum(tx, &album); err != nil {
			return "", err
		}
		if source.ID != "" {
			albums[source.ID] = album.ID
		}
	}

	profile := models.Profile{
		ID:           newID(),
		DisplayName:  snapshot.Profile.DisplayName,
		InventoryIDs: remapIDs(snapshot.Profile.InventoryIDs, inventories),
		AlbumIDs:     remapIDs(snapshot.Profile.AlbumIDs, albums),
	}
	if _, err := putProfile(tx, &profile); err != nil {
		return "", err
	}
	*changes = append(*changes, Change{Kind: KindProfile, Op: OpCreated, ID: profile.ID})
	return profile.ID, nil
}

func cloneSnapshot(tx *sql.Tx, snapshot models.ProfileSnapshot, changes *[]Change) (string, error) {
	for _, source := range snapshot.Inventories {
		inv := models.Inventory{
			ID:    source.ID,
			Name:  source.Name,
			Items: append([]models.Item(nil), source.Items...),
		}
		op, err := putInventory(tx, &inv)
		if err != nil {
			return "", err
		}
		*changes = append(*changes, Change{Kind: KindInventory, Op: op, ID: inv.ID})
	}

	for _, source := range snapshot.Albums {
		album := source
		resolved, err := resolvedIDs(tx, "inventories", source.InventoryIDs)
		if err != nil {
			return "", err
		}
		album.InventoryIDs = resolved
		op, err := putAlbum(tx, &album)
		if err != nil {
			return "", err
		}
		*changes = append(*changes, Change{Kind: KindAlbum, Op: op, ID: album.ID})
	}

	profile := snapshot.Profile
	var err error
	if profile.InventoryIDs, err = resolvedIDs(tx, "inventories", snapshot.Profile.InventoryIDs); err != nil {
		return "", err
	}
	if profile.AlbumIDs, err = resolvedIDs(tx, "albums", snapshot.Profile.AlbumIDs); err != nil {
		return "", err
	}
	op, err := putProfile(tx, &profile)
	if err != nil {
		return "", err
	}
	*changes = append(*changes, Change{Kind: KindProfile, Op: op, ID: profile.ID})
	return profile.ID, nil
}

func remapIDs(ids []string, translate map[string]string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if mapped, ok := translate[id]; ok {
			out = append(out, mapped)
		}
	}
	return out
}

func resolvedIDs(q queryer, table string, ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		found, err := exists(q, table, id)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, id)
		}
	}
	return out, nil
}

func copyData(data map[string]string) map[string]string {
	if data == nil {
		return nil
	}
	out := make(map[string]string, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
