package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"invsync/models"
)

// PutInventory inserts or replaces an inventory together with its items.
// Items missing from inv.Items are removed; items without an ID get one.
func (s *Store) PutInventory(inv *models.Inventory) error {
	if inv == nil {
		return errors.New("inventory is required")
	}
	return s.withTx(func(tx *sql.Tx, changes *[]Change) error {
		op, err := putInventory(tx, inv)
		if err != nil {
			return err
		}
		*changes = append(*changes, Change{Kind: KindInventory, Op: op, ID: inv.ID})
		return nil
	})
}

// GetInventory fetches an inventory and its items in order.
func (s *Store) GetInventory(id string) (*models.Inventory, error) {
	return getInventory(s.db, id)
}

// DeleteInventory removes an inventory and, by cascade, its items.
func (s *Store) DeleteInventory(id string) error {
	return s.withTx(func(tx *sql.Tx, changes *[]Change) error {
		result, err := tx.Exec(`DELETE FROM inventories WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete inventory %q: %w", id, err)
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return ErrNotFound
		}
		*changes = append(*changes, Change{Kind: KindInventory, Op: OpDeleted, ID: id})
		return nil
	})
}

// PutItem inserts or updates one item. New items are appended to the inventory.
func (s *Store) PutItem(inventoryID string, item *models.Item) error {
	if item == nil {
		return errors.New("item is required")
	}
	if item.Name == "" {
		return errors.New("item name is required")
	}
	return s.withTx(func(tx *sql.Tx, changes *[]Change) error {
		found, err := exists(tx, "inventories", inventoryID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("inventory %q: %w", inventoryID, ErrNotFound)
		}

		op := OpUpdated
		position := -1
		if item.ID == "" {
			item.ID = newID()
			op = OpCreated
		} else {
			err := tx.QueryRow(`SELECT position FROM items WHERE id = ? AND inventory_id = ?`, item.ID, inventoryID).Scan(&position)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("read item position %q: %w", item.ID, err)
			}
			if errors.Is(err, sql.ErrNoRows) {
				op = OpCreated
				position = -1
			}
		}
		if position < 0 {
			if err := tx.QueryRow(`SELECT COALESCE(MAX(position) + 1, 0) FROM items WHERE inventory_id = ?`, inventoryID).Scan(&position); err != nil {
				return fmt.Errorf("next item position: %w", err)
			}
		}

		if err := putItem(tx, inventoryID, position, item); err != nil {
			return err
		}
		*changes = append(*changes, Change{Kind: KindItem, Op: op, ID: item.ID})
		return nil
	})
}

// GetItem fetches one item and the ID of the inventory holding it.
func (s *Store) GetItem(id string) (*models.Item, string, error) {
	row := s.db.QueryRow(
		`SELECT id, inventory_id, name, description, quantity, data
		FROM items
		WHERE id = ?`,
		id,
	)
	item, inventoryID, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("get item %q: %w", id, err)
	}
	return item, inventoryID, nil
}

// DeleteItem removes one item.
func (s *Store) DeleteItem(id string) error {
	return s.withTx(func(tx *sql.Tx, changes *[]Change) error {
		result, err := tx.Exec(`DELETE FROM items WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete item %q: %w", id, err)
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return ErrNotFound
		}
		*changes = append(*changes, Change{Kind: KindItem, Op: OpDeleted, ID: id})
		return nil
	})
}

// PutAlbum inserts or replaces an album row.
func (s *Store) PutAlbum(album *models.Album) error {
	if album == nil {
		return errors.New("album is required")
	}
	return s.withTx(func(tx *sql.Tx, changes *[]Change) error {
		op, err := putAlbum(tx, album)
		if err != nil {
			return err
		}
		*changes = append(*changes, Change{Kind: KindAlbum, Op: op, ID: album.ID})
		return nil
	})
}

// GetAlbum fetches an album by ID.
func (s *Store) GetAlbum(id string) (*models.Album, error) {
	return getAlbum(s.db, id)
}

func putInventory(q queryer, inv *models.Inventory) (ChangeOp, error) {
	op := OpUpdated
	if inv.ID == "" {
		inv.ID = newID()
		op = OpCreated
	} else {
		found, err := exists(q, "inventories", inv.ID)
		if err != nil {
			return "", err
		}
		if !found {
			op = OpCreated
		}
	}

	_, err := q.Exec(
		`INSERT INTO inventories (id, name, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			updated_at = excluded.updated_at`,
		inv.ID,
		inv.Name,
		nowUnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("upsert inventory %q: %w", inv.ID, err)
	}

	if _, err := q.Exec(`DELETE FROM items WHERE inventory_id = ?`, inv.ID); err != nil {
		return "", fmt.Errorf("clear inventory %q items: %w", inv.ID, err)
	}
	for i := range inv.Items {
		if inv.Items[i].ID == "" {
			inv.Items[i].ID = newID()
		}
		if err := putItem(q, inv.ID, i, &inv.Items[i]); err != nil {
			return "", err
		}
	}
	return op, nil
}

func putItem(q queryer, inventoryID string, position int, item *models.Item) error {
	data := "{}"
	if len(item.Data) > 0 {
		raw, err := json.Marshal(item.Data)
		if err != nil {
			return fmt.Errorf("encode item %q data: %w", item.ID, err)
		}
		data = string(raw)
	}

	_, err := q.Exec(
		`INSERT INTO items (id, inventory_id, position, name, description, quantity, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			inventory_id = excluded.inventory_id,
			position = excluded.position,
			name = excluded.name,
			description = excluded.description,
			quantity = excluded.quantity,
			data = excluded.data`,
		item.ID,
		inventoryID,
		position,
		item.Name,
		item.Description,
		item.Quantity,
		data,
	)
	if err != nil {
		return fmt.Errorf("upsert item %q: %w", item.ID, err)
	}
	return nil
}

func getInventory(q queryer, id string) (*models.Inventory, error) {
	inv := models.Inventory{ID: id}
	err := q.QueryRow(`SELECT name FROM inventories WHERE id = ?`, id).Scan(&inv.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get inventory %q: %w", id, err)
	}

	rows, err := q.Query(
		`SELECT id, inventory_id, name, description, quantity, data
		FROM items
		WHERE inventory_id = ?
		ORDER BY position, id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("list inventory %q items: %w", id, err)
	}
	defer rows.Close()

	inv.Items = make([]models.Item, 0)
	for rows.Next() {
		item, _, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item row: %w", err)
		}
		inv.Items = append(inv.Items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inventory %q items: %w", id, err)
	}
	return &inv, nil
}

func scanItem(scanner rowScanner) (*models.Item, string, error) {
	var (
		item        models.Item
		inventoryID string
		data        string
	)
	if err := scanner.Scan(&item.ID, &inventoryID, &item.Name, &item.Description, &item.Quantity, &data); err != nil {
		return nil, "", err
	}
	if data != "" && data != "{}" {
		if err := json.Unmarshal([]byte(data), &item.Data); err != nil {
			return nil, "", fmt.Errorf("decode item %q data: %w", item.ID, err)
		}
	}
	return &item, inventoryID, nil
}

func putAlbum(q queryer, album *models.Album) (ChangeOp, error) {
	op := OpUpdated
	if album.ID == "" {
		album.ID = newID()
		op = OpCreated
	} else {
		found, err := exists(q, "albums", album.ID)
		if err != nil {
			return "", err
		}
		if !found {
			op = OpCreated
		}
	}

	inventoryIDs, err := encodeIDs(album.InventoryIDs)
	if err != nil {
		return "", err
	}
	_, err = q.Exec(
		`INSERT INTO albums (id, name, inventory_ids)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			inventory_ids = excluded.inventory_ids`,
		album.ID,
		album.Name,
		inventoryIDs,
	)
	if err != nil {
		return "", fmt.Errorf("upsert album %q: %w", album.ID, err)
	}
	return op, nil
}

func getAlbum(q queryer, id string) (*models.Album, error) {
	var (
		album        models.Album
		inventoryIDs string
	)
	err := q.QueryRow(`SELECT id, name, inventory_ids FROM albums WHERE id = ?`, id).Scan(&album.ID, &album.Name, &inventoryIDs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get album %q: %w", id, err)
	}
	if album.InventoryIDs, err = decodeIDs(inventoryIDs); err != nil {
		return nil, err
	}
	return &album, nil
}
