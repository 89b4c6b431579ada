package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"invsync/models"
)

// PutProfile inserts or replaces a profile row. An empty ID is assigned.
func (s *Store) PutProfile(profile *models.Profile) error {
	if profile == nil {
		return errors.New("profile is required")
	}
	if profile.DisplayName == "" {
		return errors.New("display_name is required")
	}
	return s.withTx(func(tx *sql.Tx, changes *[]Change) error {
		op, err := putProfile(tx, profile)
		if err != nil {
			return err
		}
		*changes = append(*changes, Change{Kind: KindProfile, Op: op, ID: profile.ID})
		return nil
	})
}

// GetProfile fetches a profile by ID.
func (s *Store) GetProfile(id string) (*models.Profile, error) {
	return getProfile(s.db, id)
}

// ListProfiles returns all profiles sorted by display name.
func (s *Store) ListProfiles() ([]models.Profile, error) {
	rows, err := s.db.Query(
		`SELECT id, display_name, inventory_ids, album_ids
		FROM profiles
		ORDER BY display_name, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	profiles := make([]models.Profile, 0)
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile row: %w", err)
		}
		profiles = append(profiles, *profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}

	return profiles, nil
}

// DeleteProfile removes a profile row. Inventories and albums are left in place.
func (s *Store) DeleteProfile(id string) error {
	return s.withTx(func(tx *sql.Tx, changes *[]Change) error {
		result, err := tx.Exec(`DELETE FROM profiles WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete profile %q: %w", id, err)
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return ErrNotFound
		}
		*changes = append(*changes, Change{Kind: KindProfile, Op: OpDeleted, ID: id})
		return nil
	})
}

func putProfile(q queryer, profile *models.Profile) (ChangeOp, error) {
	op := OpUpdated
	if profile.ID == "" {
		profile.ID = newID()
		op = OpCreated
	} else {
		found, err := exists(q, "profiles", profile.ID)
		if err != nil {
			return "", err
		}
		if !found {
			op = OpCreated
		}
	}

	inventoryIDs, err := encodeIDs(profile.InventoryIDs)
	if err != nil {
		return "", err
	}
	albumIDs, err := encodeIDs(profile.AlbumIDs)
	if err != nil {
		return "", err
	}

	_, err = q.Exec(
		`INSERT INTO profiles (id, display_name, inventory_ids, album_ids, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			inventory_ids = excluded.inventory_ids,
			album_ids = excluded.album_ids,
			updated_at = excluded.updated_at`,
		profile.ID,
		profile.DisplayName,
		inventoryIDs,
		albumIDs,
		nowUnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("upsert profile %q: %w", profile.ID, err)
	}
	return op, nil
}

func getProfile(q queryer, id string) (*models.Profile, error) {
	row := q.QueryRow(
		`SELECT id, display_name, inventory_ids, album_ids
		FROM profiles
		WHERE id = ?`,
		id,
	)

	profile, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get profile %q: %w", id, err)
	}
	return profile, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(scanner rowScanner) (*models.Profile, error) {
	var (
		profile      models.Profile
		inventoryIDs string
		albumIDs     string
	)
	if err := scanner.Scan(&profile.ID, &profile.DisplayName, &inventoryIDs, &albumIDs); err != nil {
		return nil, err
	}

	var err error
	if profile.InventoryIDs, err = decodeIDs(inventoryIDs); err != nil {
		return nil, err
	}
	if profile.AlbumIDs, err = decodeIDs(albumIDs); err != nil {
		return nil, err
	}
	return &profile, nil
}
