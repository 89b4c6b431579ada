package storage

import (
	"errors"
	"fmt"
)

// SavePlayerData persists the host's durable copy of one player's data.
func (s *Store) SavePlayerData(name string, snapshot []byte) error {
	if name == "" {
		return errors.New("player name is required")
	}
	_, err := s.db.Exec(
		`INSERT INTO player_data (name, snapshot, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at`,
		name,
		string(snapshot),
		nowUnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save player data %q: %w", name, err)
	}
	return nil
}

// SaveAllPlayerData persists every entry of data in one transaction.
func (s *Store) SaveAllPlayerData(data map[string][]byte) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin player data transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := nowUnixMilli()
	for name, snapshot := range data {
		if _, err := tx.Exec(
			`INSERT INTO player_data (name, snapshot, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				snapshot = excluded.snapshot,
				updated_at = excluded.updated_at`,
			name,
			string(snapshot),
			now,
		); err != nil {
			return fmt.Errorf("save player data %q: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit player data: %w", err)
	}
	return nil
}

// LoadPlayerData returns all persisted player snapshots keyed by player name.
func (s *Store) LoadPlayerData() (map[string][]byte, error) {
	rows, err := s.db.Query(`SELECT name, snapshot FROM player_data ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("load player data: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var name, snapshot string
		if err := rows.Scan(&name, &snapshot); err != nil {
			return nil, fmt.Errorf("scan player data row: %w", err)
		}
		out[name] = []byte(snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate player data: %w", err)
	}
	return out, nil
}
