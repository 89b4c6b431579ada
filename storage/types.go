package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

// ChangeKind names the entity type touched by a Change.
type ChangeKind string

const (
	KindProfile   ChangeKind = "profile"
	KindInventory ChangeKind = "inventory"
	KindItem      ChangeKind = "item"
	KindAlbum     ChangeKind = "album"
)

// ChangeOp describes what happened to the entity.
type ChangeOp string

const (
	OpCreated ChangeOp = "created"
	OpUpdated ChangeOp = "updated"
	OpDeleted ChangeOp = "deleted"
)

// Change is delivered to subscribers after a committed write.
type Change struct {
	Kind ChangeKind
	Op   ChangeOp
	ID   string
}

// Subscribe registers fn for change notifications and returns a cancel func.
// Callbacks run synchronously on the writing goroutine.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subscribers, id)
		s.subMu.Unlock()
	}
}

func (s *Store) publish(changes []Change) {
	if len(changes) == 0 {
		return
	}
	s.subMu.RLock()
	subs := make([]func(Change), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.subMu.RUnlock()

	for _, change := range changes {
		for _, fn := range subs {
			fn(change)
		}
	}
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

func newID() string {
	return uuid.NewString()
}

func encodeIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("encode id list: %w", err)
	}
	return string(raw), nil
}

func decodeIDs(raw string) ([]string, error) {
	ids := make([]string, 0)
	if raw == "" {
		return ids, nil
	}
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("decode id list: %w", err)
	}
	return ids, nil
}

func exists(q queryer, table, id string) (bool, error) {
	var count int
	if err := q.QueryRow("SELECT COUNT(1) FROM "+table+" WHERE id = ?", id).Scan(&count); err != nil {
		return false, fmt.Errorf("check %s %q: %w", table, id, err)
	}
	return count > 0, nil
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
