// Package roomlog keeps a SQLite history of hosted rooms for the relay.
package roomlog

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/SIgmaboy6796/game2/internal/relay"
)

// Entry is one hosted room as recorded in the history.
type Entry struct {
	RoomCode    string     `json:"roomCode"`
	HostPeerID  string     `json:"peerId"`
	Nametag     string     `json:"nametag"`
	CreatedAt   time.Time  `json:"createdAt"`
	ClosedAt    *time.Time `json:"closedAt,omitempty"`
	CloseReason string     `json:"closeReason,omitempty"`
}

// Store wraps the SQLite database connection.
type Store struct {
	conn *sql.DB
}

// Open opens (or creates) the history database at path.
// Use ":memory:" for a throwaway store.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared across calls.
	conn.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate room history: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL,
		host_peer_id TEXT NOT NULL,
		nametag TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		closed_at INTEGER,
		close_reason TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_rooms_code ON rooms(code);
	CREATE INDEX IF NOT EXISTS idx_rooms_created ON rooms(created_at);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// RoomHosted records a newly allocated room.
func (s *Store) RoomHosted(room relay.Room) error {
	_, err := s.conn.Exec(
		"INSERT INTO rooms (code, host_peer_id, nametag, created_at) VALUES (?, ?, ?, ?)",
		room.Code, room.HostPeerID, room.Nametag, room.CreatedAt.UnixMilli(),
	)
	return err
}

// RoomClosed stamps the open history row for code. Codes are reused, so
// only the newest row still missing a close time is touched.
func (s *Store) RoomClosed(code, reason string, at time.Time) error {
	_, err := s.conn.Exec(
		`UPDATE rooms SET closed_at = ?, close_reason = ?
		WHERE id = (SELECT id FROM rooms WHERE code = ? AND closed_at IS NULL ORDER BY id DESC LIMIT 1)`,
		at.UnixMilli(), reason, code,
	)
	return err
}

// Recent returns up to limit rooms, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.Query(
		`SELECT code, host_peer_id, nametag, created_at, closed_at, close_reason
		FROM rooms ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Entry
	for rows.Next() {
		var (
			e        Entry
			created  int64
			closedAt sql.NullInt64
		)
		if err := rows.Scan(&e.RoomCode, &e.HostPeerID, &e.Nametag, &created, &closedAt, &e.CloseReason); err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(created).UTC()
		if closedAt.Valid {
			t := time.UnixMilli(closedAt.Int64).UTC()
			e.ClosedAt = &t
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

var _ relay.Recorder = (*Store)(nil)
