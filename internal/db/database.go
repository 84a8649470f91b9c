package db

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/manpreetbhatti/sketchroom/internal/activity"
)

// Database archives room activity. Canvas state itself is never stored;
// a restarted relay always starts with empty rooms.
type Database struct {
	db *sql.DB
}

type Room struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Sessions  int       `json:"sessions"`
	Strokes   int       `json:"strokes"`
	Undos     int       `json:"undos"`
	Clears    int       `json:"clears"`
	Joins     int       `json:"joins"`
	PeakUsers int       `json:"peak_users"`
}

type Session struct {
	ID        int64      `json:"id"`
	RoomID    string     `json:"room_id"`
	OpenedAt  time.Time  `json:"opened_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	PeakUsers int        `json:"peak_users"`
	Strokes   int        `json:"strokes"`
}

func New(dbPath string) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection keeps pragmas and writes consistent
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	log.Printf("Database initialized at %s", dbPath)
	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		sessions INTEGER NOT NULL DEFAULT 0,
		strokes INTEGER NOT NULL DEFAULT 0,
		undos INTEGER NOT NULL DEFAULT 0,
		clears INTEGER NOT NULL DEFAULT 0,
		joins INTEGER NOT NULL DEFAULT 0,
		peak_users INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_rooms_updated_at ON rooms(updated_at);

	CREATE TABLE IF NOT EXISTS room_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		opened_at DATETIME NOT NULL,
		closed_at DATETIME,
		peak_users INTEGER NOT NULL DEFAULT 0,
		strokes INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_room_sessions_room_id ON room_sessions(room_id);
	CREATE INDEX IF NOT EXISTS idx_room_sessions_closed_at ON room_sessions(closed_at);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Session operations

func (d *Database) OpenSession(roomID string, at time.Time) error {
	at = at.UTC()

	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO rooms (id, created_at, updated_at, sessions)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(id) DO UPDATE SET
			sessions = sessions + 1,
			updated_at = excluded.updated_at
	`, roomID, at, at); err != nil {
		return fmt.Errorf("upserting room %s: %w", roomID, err)
	}

	if _, err := tx.Exec(
		"INSERT INTO room_sessions (room_id, opened_at) VALUES (?, ?)",
		roomID, at,
	); err != nil {
		return fmt.Errorf("opening session for %s: %w", roomID, err)
	}

	return tx.Commit()
}

// Closes the most recent open session of the room
func (d *Database) CloseSession(s activity.Session) error {
	closedAt := s.ClosedAt.UTC()

	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		UPDATE room_sessions
		SET closed_at = ?, peak_users = ?, strokes = ?
		WHERE id = (
			SELECT id FROM room_sessions
			WHERE room_id = ? AND closed_at IS NULL
			ORDER BY id DESC
			LIMIT 1
		)
	`, closedAt, s.PeakUsers, s.Strokes, s.RoomID); err != nil {
		return fmt.Errorf("closing session for %s: %w", s.RoomID, err)
	}

	if _, err := tx.Exec(`
		UPDATE rooms
		SET peak_users = MAX(peak_users, ?), updated_at = ?
		WHERE id = ?
	`, s.PeakUsers, closedAt, s.RoomID); err != nil {
		return fmt.Errorf("updating room %s: %w", s.RoomID, err)
	}

	return tx.Commit()
}

func (d *Database) AddActivity(roomID string, delta activity.Counters, at time.Time) error {
	at = at.UTC()
	_, err := d.db.Exec(`
		INSERT INTO rooms (id, created_at, updated_at, strokes, undos, clears, joins)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			strokes = strokes + excluded.strokes,
			undos = undos + excluded.undos,
			clears = clears + excluded.clears,
			joins = joins + excluded.joins,
			updated_at = excluded.updated_at
	`, roomID, at, at, delta.Strokes, delta.Undos, delta.Clears, delta.Joins)
	if err != nil {
		return fmt.Errorf("adding activity for %s: %w", roomID, err)
	}
	return nil
}

func (d *Database) ListSessions(roomID string, limit int) ([]Session, error) {
	rows, err := d.db.Query(`
		SELECT id, room_id, opened_at, closed_at, peak_users, strokes
		FROM room_sessions
		WHERE room_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var closedAt sql.NullTime
		if err := rows.Scan(&s.ID, &s.RoomID, &s.OpenedAt, &closedAt, &s.PeakUsers, &s.Strokes); err != nil {
			return nil, err
		}
		if closedAt.Valid {
			t := closedAt.Time
			s.ClosedAt = &t
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Room operations

const roomColumns = "id, created_at, updated_at, sessions, strokes, undos, clears, joins, peak_users"

type scanner interface {
	Scan(dest ...any) error
}

func scanRoom(s scanner) (Room, error) {
	var r Room
	err := s.Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt, &r.Sessions, &r.Strokes, &r.Undos, &r.Clears, &r.Joins, &r.PeakUsers)
	return r, err
}

func (d *Database) GetRoom(id string) (*Room, error) {
	room, err := scanRoom(d.db.QueryRow("SELECT "+roomColumns+" FROM rooms WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (d *Database) ListRooms(limit, offset int) ([]Room, error) {
	rows, err := d.db.Query(
		"SELECT "+roomColumns+" FROM rooms ORDER BY updated_at DESC, id ASC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (d *Database) DeleteRoom(id string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM room_sessions WHERE room_id = ?", id); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM rooms WHERE id = ?", id); err != nil {
		return err
	}
	return tx.Commit()
}

// Retention

// Removes closed sessions that ended before cutoff
func (d *Database) DeleteSessionsBefore(cutoff time.Time) (int64, error) {
	result, err := d.db.Exec(
		"DELETE FROM room_sessions WHERE closed_at IS NOT NULL AND closed_at < ?",
		cutoff.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Removes rooms untouched since cutoff that have no open session
func (d *Database) DeleteIdleRooms(cutoff time.Time) (int64, error) {
	result, err := d.db.Exec(`
		DELETE FROM rooms
		WHERE updated_at < ? AND id NOT IN (
			SELECT room_id FROM room_sessions WHERE closed_at IS NULL
		)
	`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Stats

func (d *Database) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var roomCount, strokeCount int
	if err := d.db.QueryRow("SELECT COUNT(*), COALESCE(SUM(strokes), 0) FROM rooms").Scan(&roomCount, &strokeCount); err != nil {
		return nil, err
	}
	stats["room_count"] = roomCount
	stats["stroke_count"] = strokeCount

	var sessionCount int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM room_sessions").Scan(&sessionCount); err != nil {
		return nil, err
	}
	stats["session_count"] = sessionCount

	return stats, nil
}
