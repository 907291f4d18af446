package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/observatory/internal/metrics"
	"github.com/eldtechnologies/observatory/internal/models"
)

// SQLiteStore keeps room configurations in a local SQLite file. It suits
// single-host deployments that want durable rooms without Postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/observatory.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/observatory.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS rooms (
		room_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		agents TEXT NOT NULL DEFAULT '[]',
		api_key TEXT NOT NULL,
		created INTEGER NOT NULL,
		max_events INTEGER NOT NULL DEFAULT 0
	);
	`)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func observeSQL(driver string, start time.Time) {
	metrics.SQLLatency.WithLabelValues(driver).Observe(time.Since(start).Seconds())
}

// GetRoom retrieves a room by ID.
func (s *SQLiteStore) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	defer observeSQL("sqlite", time.Now())

	room := &models.Room{}
	var agents string
	err := s.db.QueryRowContext(ctx, `
		SELECT room_id, name, agents, api_key, created, max_events
		FROM rooms WHERE room_id = ?
	`, roomID).Scan(
		&room.RoomID,
		&room.Name,
		&agents,
		&room.APIKey,
		&room.Created,
		&room.MaxEvents,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if err := json.Unmarshal([]byte(agents), &room.Agents); err != nil {
		return nil, err
	}
	return room, nil
}

// CreateRoom inserts the room unless the ID is already taken.
func (s *SQLiteStore) CreateRoom(ctx context.Context, room *models.Room) (bool, error) {
	defer observeSQL("sqlite", time.Now())

	agents, err := marshalAgents(room.Agents)
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO rooms (room_id, name, agents, api_key, created, max_events)
		VALUES (?, ?, ?, ?, ?, ?)
	`, room.RoomID, room.Name, agents, room.APIKey, room.Created, room.MaxEvents)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListRoomIDs returns every room ID in ascending order.
func (s *SQLiteStore) ListRoomIDs(ctx context.Context) ([]string, error) {
	defer observeSQL("sqlite", time.Now())

	rows, err := s.db.QueryContext(ctx, `SELECT room_id FROM rooms ORDER BY room_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func marshalAgents(agents []models.AgentConfig) (string, error) {
	if agents == nil {
		agents = []models.AgentConfig{}
	}
	data, err := json.Marshal(agents)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
