package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/observatory/internal/models"
)

// PostgresStore keeps room configurations in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool
// and makes sure the rooms table exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS rooms (
			room_id    TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			agents     JSONB NOT NULL DEFAULT '[]'::jsonb,
			api_key    TEXT NOT NULL,
			created    BIGINT NOT NULL,
			max_events INTEGER NOT NULL DEFAULT 0
		)
	`)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetRoom retrieves a room by ID.
func (s *PostgresStore) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	defer observeSQL("postgres", time.Now())

	room := &models.Room{}
	var agents []byte
	err := s.pool.QueryRow(ctx, `
		SELECT room_id, name, agents, api_key, created, max_events
		FROM rooms WHERE room_id = $1
	`, roomID).Scan(
		&room.RoomID,
		&room.Name,
		&agents,
		&room.APIKey,
		&room.Created,
		&room.MaxEvents,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(agents, &room.Agents); err != nil {
		return nil, err
	}
	return room, nil
}

// CreateRoom inserts the room unless the ID is already taken.
func (s *PostgresStore) CreateRoom(ctx context.Context, room *models.Room) (bool, error) {
	defer observeSQL("postgres", time.Now())

	agents, err := marshalAgents(room.Agents)
	if err != nil {
		return false, err
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO rooms (room_id, name, agents, api_key, created, max_events)
		VALUES ($1, $2, $3::jsonb, $4, $5, $6)
		ON CONFLICT (room_id) DO NOTHING
	`, room.RoomID, room.Name, agents, room.APIKey, room.Created, room.MaxEvents)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListRoomIDs returns every room ID in ascending order.
func (s *PostgresStore) ListRoomIDs(ctx context.Context) ([]string, error) {
	defer observeSQL("postgres", time.Now())

	rows, err := s.pool.Query(ctx, `SELECT room_id FROM rooms ORDER BY room_id`)
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
