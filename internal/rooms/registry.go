// Package rooms owns room configuration: creation, lookup, redaction and
// API key checks.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/observatory/internal/crypto"
	"github.com/eldtechnologies/observatory/internal/models"
	"github.com/eldtechnologies/observatory/internal/store"
)

// MaxEventsCeiling bounds the per-room retention override.
const MaxEventsCeiling = 10000

var (
	// ErrRoomExists is returned when creating a room whose ID is taken.
	ErrRoomExists = errors.New("room already exists")

	// roomIDRegex: lowercase alphanumeric and hyphens, 2-32 chars
	roomIDRegex = regexp.MustCompile(`^[a-z0-9-]{2,32}$`)
)

// ValidationError reports malformed input for a single field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// roomIndexer is implemented by backends that keep a separate room index.
type roomIndexer interface {
	IndexRoom(ctx context.Context, roomID string) error
}

// Registry creates and looks up rooms.
type Registry struct {
	store  store.RoomStore
	logger zerolog.Logger
	now    func() time.Time
}

// NewRegistry creates a registry over the given backend.
func NewRegistry(s store.RoomStore, logger zerolog.Logger) *Registry {
	return &Registry{store: s, logger: logger, now: time.Now}
}

// Ping checks the registry backend.
func (r *Registry) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// CreateParams holds the caller-supplied fields of a new room.
type CreateParams struct {
	RoomID    string
	Name      string
	Agents    []models.AgentConfig
	MaxEvents int
}

// CreateRoom validates params, generates an API key and persists the room.
// The returned room is the only place the API key is ever handed out.
func (r *Registry) CreateRoom(ctx context.Context, p CreateParams) (*models.Room, error) {
	if !roomIDRegex.MatchString(p.RoomID) {
		return nil, &ValidationError{Field: "roomId", Reason: "must be 2-32 chars, a-z0-9-"}
	}
	name := strings.TrimSpace(p.Name)
	if n := utf8.RuneCountInString(name); n < 2 || n > 64 {
		return nil, &ValidationError{Field: "name", Reason: "must be 2-64 characters"}
	}
	if p.MaxEvents < 0 || p.MaxEvents > MaxEventsCeiling {
		return nil, &ValidationError{Field: "maxEvents", Reason: fmt.Sprintf("must be between 0 and %d", MaxEventsCeiling)}
	}

	existing, err := r.store.GetRoom(ctx, p.RoomID)
	if err != nil {
		return nil, fmt.Errorf("lookup room %s: %w", p.RoomID, err)
	}
	if existing != nil {
		return nil, ErrRoomExists
	}

	agents := p.Agents
	if agents == nil {
		agents = []models.AgentConfig{}
	}

	room := &models.Room{
		RoomID:    p.RoomID,
		Name:      name,
		Agents:    agents,
		APIKey:    crypto.NewRoomAPIKey(p.RoomID),
		Created:   r.now().UnixMilli(),
		MaxEvents: p.MaxEvents,
	}

	// The backend write is create-if-absent, so a racing create loses here
	// instead of overwriting the winner's key.
	created, err := r.store.CreateRoom(ctx, room)
	if created && errors.Is(err, store.ErrIndexStale) {
		r.repairIndex(ctx, room.RoomID, err)
		return room, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create room %s: %w", p.RoomID, err)
	}
	if !created {
		return nil, ErrRoomExists
	}
	return room, nil
}

// repairIndex retries a failed index write once. The room is stored either
// way; a room left unindexed is missing from ListRooms until re-indexed.
func (r *Registry) repairIndex(ctx context.Context, roomID string, cause error) {
	if idx, ok := r.store.(roomIndexer); ok {
		if err := idx.IndexRoom(ctx, roomID); err == nil {
			r.logger.Info().Str("room", roomID).Msg("room index repaired")
			return
		}
	}
	r.logger.Error().Err(cause).Str("room", roomID).Msg("room stored but not indexed")
}

// GetRoomConfig returns the full room configuration, or nil if absent.
// It includes the API key and must not be exposed to readers.
func (r *Registry) GetRoomConfig(ctx context.Context, roomID string) (*models.Room, error) {
	if !roomIDRegex.MatchString(roomID) {
		return nil, nil
	}
	return r.store.GetRoom(ctx, roomID)
}

// PublicConfig returns the redacted room configuration, or nil if absent.
func (r *Registry) PublicConfig(ctx context.Context, roomID string) (*models.PublicRoom, error) {
	room, err := r.GetRoomConfig(ctx, roomID)
	if err != nil || room == nil {
		return nil, err
	}
	return room.Public(), nil
}

// MaxEvents returns the retention cap for a room, falling back to the
// default when the room is unknown or the lookup fails.
func (r *Registry) MaxEvents(ctx context.Context, roomID string) int {
	room, err := r.GetRoomConfig(ctx, roomID)
	if err != nil {
		return models.DefaultMaxEvents
	}
	return room.EffectiveMaxEvents()
}

// Summary is a room as shown in the admin listing.
type Summary struct {
	RoomID    string `json:"roomId"`
	Name      string `json:"name"`
	Agents    int    `json:"agents"`
	Created   int64  `json:"created"`
	MaxEvents int    `json:"maxEvents"`
}

// ListRooms returns one page of rooms ordered by ID, and the total count.
// Rooms indexed but no longer readable are skipped.
func (r *Registry) ListRooms(ctx context.Context, limit, offset int) ([]Summary, int, error) {
	ids, err := r.store.ListRoomIDs(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list rooms: %w", err)
	}

	total := len(ids)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	out := make([]Summary, 0, end-offset)
	for _, id := range ids[offset:end] {
		room, err := r.store.GetRoom(ctx, id)
		if err != nil {
			return nil, 0, fmt.Errorf("lookup room %s: %w", id, err)
		}
		if room == nil {
			continue
		}
		out = append(out, Summary{
			RoomID:    room.RoomID,
			Name:      room.Name,
			Agents:    len(room.Agents),
			Created:   room.Created,
			MaxEvents: room.EffectiveMaxEvents(),
		})
	}
	return out, total, nil
}

// NormalizeRoomID lowercases raw and drops characters outside a-z0-9-.
func NormalizeRoomID(raw string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return -1
		}
	}, strings.ToLower(raw))
}
