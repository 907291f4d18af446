package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/observatory/internal/bridge"
	"github.com/eldtechnologies/observatory/internal/metrics"
	"github.com/eldtechnologies/observatory/internal/models"
	"github.com/eldtechnologies/observatory/internal/store"
)

// RoomLimits supplies the retention cap for a room.
type RoomLimits interface {
	MaxEvents(ctx context.Context, roomID string) int
}

// Store is the persisted feed: one sorted set per room scored by ts.
type Store struct {
	kv          store.KV
	limits      RoomLimits
	fallback    *bridge.Client
	defaultRoom string
	logger      zerolog.Logger
	now         func() time.Time
}

// NewStore creates a persisted feed. When fallback is configured, reads of
// defaultRoom that find nothing are served from the bridge instead.
func NewStore(kv store.KV, limits RoomLimits, fallback *bridge.Client, defaultRoom string, logger zerolog.Logger) *Store {
	return &Store{
		kv:          kv,
		limits:      limits,
		fallback:    fallback,
		defaultRoom: defaultRoom,
		logger:      logger,
		now:         time.Now,
	}
}

// Mode returns ModePersisted.
func (s *Store) Mode() Mode {
	return ModePersisted
}

// eventsKey returns the key for a room's event sorted set.
func eventsKey(roomID string) string {
	return fmt.Sprintf("room:%s:events", roomID)
}

// dedupKey returns the marker key for an event id within a room.
func dedupKey(roomID, eventID string) string {
	return fmt.Sprintf("room:%s:event:%s", roomID, eventID)
}

// Ingest appends ev to the room log unless its id was seen within the
// last hour, then trims the log to the room's cap. Store failures are
// returned; the caller decides how to degrade.
func (s *Store) Ingest(ctx context.Context, roomID string, ev *models.Event) (IngestResult, error) {
	Normalize(ev, s.now())
	if ev.TS < 0 {
		return IngestResult{}, fmt.Errorf("%w: negative ts", ErrInvalidEvent)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return IngestResult{}, err
	}

	// SET NX makes check and mark one step, so concurrent retries of the
	// same id cannot both append.
	marker := dedupKey(roomID, ev.ID)
	fresh, err := s.kv.SetNX(ctx, marker, "1", DedupTTL)
	if err != nil {
		return IngestResult{}, fmt.Errorf("dedup marker: %w", err)
	}
	if !fresh {
		metrics.EventsDuplicate.Inc()
		return IngestResult{OK: true, Reason: ReasonDuplicate}, nil
	}

	key := eventsKey(roomID)
	if err := s.kv.ZAdd(ctx, key, float64(ev.TS), string(data)); err != nil {
		// Release the marker so the producer's retry is not swallowed.
		if delErr := s.kv.Del(ctx, marker); delErr != nil {
			s.logger.Warn().Err(delErr).Str("room", roomID).Str("event", ev.ID).Msg("failed to release dedup marker")
		}
		return IngestResult{}, fmt.Errorf("append event: %w", err)
	}
	metrics.EventsIngested.WithLabelValues(string(ModePersisted)).Inc()

	maxEvents := s.limits.MaxEvents(ctx, roomID)
	removed, err := s.kv.ZRemRangeByRank(ctx, key, 0, -int64(maxEvents+1))
	if err != nil {
		// The event is stored; the next ingest trims again.
		s.logger.Warn().Err(err).Str("room", roomID).Msg("failed to trim event log")
	} else if removed > 0 {
		metrics.EventsEvicted.Add(float64(removed))
	}

	return IngestResult{OK: true}, nil
}

// Events returns up to limit events with ts >= since in ascending order.
// Entries that fail to decode are skipped.
func (s *Store) Events(ctx context.Context, roomID string, since int64, limit int) (Page, error) {
	limit = ClampLimit(limit)
	if since < 0 {
		since = 0
	}

	members, err := s.kv.ZRangeByScore(ctx, eventsKey(roomID), strconv.FormatInt(since, 10), "+inf", 0, int64(limit))
	if err != nil {
		return emptyPage(), fmt.Errorf("read events: %w", err)
	}

	events := make([]json.RawMessage, 0, len(members))
	for _, member := range members {
		var ev models.Event
		if err := json.Unmarshal([]byte(member), &ev); err != nil {
			s.logger.Debug().Err(err).Str("room", roomID).Msg("skipping corrupt event")
			continue
		}
		events = append(events, json.RawMessage(member))
	}

	if len(events) == 0 && roomID == s.defaultRoom && s.fallback.Configured() {
		if upstream, err := s.fallback.Events(ctx, since, limit); err == nil {
			return Page{Events: upstream}, nil
		}
	}

	return Page{Events: events}, nil
}
