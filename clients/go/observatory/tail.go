package observatory

import (
	"context"
	"time"
)

// Tailer polls a room and hands each new event to a callback once.
type Tailer struct {
	Client   *Client
	RoomID   string        // empty reads the default room
	Interval time.Duration // defaults to 2s
	Limit    int           // page size, defaults to 500

	seen   *RecentSet
	cursor int64
}

// NewTailer creates a tailer starting at since.
func NewTailer(c *Client, roomID string, since int64) *Tailer {
	return &Tailer{
		Client:   c,
		RoomID:   roomID,
		Interval: 2 * time.Second,
		Limit:    500,
		seen:     NewRecentSet(DefaultRecentSize),
		cursor:   since,
	}
}

// Poll fetches one page and calls fn for every event not seen before.
// The cursor stays on the newest ts so events sharing it are re-read and
// filtered by id.
func (t *Tailer) Poll(ctx context.Context, fn func(Event)) error {
	page, err := t.Client.Events(ctx, t.RoomID, t.cursor, t.Limit)
	if err != nil {
		return err
	}
	for _, ev := range page.Events {
		if ev.ID != "" && !t.seen.Add(ev.ID) {
			continue
		}
		if ev.TS > t.cursor {
			t.cursor = ev.TS
		}
		fn(ev)
	}
	return nil
}

// Run polls until ctx is cancelled. Poll errors go to onErr, if set, and
// polling continues.
func (t *Tailer) Run(ctx context.Context, fn func(Event), onErr func(error)) error {
	interval := t.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := t.Poll(ctx, fn); err != nil && ctx.Err() == nil && onErr != nil {
			onErr(err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cursor returns the newest ts seen so far.
func (t *Tailer) Cursor() int64 {
	return t.cursor
}
