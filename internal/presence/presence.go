// Package presence counts live viewers. A heartbeat keeps a visitor active
// for VisitorTTL; every distinct visitor ever seen adds to a running total.
package presence

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/eldtechnologies/observatory/internal/metrics"
	"github.com/eldtechnologies/observatory/internal/store"
)

// VisitorTTL is how long a heartbeat keeps a visitor active.
const VisitorTTL = 30 * time.Second

const (
	activeKey = "presence:visitors"       // zset, score = expiry unix ms, member = "<CC>:<ip>"
	totalKey  = "presence:visitors:total" // set of ips

	unknownCountry = "UN"
	whiteFlag      = "\U0001F3F3"
)

// Snapshot is the current audience of the observatory.
type Snapshot struct {
	Visitors      int      `json:"visitors"`
	TotalVisitors int64    `json:"totalVisitors"`
	Flags         []string `json:"flags"`
}

// Tracker records heartbeats in the KV store. A nil Tracker reports a
// single anonymous visitor.
type Tracker struct {
	kv  store.KV
	now func() time.Time
}

// NewTracker creates a tracker over kv.
func NewTracker(kv store.KV) *Tracker {
	return &Tracker{kv: kv, now: time.Now}
}

// Heartbeat marks ip as active for VisitorTTL and returns the audience.
func (t *Tracker) Heartbeat(ctx context.Context, ip, country string) (Snapshot, error) {
	country = NormalizeCountry(country)
	if t == nil {
		return Snapshot{Visitors: 1, TotalVisitors: 1, Flags: []string{Flag(country)}}, nil
	}

	expiry := t.now().Add(VisitorTTL).UnixMilli()
	if err := t.kv.ZAdd(ctx, activeKey, float64(expiry), country+":"+ip); err != nil {
		return Snapshot{}, fmt.Errorf("record visitor: %w", err)
	}
	if err := t.kv.SAdd(ctx, totalKey, ip); err != nil {
		return Snapshot{}, fmt.Errorf("count visitor: %w", err)
	}
	return t.Snapshot(ctx)
}

// Snapshot prunes expired visitors and returns the audience.
func (t *Tracker) Snapshot(ctx context.Context) (Snapshot, error) {
	if t == nil {
		return Snapshot{Visitors: 1, TotalVisitors: 1, Flags: []string{whiteFlag}}, nil
	}

	total, err := t.kv.SCard(ctx, totalKey)
	if err != nil {
		return Snapshot{}, fmt.Errorf("total visitors: %w", err)
	}

	now := strconv.FormatInt(t.now().UnixMilli(), 10)
	if _, err := t.kv.ZRemRangeByScore(ctx, activeKey, "-inf", now); err != nil {
		return Snapshot{}, fmt.Errorf("prune visitors: %w", err)
	}

	members, err := t.kv.ZRangeByScore(ctx, activeKey, "("+now, "+inf", 0, 0)
	if err != nil {
		return Snapshot{}, fmt.Errorf("active visitors: %w", err)
	}

	flags := make([]string, 0, len(members))
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		cc, _, _ := strings.Cut(m, ":")
		if !seen[cc] {
			seen[cc] = true
			flags = append(flags, Flag(cc))
		}
	}

	metrics.ActiveVisitors.Set(float64(len(members)))
	return Snapshot{Visitors: len(members), TotalVisitors: total, Flags: flags}, nil
}

// NormalizeCountry returns an upper-case ISO 3166 alpha-2 code, or "UN".
func NormalizeCountry(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 2 || code[0] < 'A' || code[0] > 'Z' || code[1] < 'A' || code[1] > 'Z' {
		return unknownCountry
	}
	return code
}

// Flag renders a country code as its regional-indicator emoji.
func Flag(code string) string {
	if len(code) != 2 {
		return whiteFlag
	}
	code = NormalizeCountry(code)
	return string([]rune{
		0x1F1E6 + rune(code[0]-'A'),
		0x1F1E6 + rune(code[1]-'A'),
	})
}
