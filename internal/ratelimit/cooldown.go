// Package ratelimit implements per-key cooldown windows for low-volume,
// abuse-prone endpoints (self-serve setup, prompts, job requests).
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/eldtechnologies/observatory/internal/store"
)

// Cooldown windows.
const (
	SetupWindow    = time.Hour
	PromptWindow   = 5 * time.Minute
	JobsWindow     = 5 * time.Minute
	JobDedupWindow = 10 * time.Minute
)

// Cooldown scopes.
const (
	ScopeSetup  = "setup"
	ScopePrompt = "prompt"
	ScopeJobs   = "jobs"
	ScopeJobFP  = "jobfp"
)

// Cooldown records the last action time per key with an expiry equal to
// the window. A nil Cooldown allows everything.
type Cooldown struct {
	kv  store.KV
	now func() time.Time
}

// NewCooldown creates a cooldown tracker over kv.
func NewCooldown(kv store.KV) *Cooldown {
	return &Cooldown{kv: kv, now: time.Now}
}

func cooldownKey(scope, id string) string {
	return fmt.Sprintf("cooldown:%s:%s", scope, id)
}

// Allow checks and marks in one step. It returns false and the remaining
// wait when the key acted within window.
func (c *Cooldown) Allow(ctx context.Context, scope, id string, window time.Duration) (bool, time.Duration, error) {
	if c == nil {
		return true, 0, nil
	}

	now := c.now()
	ok, err := c.kv.SetNX(ctx, cooldownKey(scope, id), strconv.FormatInt(now.UnixMilli(), 10), window)
	if err != nil {
		return false, 0, err
	}
	if ok {
		return true, 0, nil
	}

	wait, err := c.Check(ctx, scope, id, window)
	if err != nil {
		return false, 0, err
	}
	if wait == 0 {
		// Marker outlived its window; take it over.
		return true, 0, c.Mark(ctx, scope, id, window)
	}
	return false, wait, nil
}

// Check returns how long the caller must still wait, or zero if allowed.
// It does not consume the window.
func (c *Cooldown) Check(ctx context.Context, scope, id string, window time.Duration) (time.Duration, error) {
	if c == nil {
		return 0, nil
	}

	val, err := c.kv.Get(ctx, cooldownKey(scope, id))
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	last, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, nil
	}

	elapsed := c.now().Sub(time.UnixMilli(last))
	if elapsed >= window {
		return 0, nil
	}
	return window - elapsed, nil
}

// Mark starts the window for id.
func (c *Cooldown) Mark(ctx context.Context, scope, id string, window time.Duration) error {
	if c == nil {
		return nil
	}
	return c.kv.Set(ctx, cooldownKey(scope, id), strconv.FormatInt(c.now().UnixMilli(), 10), window)
}

// RetryAfterSeconds rounds a wait up to whole seconds for the
// Retry-After header.
func RetryAfterSeconds(wait time.Duration) int {
	secs := int((wait + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
