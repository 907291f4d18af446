package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/observatory/internal/store/storetest"
)

func newTestCooldown(t *testing.T) (*Cooldown, *time.Time) {
	t.Helper()
	kv, _ := storetest.NewRedisStore(t)
	now := time.UnixMilli(1700000000000)
	c := NewCooldown(kv)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestCooldownAllow(t *testing.T) {
	c, now := newTestCooldown(t)
	ctx := context.Background()

	ok, _, err := c.Allow(ctx, ScopeSetup, "1.2.3.4", SetupWindow)
	require.NoError(t, err)
	assert.True(t, ok)

	*now = now.Add(10 * time.Minute)
	ok, wait, err := c.Allow(ctx, ScopeSetup, "1.2.3.4", SetupWindow)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 50*time.Minute, wait)

	ok, _, err = c.Allow(ctx, ScopeSetup, "5.6.7.8", SetupWindow)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _, err = c.Allow(ctx, ScopePrompt, "1.2.3.4", PromptWindow)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCooldownCheckDoesNotConsume(t *testing.T) {
	c, now := newTestCooldown(t)
	ctx := context.Background()

	wait, err := c.Check(ctx, ScopeJobs, "ip", JobsWindow)
	require.NoError(t, err)
	assert.Zero(t, wait)

	wait, err = c.Check(ctx, ScopeJobs, "ip", JobsWindow)
	require.NoError(t, err)
	assert.Zero(t, wait)

	require.NoError(t, c.Mark(ctx, ScopeJobs, "ip", JobsWindow))
	*now = now.Add(time.Minute)

	wait, err = c.Check(ctx, ScopeJobs, "ip", JobsWindow)
	require.NoError(t, err)
	assert.Equal(t, 4*time.Minute, wait)

	*now = now.Add(4 * time.Minute)
	wait, err = c.Check(ctx, ScopeJobs, "ip", JobsWindow)
	require.NoError(t, err)
	assert.Zero(t, wait)
}

func TestCooldownExpires(t *testing.T) {
	kv, mr := storetest.NewRedisStore(t)
	c := NewCooldown(kv)
	ctx := context.Background()

	require.NoError(t, c.Mark(ctx, ScopePrompt, "ip", PromptWindow))
	assert.Equal(t, PromptWindow, mr.TTL("cooldown:prompt:ip"))

	mr.FastForward(PromptWindow + time.Second)
	assert.False(t, mr.Exists("cooldown:prompt:ip"))
}

func TestNilCooldownAllows(t *testing.T) {
	var c *Cooldown
	ctx := context.Background()

	ok, _, err := c.Allow(ctx, ScopeSetup, "ip", SetupWindow)
	require.NoError(t, err)
	assert.True(t, ok)

	wait, err := c.Check(ctx, ScopeSetup, "ip", SetupWindow)
	require.NoError(t, err)
	assert.Zero(t, wait)
	assert.NoError(t, c.Mark(ctx, ScopeSetup, "ip", SetupWindow))
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, RetryAfterSeconds(0))
	assert.Equal(t, 1, RetryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, 300, RetryAfterSeconds(5*time.Minute))
	assert.Equal(t, 61, RetryAfterSeconds(60*time.Second+time.Millisecond))
}
