package ratelimit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func TestCheck_NoLimitsAlwaysAllows(t *testing.T) {
	clock := newClock()
	l := New(nil, WithClock(clock.Now))

	d, err := l.Check("claude", 1_000_000)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCheck_WindowExpiresLazily(t *testing.T) {
	clock := newClock()
	l := New(map[string]Limits{"claude": {MaxRequestsMinute: 10}}, WithClock(clock.Now))

	l.Record("claude", 10, 0)
	d, err := l.Check("claude", 0)
	require.NoError(t, err)
	assert.False(t, d.Allowed, "window is full")

	clock.Advance(61 * time.Second)
	d, err = l.Check("claude", 0)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	usage := l.Usage("claude")[Minute]
	assert.Equal(t, 0, usage.Requests)
	assert.Equal(t, clock.Now(), usage.Start)
}

func TestCheck_TightestDenyUsesMinuteWindow(t *testing.T) {
	clock := newClock()
	l := New(map[string]Limits{"claude": {
		MaxRequestsMinute: 1,
		MaxTokensHour:     100_000,
	}}, WithClock(clock.Now))

	l.Record("claude", 1, 500)
	clock.Advance(20 * time.Second)

	d, err := l.Check("claude", 1000)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, Minute, d.Window)
	assert.Equal(t, 40*time.Second, d.RetryAfter)
}

func TestCheck_LargestWaitWhenSeveralWindowsDeny(t *testing.T) {
	clock := newClock()
	l := New(map[string]Limits{"openai": {
		MaxRequestsMinute: 1,
		MaxTokensHour:     1000,
	}}, WithClock(clock.Now))

	l.Record("openai", 1, 900)
	clock.Advance(30 * time.Second)

	d, err := l.Check("openai", 200)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, Hour, d.Window)
	assert.Equal(t, time.Hour-30*time.Second, d.RetryAfter)
}

func TestCheck_TokenCeiling(t *testing.T) {
	clock := newClock()
	l := New(map[string]Limits{"claude": {MaxTokensDay: 10_000}}, WithClock(clock.Now))

	l.Record("claude", 1, 9_000)

	d, err := l.Check("claude", 1_000)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "exactly reaching the ceiling is allowed")

	d, err = l.Check("claude", 1_001)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, Day, d.Window)
}

func TestCheck_UnsatisfiableEstimate(t *testing.T) {
	clock := newClock()
	l := New(map[string]Limits{"claude": {MaxTokensMinute: 500, MaxTokensDay: 100_000}}, WithClock(clock.Now))

	_, err := l.Check("claude", 501)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsatisfiableLimit))

	var ue *UnsatisfiableError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, Minute, ue.Window)
	assert.Equal(t, 500, ue.MaxTokens)
}

func TestRecord_AddsToEveryWindow(t *testing.T) {
	clock := newClock()
	l := New(map[string]Limits{"claude": {MaxRequestsWeek: 100}}, WithClock(clock.Now))

	l.Record("claude", 1, 250)
	l.Record("claude", 1, 250)

	usage := l.Usage("claude")
	for _, w := range Windows {
		assert.Equal(t, 2, usage[w].Requests, "window %s", w)
		assert.Equal(t, 500, usage[w].Tokens, "window %s", w)
	}
}

func TestTimeUntilReset(t *testing.T) {
	clock := newClock()
	l := New(map[string]Limits{"claude": {MaxRequestsHour: 5}}, WithClock(clock.Now))

	assert.Equal(t, time.Duration(0), l.TimeUntilReset("claude", Hour), "unused window")

	l.Record("claude", 1, 10)
	clock.Advance(15 * time.Minute)
	assert.Equal(t, 45*time.Minute, l.TimeUntilReset("claude", Hour))

	clock.Advance(2 * time.Hour)
	assert.Equal(t, time.Duration(0), l.TimeUntilReset("claude", Hour), "never negative")
}

func TestRestore_InheritsPersistedUsage(t *testing.T) {
	clock := newClock()
	limits := map[string]Limits{"claude": {MaxRequestsDay: 2}}

	first := New(limits, WithClock(clock.Now))
	first.Record("claude", 2, 0)
	snapshot := first.Usage("claude")

	clock.Advance(time.Hour)
	second := New(limits, WithClock(clock.Now))
	second.Restore("claude", snapshot)

	d, err := second.Check("claude", 0)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 23*time.Hour, d.RetryAfter)
}

func TestUsage_ReturnsCopy(t *testing.T) {
	clock := newClock()
	l := New(nil, WithClock(clock.Now))
	l.Record("claude", 1, 1)

	u := l.Usage("claude")
	u[Minute] = WindowUsage{Requests: 99}

	assert.Equal(t, 1, l.Usage("claude")[Minute].Requests)
}

func TestStatus(t *testing.T) {
	clock := newClock()
	l := New(map[string]Limits{"claude": {MaxRequestsMinute: 10, MaxTokensWeek: 1000}}, WithClock(clock.Now))
	l.Record("claude", 3, 300)
	clock.Advance(90 * time.Second)

	statuses := l.Status("claude")
	require.Len(t, statuses, len(Windows))

	assert.Equal(t, Minute, statuses[0].Window)
	assert.Equal(t, 0, statuses[0].Requests, "expired minute window reports empty")
	assert.True(t, statuses[0].Limited())

	assert.Equal(t, Week, statuses[3].Window)
	assert.Equal(t, 300, statuses[3].Tokens)
	assert.Equal(t, 1000, statuses[3].MaxTokens)

	assert.False(t, statuses[1].Limited())
}

func TestLimits_SmallestTokenCeiling(t *testing.T) {
	assert.Equal(t, 0, Limits{}.SmallestTokenCeiling())
	assert.Equal(t, 400, Limits{MaxTokensHour: 400, MaxTokensDay: 9000}.SmallestTokenCeiling())
}
