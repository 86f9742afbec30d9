package quota

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/llmgate/internal/kvstore"
)

func setupLedger(t *testing.T, limits Limits, seedAdmins ...string) (*Ledger, *kvstore.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := kvstore.NewRedisStore(client)
	admins := NewAdminSet(store, seedAdmins)
	return NewLedger(store, admins, limits, time.UTC), store, mr
}

func day(d, h, m, s int) time.Time {
	return time.Date(2026, time.March, d, h, m, s, 0, time.UTC)
}

func TestLedger_AdmitsAndCounts(t *testing.T) {
	ledger, _, _ := setupLedger(t, Limits{RequestsPerUser: 3, RequestsPerMinute: 10, TotalDailyLimit: 100})
	ctx := context.Background()

	d, err := ledger.Check(ctx, "u1", "alice", day(1, 10, 0, 0))
	require.NoError(t, err)
	assert.True(t, d.Admit)
	assert.NoError(t, d.Err())

	st, err := ledger.Status(ctx, "u1", "alice", day(1, 10, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, st.DailyCount)
	assert.Equal(t, 1, st.MinuteCount)
	assert.Equal(t, 1, st.TotalDailyRequests)
	assert.Equal(t, "2026-03-01", st.Date)
}

func TestLedger_DailyLimitIsMonotonic(t *testing.T) {
	ledger, _, _ := setupLedger(t, Limits{RequestsPerUser: 3, RequestsPerMinute: 100, TotalDailyLimit: 100})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := ledger.Check(ctx, "u1", "", day(1, 10, i, 0))
		require.NoError(t, err)
		require.True(t, d.Admit, "request %d", i)
	}

	for i := 0; i < 3; i++ {
		d, err := ledger.Check(ctx, "u1", "", day(1, 12, i, 0))
		require.NoError(t, err)
		assert.False(t, d.Admit)
		assert.Equal(t, ReasonDaily, d.Reason)
		assert.Equal(t, 3, d.Limit)
	}

	st, err := ledger.Status(ctx, "u1", "", day(1, 13, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 3, st.DailyCount, "rejections must not increment")
	assert.Equal(t, 3, st.TotalDailyRequests)
}

func TestLedger_MinuteWindow(t *testing.T) {
	ledger, _, _ := setupLedger(t, Limits{RequestsPerUser: 100, RequestsPerMinute: 2, TotalDailyLimit: 100})
	ctx := context.Background()

	start := day(1, 10, 0, 0)

	d, err := ledger.Check(ctx, "u1", "", start)
	require.NoError(t, err)
	require.True(t, d.Admit)

	d, err = ledger.Check(ctx, "u1", "", start.Add(10*time.Second))
	require.NoError(t, err)
	require.True(t, d.Admit)

	d, err = ledger.Check(ctx, "u1", "", start.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, d.Admit)
	assert.Equal(t, ReasonRate, d.Reason)

	// Exactly 60s after the first request that entry has left the window.
	d, err = ledger.Check(ctx, "u1", "", start.Add(60*time.Second))
	require.NoError(t, err)
	assert.True(t, d.Admit)
}

func TestLedger_GlobalLimitCheckedFirst(t *testing.T) {
	ledger, _, _ := setupLedger(t, Limits{RequestsPerUser: 1, RequestsPerMinute: 1, TotalDailyLimit: 2})
	ctx := context.Background()

	for _, u := range []string{"u1", "u2"} {
		d, err := ledger.Check(ctx, u, "", day(1, 9, 0, 0))
		require.NoError(t, err)
		require.True(t, d.Admit)
	}

	// u1 is also over its personal limits, but the global reason wins.
	d, err := ledger.Check(ctx, "u1", "", day(1, 9, 0, 1))
	require.NoError(t, err)
	assert.False(t, d.Admit)
	assert.Equal(t, ReasonGlobal, d.Reason)

	var exceeded *ExceededError
	require.ErrorAs(t, d.Err(), &exceeded)
	assert.Contains(t, exceeded.UserMessage(), "daily request limit")
}

func TestLedger_DayRollover(t *testing.T) {
	ledger, _, _ := setupLedger(t, Limits{RequestsPerUser: 1, RequestsPerMinute: 10, TotalDailyLimit: 1})
	ctx := context.Background()

	d, err := ledger.Check(ctx, "u1", "", day(1, 23, 59, 0))
	require.NoError(t, err)
	require.True(t, d.Admit)

	d, err = ledger.Check(ctx, "u1", "", day(1, 23, 59, 30))
	require.NoError(t, err)
	require.False(t, d.Admit)

	d, err = ledger.Check(ctx, "u1", "", day(2, 0, 0, 30))
	require.NoError(t, err)
	assert.True(t, d.Admit)

	st, err := ledger.Status(ctx, "u1", "", day(2, 0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, st.DailyCount)
	assert.Equal(t, 1, st.TotalDailyRequests)
	assert.Equal(t, "2026-03-02", st.Date)
}

func TestLedger_RolloverAcrossMonthWithSameDayOfMonth(t *testing.T) {
	ledger, _, _ := setupLedger(t, Limits{RequestsPerUser: 1, RequestsPerMinute: 10, TotalDailyLimit: 10})
	ctx := context.Background()

	d, err := ledger.Check(ctx, "u1", "", time.Date(2026, time.March, 5, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, d.Admit)

	// Same day-of-month a month later must still count as a new day.
	d, err = ledger.Check(ctx, "u1", "", time.Date(2026, time.April, 5, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, d.Admit)
}

func TestLedger_RolloverIsIdempotent(t *testing.T) {
	ledger, store, _ := setupLedger(t, Limits{RequestsPerUser: 10, RequestsPerMinute: 10, TotalDailyLimit: 10})
	ctx := context.Background()

	require.NoError(t, putJSON(ctx, store, globalKey, GlobalState{TotalDailyRequests: 7, LastResetDay: 1, LastResetDate: "2026-03-01"}, 0))

	g1, err := ledger.Global(ctx, day(2, 8, 0, 0))
	require.NoError(t, err)
	g2, err := ledger.Global(ctx, day(2, 8, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, g1, g2)
	assert.Equal(t, 0, g1.TotalDailyRequests)

	// Two checks on the new day see one reset, counted once each.
	for i := 0; i < 2; i++ {
		_, err := ledger.Check(ctx, "u1", "", day(2, 8, 1, i))
		require.NoError(t, err)
	}
	g, err := ledger.Global(ctx, day(2, 9, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, g.TotalDailyRequests)
}

func TestLedger_RejectionPersistsGlobalRollover(t *testing.T) {
	ledger, store, _ := setupLedger(t, Limits{RequestsPerUser: 10, RequestsPerMinute: 0, TotalDailyLimit: 10})
	ctx := context.Background()

	require.NoError(t, putJSON(ctx, store, globalKey, GlobalState{TotalDailyRequests: 10, LastResetDate: "2026-03-01"}, 0))

	d, err := ledger.Check(ctx, "u1", "", day(2, 8, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, ReasonRate, d.Reason)

	raw, err := store.Get(ctx, globalKey)
	require.NoError(t, err)
	var g GlobalState
	require.NoError(t, json.Unmarshal([]byte(raw), &g))
	assert.Equal(t, "2026-03-02", g.LastResetDate)
	assert.Equal(t, 0, g.TotalDailyRequests)

	_, err = store.Get(ctx, userKeyPrefix+"u1")
	assert.ErrorIs(t, err, kvstore.ErrNotFound, "rejected user record must not be written")
}

func TestLedger_AdminBypass(t *testing.T) {
	ledger, _, _ := setupLedger(t, Limits{RequestsPerUser: 1, RequestsPerMinute: 1, TotalDailyLimit: 1}, "@Boss")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := ledger.Check(ctx, "u-admin", "boss", day(1, 10, 0, i))
		require.NoError(t, err)
		assert.True(t, d.Admit)
		assert.True(t, d.IsAdmin)
	}

	st, err := ledger.Status(ctx, "u-admin", "BOSS", day(1, 10, 1, 0))
	require.NoError(t, err)
	assert.True(t, st.IsAdmin)
	assert.Equal(t, 5, st.DailyCount, "admin requests still count")
	assert.Equal(t, 5, st.TotalDailyRequests)

	d, err := ledger.Check(ctx, "u2", "someone", day(1, 10, 2, 0))
	require.NoError(t, err)
	assert.False(t, d.Admit)
	assert.Equal(t, ReasonGlobal, d.Reason)
}

func TestLedger_MalformedRecordTreatedAsEmpty(t *testing.T) {
	ledger, store, _ := setupLedger(t, Limits{RequestsPerUser: 1, RequestsPerMinute: 1, TotalDailyLimit: 10})
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, userKeyPrefix+"u1", "{not json", 0))

	d, err := ledger.Check(ctx, "u1", "", day(1, 10, 0, 0))
	require.NoError(t, err)
	assert.True(t, d.Admit)
}

func TestLedger_UserRecordExpires(t *testing.T) {
	ledger, store, mr := setupLedger(t, Limits{RequestsPerUser: 5, RequestsPerMinute: 5, TotalDailyLimit: 10})
	ctx := context.Background()

	_, err := ledger.Check(ctx, "u1", "", day(1, 10, 0, 0))
	require.NoError(t, err)

	mr.FastForward(userRecordTTL + time.Second)

	_, err = store.Get(ctx, userKeyPrefix+"u1")
	assert.ErrorIs(t, err, kvstore.ErrNotFound)
	_, err = store.Get(ctx, globalKey)
	assert.NoError(t, err, "global state has no TTL")
}

func TestLedger_StoreUnavailable(t *testing.T) {
	ledger, _, mr := setupLedger(t, Limits{RequestsPerUser: 5, RequestsPerMinute: 5, TotalDailyLimit: 10})
	mr.Close()

	_, err := ledger.Check(context.Background(), "u1", "", day(1, 10, 0, 0))
	assert.Error(t, err)
}

func TestPruneWindow(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	stamps := []int64{now.UnixMilli() - 70_000, now.UnixMilli() - 60_000, now.UnixMilli() - 59_999, now.UnixMilli()}

	assert.Equal(t, []int64{now.UnixMilli() - 59_999, now.UnixMilli()}, pruneWindow(stamps, now))
	assert.Empty(t, pruneWindow(nil, now))
}
