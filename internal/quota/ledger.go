package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aiox-platform/llmgate/internal/kvstore"
	"github.com/aiox-platform/llmgate/internal/metrics"
)

const (
	userKeyPrefix = "quota:user:"
	globalKey     = "quota:global"
	dateLayout    = "2006-01-02"

	minuteWindow = 60 * time.Second
	// userRecordTTL lets records of users who went quiet expire on their own.
	userRecordTTL = 48 * time.Hour
)

// Ledger admits or rejects inbound requests under per-user, per-minute and
// global daily limits. It holds no counters itself: every decision is a pure
// function of the stored records and the supplied instant.
//
// Check combines the decision and the increment. Concurrent checks for the
// same user race on read-modify-write and may slightly over or under count.
type Ledger struct {
	store  kvstore.Store
	admins *AdminSet
	limits Limits
	loc    *time.Location
}

// NewLedger creates a Ledger. Calendar days are evaluated in loc (UTC when nil).
func NewLedger(store kvstore.Store, admins *AdminSet, limits Limits, loc *time.Location) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{
		store:  store,
		admins: admins,
		limits: limits,
		loc:    loc,
	}
}

// Check decides whether the request from userID may proceed at now. Admitted
// requests increment the user's daily count, the minute window and the global
// counter. Rejected requests write no counters.
func (l *Ledger) Check(ctx context.Context, userID, username string, now time.Time) (Decision, error) {
	isAdmin, err := l.admins.IsAdmin(ctx, username)
	if err != nil {
		return Decision{}, fmt.Errorf("resolving admin status: %w", err)
	}

	local := now.In(l.loc)
	date := local.Format(dateLayout)

	global, err := l.loadGlobal(ctx)
	if err != nil {
		return Decision{}, err
	}
	globalRolled := false
	if global.LastResetDate != date {
		slog.Info("quota: daily rollover", "date", date, "previous_total", global.TotalDailyRequests)
		global = GlobalState{LastResetDay: local.Day(), LastResetDate: date}
		globalRolled = true
	}

	user, err := l.loadUser(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	if user.LastResetDate != date {
		user.DailyCount = 0
		user.LastResetDay = local.Day()
		user.LastResetDate = date
	}
	user.MinuteTimestamps = pruneWindow(user.MinuteTimestamps, now)

	decision := Decision{Admit: true, IsAdmin: isAdmin}
	if !isAdmin {
		switch {
		case global.TotalDailyRequests >= l.limits.TotalDailyLimit:
			decision = Decision{Reason: ReasonGlobal, Limit: l.limits.TotalDailyLimit}
		case user.DailyCount >= l.limits.RequestsPerUser:
			decision = Decision{Reason: ReasonDaily, Limit: l.limits.RequestsPerUser}
		case len(user.MinuteTimestamps) >= l.limits.RequestsPerMinute:
			decision = Decision{Reason: ReasonRate, Limit: l.limits.RequestsPerMinute}
		}
	}

	if !decision.Admit {
		// The rollover itself is not a counter increment; persisting it keeps
		// the reset from being paid again by the next request of the day.
		if globalRolled {
			if err := l.saveGlobal(ctx, global); err != nil {
				slog.Warn("quota: persisting rollover on rejection", "error", err)
			}
		}
		metrics.QuotaDecisionsTotal.WithLabelValues("rejected", string(decision.Reason)).Inc()
		return decision, nil
	}

	user.DailyCount++
	user.MinuteTimestamps = append(user.MinuteTimestamps, now.UnixMilli())
	global.TotalDailyRequests++

	if err := l.saveUser(ctx, userID, user); err != nil {
		return Decision{}, err
	}
	if err := l.saveGlobal(ctx, global); err != nil {
		return Decision{}, err
	}

	result := "admitted"
	if isAdmin {
		result = "admitted_admin"
	}
	metrics.QuotaDecisionsTotal.WithLabelValues(result, "").Inc()
	return decision, nil
}

// Status returns the user's current usage without mutating any record.
func (l *Ledger) Status(ctx context.Context, userID, username string, now time.Time) (*Status, error) {
	isAdmin, err := l.admins.IsAdmin(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("resolving admin status: %w", err)
	}

	date := now.In(l.loc).Format(dateLayout)

	global, err := l.loadGlobal(ctx)
	if err != nil {
		return nil, err
	}
	user, err := l.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	status := &Status{
		UserID:          userID,
		IsAdmin:         isAdmin,
		DailyLimit:      l.limits.RequestsPerUser,
		MinuteLimit:     l.limits.RequestsPerMinute,
		TotalDailyLimit: l.limits.TotalDailyLimit,
		Date:            date,
	}
	if user.LastResetDate == date {
		status.DailyCount = user.DailyCount
	}
	status.MinuteCount = len(pruneWindow(user.MinuteTimestamps, now))
	if global.LastResetDate == date {
		status.TotalDailyRequests = global.TotalDailyRequests
	}
	return status, nil
}

// Global returns the stored global counter as of now, zeroed if its day has passed.
func (l *Ledger) Global(ctx context.Context, now time.Time) (*GlobalState, error) {
	local := now.In(l.loc)
	global, err := l.loadGlobal(ctx)
	if err != nil {
		return nil, err
	}
	if global.LastResetDate != local.Format(dateLayout) {
		global = GlobalState{LastResetDay: local.Day(), LastResetDate: local.Format(dateLayout)}
	}
	return &global, nil
}

// Limits returns the configured thresholds.
func (l *Ledger) Limits() Limits {
	return l.limits
}

func (l *Ledger) loadUser(ctx context.Context, userID string) (UserRecord, error) {
	var rec UserRecord
	found, err := getJSON(ctx, l.store, userKeyPrefix+userID, &rec)
	if err != nil {
		return UserRecord{}, fmt.Errorf("loading user quota: %w", err)
	}
	if !found {
		return UserRecord{}, nil
	}
	return rec, nil
}

func (l *Ledger) saveUser(ctx context.Context, userID string, rec UserRecord) error {
	if err := putJSON(ctx, l.store, userKeyPrefix+userID, rec, userRecordTTL); err != nil {
		return fmt.Errorf("saving user quota: %w", err)
	}
	return nil
}

func (l *Ledger) loadGlobal(ctx context.Context) (GlobalState, error) {
	var g GlobalState
	found, err := getJSON(ctx, l.store, globalKey, &g)
	if err != nil {
		return GlobalState{}, fmt.Errorf("loading global quota: %w", err)
	}
	if !found {
		return GlobalState{}, nil
	}
	return g, nil
}

func (l *Ledger) saveGlobal(ctx context.Context, g GlobalState) error {
	if err := putJSON(ctx, l.store, globalKey, g, 0); err != nil {
		return fmt.Errorf("saving global quota: %w", err)
	}
	return nil
}

// pruneWindow keeps the timestamps strictly younger than one minute.
func pruneWindow(stamps []int64, now time.Time) []int64 {
	cutoff := now.Add(-minuteWindow).UnixMilli()
	kept := make([]int64, 0, len(stamps)+1)
	for _, ts := range stamps {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}
	return kept
}

func getJSON(ctx context.Context, store kvstore.Store, key string, dst any) (bool, error) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		// A corrupt record is treated as absent so one bad write cannot lock a user out.
		slog.Warn("quota: discarding malformed record", "key", key, "error", err)
		return false, nil
	}
	return true, nil
}

func putJSON(ctx context.Context, store kvstore.Store, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return store.Put(ctx, key, string(data), ttl)
}
