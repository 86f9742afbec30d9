package quota

import "fmt"

// Reason identifies which limit rejected a request.
type Reason string

const (
	ReasonNone   Reason = ""
	ReasonGlobal Reason = "global"
	ReasonDaily  Reason = "daily"
	ReasonRate   Reason = "rate"
)

// Limits are the thresholds the ledger enforces for non-admin users.
type Limits struct {
	RequestsPerUser   int
	RequestsPerMinute int
	TotalDailyLimit   int
}

// UserRecord is the per-user quota state stored under quota:user:<id>.
type UserRecord struct {
	DailyCount       int     `json:"daily_count"`
	MinuteTimestamps []int64 `json:"minute_timestamps"` // unix milliseconds, oldest first
	LastResetDay     int     `json:"last_reset_day"`
	LastResetDate    string  `json:"last_reset_date"`
}

// GlobalState is the singleton system-wide counter stored under quota:global.
type GlobalState struct {
	TotalDailyRequests int    `json:"total_daily_requests"`
	LastResetDay       int    `json:"last_reset_day"`
	LastResetDate      string `json:"last_reset_date"`
}

// Decision is the outcome of a single Check.
type Decision struct {
	Admit   bool
	Reason  Reason
	IsAdmin bool
	Limit   int
}

// Err returns an *ExceededError for a rejected decision and nil otherwise.
func (d Decision) Err() error {
	if d.Admit {
		return nil
	}
	return &ExceededError{Reason: d.Reason, Limit: d.Limit}
}

// ExceededError is returned to callers when a request is not admitted.
type ExceededError struct {
	Reason Reason
	Limit  int
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %s limit %d", e.Reason, e.Limit)
}

// UserMessage is the notice shown to the end user for this rejection.
func (e *ExceededError) UserMessage() string {
	switch e.Reason {
	case ReasonGlobal:
		return "The service has reached its daily request limit. Please try again tomorrow."
	case ReasonDaily:
		return fmt.Sprintf("You have used all %d of your requests for today. Your quota resets tomorrow.", e.Limit)
	case ReasonRate:
		return fmt.Sprintf("You are sending messages too quickly (max %d per minute). Please wait a moment.", e.Limit)
	default:
		return "Request limit reached. Please try again later."
	}
}

// Status is a read-only view of a user's usage, used by /quota and the admin API.
type Status struct {
	UserID             string `json:"user_id"`
	IsAdmin            bool   `json:"is_admin"`
	DailyCount         int    `json:"daily_count"`
	DailyLimit         int    `json:"daily_limit"`
	MinuteCount        int    `json:"minute_count"`
	MinuteLimit        int    `json:"minute_limit"`
	TotalDailyRequests int    `json:"total_daily_requests"`
	TotalDailyLimit    int    `json:"total_daily_limit"`
	Date               string `json:"date"`
}
