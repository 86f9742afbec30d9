package nats

import "time"

// FetchTimeout bounds a single batch fetch when tailing events.
const FetchTimeout = 2 * time.Second

// StreamEvents is the JetStream stream holding every gateway event.
const StreamEvents = "LLMGATE_EVENTS"

// Subject constants.
const (
	SubjectEvents       = "llmgate.events.>"
	SubjectConversation = "llmgate.events.conversation"
	SubjectQuota        = "llmgate.events.quota"
)

// ConversationEvent is published when a conversation turn reaches a terminal state.
type ConversationEvent struct {
	ID               string    `json:"id"`
	ChatID           string    `json:"chat_id"`
	UserID           string    `json:"user_id"`
	State            string    `json:"state"` // PERSISTED or FAILED
	Provider         string    `json:"provider"`
	Model            string    `json:"model,omitempty"`
	ErrorKind        string    `json:"error_kind,omitempty"`
	DurationMS       int64     `json:"duration_ms"`
	AnswerLength     int       `json:"answer_length"`
	HistoryTurns     int       `json:"history_turns"`
	PromptTokens     int       `json:"prompt_tokens,omitempty"`
	CompletionTokens int       `json:"completion_tokens,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// QuotaEvent is published when the quota ledger rejects a request.
type QuotaEvent struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	ChatID    string    `json:"chat_id"`
	Reason    string    `json:"reason"` // global, daily or rate
	Limit     int       `json:"limit"`
	Timestamp time.Time `json:"timestamp"`
}
