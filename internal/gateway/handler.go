// Package gateway turns Telegram webhook updates into quota-checked
// conversation turns and slash-command replies.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/aiox-platform/llmgate/internal/api"
	"github.com/aiox-platform/llmgate/internal/dedupe"
	"github.com/aiox-platform/llmgate/internal/history"
	"github.com/aiox-platform/llmgate/internal/messenger"
	inats "github.com/aiox-platform/llmgate/internal/nats"
	"github.com/aiox-platform/llmgate/internal/orchestrator"
	"github.com/aiox-platform/llmgate/internal/preference"
	"github.com/aiox-platform/llmgate/internal/provider"
	"github.com/aiox-platform/llmgate/internal/quota"
	"github.com/aiox-platform/llmgate/internal/telegram"
)

const (
	SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

	maxUpdateBytes = 1 << 20

	ackOK        = "OK"
	ackIgnored   = "ignored"
	ackDuplicate = "duplicate"

	TextOnlyNotice = "Sorry, I can only read text messages."
)

// Conversations runs an admitted message to completion.
type Conversations interface {
	Handle(ctx context.Context, req orchestrator.Request) orchestrator.Outcome
}

// QuotaEvents receives quota rejections. Optional.
type QuotaEvents interface {
	PublishQuota(ctx context.Context, ev inats.QuotaEvent) error
}

type Config struct {
	BotUsername   string
	WebhookSecret string
}

type Deps struct {
	Messenger     messenger.Messenger
	Ledger        *quota.Ledger
	Admins        *quota.AdminSet
	History       *history.Store
	Prefs         *preference.Store
	Registry      *provider.Registry
	Conversations Conversations
	Dedupe        *dedupe.Guard
	Events        QuotaEvents
}

type Handler struct {
	cfg      Config
	deps     Deps
	mention  *mentionMatcher
	validate *validator.Validate
	requests *orchestrator.Validator
	now      func() time.Time
}

func NewHandler(cfg Config, deps Deps) *Handler {
	return &Handler{
		cfg:      cfg,
		deps:     deps,
		mention:  newMentionMatcher(cfg.BotUsername),
		validate: validator.New(),
		requests: orchestrator.NewValidator(),
		now:      time.Now,
	}
}

// ServeHTTP acknowledges every well-formed update with 200 so Telegram does
// not redeliver it; processing problems are reported to the user instead.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.cfg.WebhookSecret != "" {
		got := r.Header.Get(SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.cfg.WebhookSecret)) != 1 {
			slog.Warn("webhook secret mismatch", "remote", r.RemoteAddr)
			api.Text(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}

	var update telegram.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUpdateBytes)).Decode(&update); err != nil {
		slog.Warn("ignoring malformed update", "error", err)
		api.Text(w, http.StatusOK, ackIgnored)
		return
	}
	if err := h.validate.Struct(update); err != nil {
		slog.Warn("ignoring invalid update", "error", err)
		api.Text(w, http.StatusOK, ackIgnored)
		return
	}

	// The turn outlives a webhook connection that Telegram gives up on;
	// dedupe absorbs the redelivery.
	ctx := context.WithoutCancel(r.Context())

	if h.deps.Dedupe != nil {
		dup, err := h.deps.Dedupe.CheckAndMark(ctx, update.UpdateID)
		if err != nil {
			slog.Warn("dedupe unavailable, processing update", "error", err, "update_id", update.UpdateID)
		}
		if dup {
			slog.Info("duplicate update dropped", "update_id", update.UpdateID)
			api.Text(w, http.StatusOK, ackDuplicate)
			return
		}
	}

	if !h.Process(ctx, &update) {
		api.Text(w, http.StatusOK, ackIgnored)
		return
	}
	api.Text(w, http.StatusOK, ackOK)
}

// Process handles one update and reports whether it was acted on.
func (h *Handler) Process(ctx context.Context, update *telegram.Update) bool {
	ev, ok := FromUpdate(update)
	if !ok || ev.ChatKind == ChatOther {
		return false
	}

	if len(ev.Text) > 0 && ev.Text[0] == '/' {
		return h.command(ctx, ev)
	}

	text := ev.Text
	if ev.ChatKind == ChatGroup {
		var addressed bool
		text, addressed = h.mention.addressed(ev)
		if !addressed {
			return false
		}
	}

	if text == "" {
		if !ev.HasAttachment {
			return false
		}
		h.send(ctx, ev.ChatID, TextOnlyNotice)
		return true
	}

	req := orchestrator.Request{
		ChatID:   ev.ChatID,
		UserID:   ev.SenderID,
		Username: ev.Username,
		Text:     text,
	}
	// Rejected before admission so an oversized message costs no quota.
	if err := h.requests.Validate(req); orchestrator.TooLong(err) {
		h.send(ctx, ev.ChatID, orchestrator.TooLongNotice)
		return true
	}

	if !h.admit(ctx, ev) {
		return true
	}

	out := h.deps.Conversations.Handle(ctx, req)
	slog.Debug("conversation finished", "chat_id", ev.ChatID, "state", out.State, "provider", out.Provider)
	return true
}

// admit runs the quota check. A ledger failure fails open.
func (h *Handler) admit(ctx context.Context, ev Event) bool {
	decision, err := h.deps.Ledger.Check(ctx, ev.SenderID, ev.Username, h.now())
	if err != nil {
		slog.Warn("quota check failed, admitting", "error", err, "user_id", ev.SenderID)
		return true
	}
	if decision.Admit {
		return true
	}
	slog.Info("quota rejected", "user_id", ev.SenderID, "reason", decision.Reason, "limit", decision.Limit)

	var exceeded *quota.ExceededError
	if errors.As(decision.Err(), &exceeded) {
		h.send(ctx, ev.ChatID, exceeded.UserMessage())
	}

	if h.deps.Events != nil {
		err := h.deps.Events.PublishQuota(ctx, inats.QuotaEvent{
			UserID:   ev.SenderID,
			Username: ev.Username,
			ChatID:   ev.ChatID,
			Reason:   string(decision.Reason),
			Limit:    decision.Limit,
		})
		if err != nil {
			slog.Warn("publishing quota event", "error", err)
		}
	}
	return false
}

func (h *Handler) send(ctx context.Context, chatID, text string) {
	if _, err := h.deps.Messenger.SendMessage(ctx, chatID, text); err != nil {
		slog.Error("sending reply", "error", err, "chat_id", chatID)
	}
}
