package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/aiox-platform/llmgate/internal/history"
	"github.com/aiox-platform/llmgate/internal/messenger"
	"github.com/aiox-platform/llmgate/internal/metrics"
	inats "github.com/aiox-platform/llmgate/internal/nats"
	"github.com/aiox-platform/llmgate/internal/preference"
	"github.com/aiox-platform/llmgate/internal/provider"
	"github.com/aiox-platform/llmgate/internal/throttle"
)

// State is a step of the per-message state machine.
type State string

const (
	StateAdmitted      State = "ADMITTED"
	StateHistoryLoaded State = "HISTORY_LOADED"
	StateStreaming     State = "STREAMING"
	StatePersisted     State = "PERSISTED"
	StateFailed        State = "FAILED"
)

const (
	PlaceholderText = "⏳ Thinking…"
	FailureNotice   = "Sorry, something went wrong while generating the answer. Please try again later."
	TimeoutNotice   = "Sorry, the model took too long to answer. Please try again in a moment."
	TimeoutSuffix   = "\n\n⚠️ The answer was cut off because the model timed out."
	TooLongNotice   = "Sorry, that message is too long. Please shorten it and try again."

	logInputRunes = 80
)

// Request is one admitted, non-command user message.
type Request struct {
	ChatID   string
	UserID   string
	Username string
	Text     string
}

// Outcome is the terminal result of Handle. Err carries the cause of a
// FAILED outcome for logging; it is never meant to reach the frontend.
type Outcome struct {
	State        State
	Answer       string
	Provider     provider.ProviderID
	Usage        provider.Usage
	HistoryTurns int
	Err          error
}

// EventPublisher receives terminal conversation events. Optional.
type EventPublisher interface {
	PublishConversation(ctx context.Context, ev inats.ConversationEvent) error
}

type Config struct {
	SystemPrompt string
	Throttle     throttle.Config
}

// Orchestrator drives one conversational turn from placeholder to persisted
// history. All outbound I/O for a turn is issued from the calling goroutine.
type Orchestrator struct {
	msgr       messenger.Messenger
	history    *history.Store
	prefs      *preference.Store
	dispatcher *provider.Dispatcher
	validator  *Validator
	events     EventPublisher
	cfg        Config
	now        func() time.Time
}

// New creates an Orchestrator. events may be nil.
func New(
	msgr messenger.Messenger,
	hist *history.Store,
	prefs *preference.Store,
	dispatcher *provider.Dispatcher,
	events EventPublisher,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		msgr:       msgr,
		history:    hist,
		prefs:      prefs,
		dispatcher: dispatcher,
		validator:  NewValidator(),
		events:     events,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Handle runs the turn to a terminal state. Every path that reaches the
// placeholder leaves the user with exactly one final message.
func (o *Orchestrator) Handle(ctx context.Context, req Request) Outcome {
	start := o.now()
	out := o.handle(ctx, req)

	metrics.ConversationsTotal.WithLabelValues(string(out.State)).Inc()
	o.publish(ctx, req, out, start)
	return out
}

func (o *Orchestrator) handle(ctx context.Context, req Request) Outcome {
	out := Outcome{State: StateAdmitted}
	log := slog.With("chat_id", req.ChatID, "user_id", req.UserID)

	if err := o.validator.Validate(req); err != nil {
		log.Warn("rejecting request", "error", err)
		if TooLong(err) {
			if _, sendErr := o.msgr.SendMessage(ctx, req.ChatID, TooLongNotice); sendErr != nil {
				log.Error("sending notice", "error", sendErr)
			}
		}
		return fail(out, err)
	}

	o.typing(ctx, req.ChatID, log)

	placeholderID, err := o.msgr.SendMessage(ctx, req.ChatID, PlaceholderText)
	if err != nil {
		log.Error("sending placeholder", "error", err)
		return fail(out, err)
	}

	providerID := o.resolveProvider(ctx, req.UserID, log)
	out.Provider = providerID

	turns, err := o.history.Load(ctx, req.ChatID, req.UserID)
	if err != nil {
		log.Error("loading history", "error", err)
		o.notify(ctx, req.ChatID, placeholderID, FailureNotice, log)
		return fail(out, err)
	}
	out.State = StateHistoryLoaded

	working := make([]history.Turn, 0, len(turns)+2)
	working = append(working, turns...)
	working = append(working, history.Turn{Role: history.RoleUser, Content: req.Text})

	edit := func(ctx context.Context, text string) error {
		return o.msgr.EditMessage(ctx, req.ChatID, placeholderID, text)
	}
	// A fresh controller per turn starts from the base delay.
	ctrl := throttle.NewController(o.cfg.Throttle, edit, o.now)

	out.State = StateStreaming
	res, err := o.dispatcher.Dispatch(ctx, providerID, o.cfg.SystemPrompt, turns, req.Text, func(full string) {
		if _, err := ctrl.Offer(ctx, full); err != nil {
			log.Debug("intermediate edit failed", "error", err)
		}
	})
	if err != nil {
		o.logDispatchFailure(log, providerID, req.Text, err)

		var timeout *provider.TimeoutError
		switch {
		case errors.As(err, &timeout) && res.Text != "":
			o.notify(ctx, req.ChatID, placeholderID, res.Text+TimeoutSuffix, log)
		case errors.As(err, &timeout):
			o.notify(ctx, req.ChatID, placeholderID, TimeoutNotice, log)
		default:
			o.notify(ctx, req.ChatID, placeholderID, FailureNotice, log)
		}
		return fail(out, err)
	}

	if err := ctrl.Flush(ctx, res.Text); err != nil {
		log.Warn("final edit failed, sending answer as new message", "error", err)
		if _, err := o.msgr.SendMessage(ctx, req.ChatID, res.Text); err != nil {
			log.Error("sending final answer", "error", err)
			return fail(out, err)
		}
	}
	out.Answer = res.Text
	out.Usage = res.Usage

	working = append(working, history.Turn{Role: history.RoleAssistant, Content: res.Text})
	out.HistoryTurns = len(history.Trim(working, o.history.MaxRounds()))
	if err := o.history.Save(ctx, req.ChatID, req.UserID, working, o.history.TTL()); err != nil {
		// The answer is already on screen; only durable state is lost.
		metrics.HistoryPersistFailuresTotal.Inc()
		log.Error("persisting history", "error", err)
		return fail(out, err)
	}

	log.Info("conversation turn completed",
		"provider", providerID,
		"edits", ctrl.Edits(),
		"answer_runes", utf8.RuneCountInString(res.Text),
		"prompt_tokens", res.Usage.PromptTokens,
		"completion_tokens", res.Usage.CompletionTokens,
	)
	out.State = StatePersisted
	return out
}

func fail(out Outcome, err error) Outcome {
	out.State = StateFailed
	out.Err = err
	return out
}

// typing is best-effort. Transient faults are expected and dropped; anything
// else is logged but still never fails the turn.
func (o *Orchestrator) typing(ctx context.Context, chatID string, log *slog.Logger) {
	err := o.msgr.SendTyping(ctx, chatID)
	if err == nil || messenger.IsTransient(err) {
		return
	}
	log.Warn("typing indicator failed", "error", err)
}

func (o *Orchestrator) resolveProvider(ctx context.Context, userID string, log *slog.Logger) provider.ProviderID {
	id, err := o.prefs.Get(ctx, userID)
	if err != nil {
		log.Warn("reading model preference, using default", "error", err)
		return provider.ProviderID(o.prefs.Default())
	}
	return provider.ProviderID(id)
}

// notify replaces the placeholder with text, falling back to a new message
// when the edit fails.
func (o *Orchestrator) notify(ctx context.Context, chatID string, messageID int64, text string, log *slog.Logger) {
	err := o.msgr.EditMessage(ctx, chatID, messageID, text)
	if err == nil {
		return
	}
	log.Warn("editing placeholder with notice", "error", err)
	if _, err := o.msgr.SendMessage(ctx, chatID, text); err != nil {
		log.Error("sending notice", "error", err)
	}
}

func (o *Orchestrator) logDispatchFailure(log *slog.Logger, id provider.ProviderID, input string, err error) {
	log.Error("provider dispatch failed",
		"provider", id,
		"model", o.dispatcher.Registry().Model(id),
		"error_kind", provider.Kind(err),
		"input", truncate(input, logInputRunes),
		"error", err,
	)
}

func (o *Orchestrator) publish(ctx context.Context, req Request, out Outcome, start time.Time) {
	if o.events == nil {
		return
	}
	ev := inats.ConversationEvent{
		ChatID:           req.ChatID,
		UserID:           req.UserID,
		State:            string(out.State),
		Provider:         string(out.Provider),
		Model:            o.dispatcher.Registry().Model(out.Provider),
		DurationMS:       o.now().Sub(start).Milliseconds(),
		AnswerLength:     utf8.RuneCountInString(out.Answer),
		HistoryTurns:     out.HistoryTurns,
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
	}
	if out.Err != nil {
		ev.ErrorKind = provider.Kind(out.Err)
	}
	if err := o.events.PublishConversation(ctx, ev); err != nil {
		slog.Warn("publishing conversation event", "error", err, "chat_id", req.ChatID)
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
