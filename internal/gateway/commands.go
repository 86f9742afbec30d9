package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/aiox-platform/llmgate/internal/provider"
	"github.com/aiox-platform/llmgate/internal/quota"
)

const (
	textClearDone     = "Conversation cleared. The next message starts a fresh context."
	textNotAdmin      = "Only admins can do that."
	textUnknown       = "Unknown command. Send /help to see what I can do."
	textStoreDown     = "Sorry, I could not do that right now. Please try again later."
	textAdminUsage    = "Usage: %s <username>"
	textNeedsUsername = "Set a Telegram username first; admin commands are tied to it."
)

// splitCommand splits "/cmd@bot args" into its lower-cased name, the
// addressed bot (possibly empty) and the remaining arguments.
func splitCommand(text string) (name, target, args string) {
	text = strings.TrimSpace(text)
	head, rest := text, ""
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		head, rest = text[:i], text[i:]
	}
	head, target, _ = strings.Cut(head, "@")
	return strings.ToLower(head), target, strings.TrimSpace(rest)
}

// command handles a slash command. It reports false when the command is
// not meant for this bot and was ignored.
func (h *Handler) command(ctx context.Context, ev Event) bool {
	name, target, args := splitCommand(ev.Text)
	if target != "" && !h.mention.isBot(target) {
		return false
	}

	log := slog.With("chat_id", ev.ChatID, "user_id", ev.SenderID, "command", name)

	var reply string
	switch name {
	case "/start", "/help":
		reply = h.helpText()
	case "/clear":
		reply = textClearDone
		if err := h.deps.History.Clear(ctx, ev.ChatID, ev.SenderID); err != nil {
			log.Error("clearing history", "error", err)
			reply = textStoreDown
		}
	case "/model":
		reply = h.modelCommand(ctx, ev, args, log)
	case "/quota":
		reply = h.quotaCommand(ctx, ev, log)
	case "/addadmin", "/removeadmin":
		reply = h.adminCommand(ctx, ev, name, args, log)
	default:
		// In groups an untargeted unknown command is probably for another bot.
		if ev.ChatKind == ChatGroup && target == "" {
			return false
		}
		reply = textUnknown
	}

	h.send(ctx, ev.ChatID, reply)
	return true
}

func (h *Handler) helpText() string {
	var b strings.Builder
	b.WriteString("Hi! Send me a message and I will answer with an AI model.\n")
	if h.cfg.BotUsername != "" {
		fmt.Fprintf(&b, "In groups, mention @%s or reply to one of my messages.\n", h.cfg.BotUsername)
	}
	b.WriteString("\nCommands:\n")
	b.WriteString("/help - show this message\n")
	b.WriteString("/clear - forget our conversation\n")
	b.WriteString("/model [id] - show or switch the AI model\n")
	b.WriteString("/quota - show your usage today\n")
	b.WriteString("/addadmin <username>, /removeadmin <username> - manage admins (admins only)\n")
	fmt.Fprintf(&b, "\nModels: %s", strings.Join(h.modelIDs(), ", "))
	return b.String()
}

func (h *Handler) modelIDs() []string {
	list := h.deps.Registry.List()
	ids := make([]string, 0, len(list))
	for _, c := range list {
		ids = append(ids, string(c.ID))
	}
	return ids
}

func (h *Handler) modelCommand(ctx context.Context, ev Event, args string, log *slog.Logger) string {
	available := strings.Join(h.modelIDs(), ", ")
	if args == "" {
		current, err := h.deps.Prefs.Get(ctx, ev.SenderID)
		if err != nil {
			log.Warn("reading model preference", "error", err)
			current = h.deps.Prefs.Default()
		}
		return fmt.Sprintf("Current model: %s (%s)\nAvailable: %s\nUse /model <id> to switch.",
			current, h.deps.Registry.Model(provider.ProviderID(current)), available)
	}

	id := strings.ToLower(strings.Fields(args)[0])
	if !h.deps.Registry.Has(provider.ProviderID(id)) {
		return fmt.Sprintf("Unknown model %q. Available: %s", id, available)
	}
	if err := h.deps.Prefs.Set(ctx, ev.SenderID, id); err != nil {
		log.Error("saving model preference", "error", err)
		return textStoreDown
	}
	return fmt.Sprintf("Model switched to %s (%s).", id, h.deps.Registry.Model(provider.ProviderID(id)))
}

func (h *Handler) quotaCommand(ctx context.Context, ev Event, log *slog.Logger) string {
	st, err := h.deps.Ledger.Status(ctx, ev.SenderID, ev.Username, h.now())
	if err != nil {
		log.Error("reading quota status", "error", err)
		return textStoreDown
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Usage for %s:\n", st.Date)
	fmt.Fprintf(&b, "Today: %d/%d requests\n", st.DailyCount, st.DailyLimit)
	fmt.Fprintf(&b, "This minute: %d/%d\n", st.MinuteCount, st.MinuteLimit)
	fmt.Fprintf(&b, "Service total: %d/%d", st.TotalDailyRequests, st.TotalDailyLimit)
	if st.IsAdmin {
		b.WriteString("\nYou are an admin; limits do not apply to you.")
	}
	return b.String()
}

func (h *Handler) adminCommand(ctx context.Context, ev Event, name, args string, log *slog.Logger) string {
	// An empty actor means "operator" to the AdminSet, so it must never
	// come from a chat user.
	if ev.Username == "" {
		return textNeedsUsername
	}
	handle := ""
	if fields := strings.Fields(args); len(fields) > 0 {
		handle = fields[0]
	}

	var err error
	if name == "/addadmin" {
		err = h.deps.Admins.Add(ctx, ev.Username, handle)
	} else {
		err = h.deps.Admins.Remove(ctx, ev.Username, handle)
	}

	norm := quota.NormalizeHandle(handle)
	switch {
	case err == nil && name == "/addadmin":
		log.Info("admin added", "actor", ev.Username, "handle", norm)
		return fmt.Sprintf("@%s is now an admin.", norm)
	case err == nil:
		log.Info("admin removed", "actor", ev.Username, "handle", norm)
		return fmt.Sprintf("@%s is no longer an admin.", norm)
	case errors.Is(err, quota.ErrInvalidHandle):
		return fmt.Sprintf(textAdminUsage, name)
	case errors.Is(err, quota.ErrNotAdmin):
		return textNotAdmin
	case errors.Is(err, quota.ErrSeedAdmin):
		return fmt.Sprintf("@%s is a configured admin and cannot be removed here.", norm)
	default:
		log.Error("updating admin set", "error", err)
		return textStoreDown
	}
}
