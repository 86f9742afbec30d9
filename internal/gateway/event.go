package gateway

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/aiox-platform/llmgate/internal/telegram"
)

type ChatKind string

const (
	ChatDirect ChatKind = "direct"
	ChatGroup  ChatKind = "group"
	ChatOther  ChatKind = "other"
)

// Event is the frontend-neutral view of one inbound chat message.
type Event struct {
	UpdateID        int64
	ChatID          string
	ChatKind        ChatKind
	SenderID        string
	Username        string
	Text            string
	Caption         string
	ReplyToUsername string
	HasAttachment   bool
}

// FromUpdate converts a webhook update. It reports false for updates that
// carry no user message, such as edits, channel posts or bot senders.
func FromUpdate(u *telegram.Update) (Event, bool) {
	msg := u.Message
	if msg == nil || msg.From == nil || msg.From.IsBot {
		return Event{}, false
	}

	ev := Event{
		UpdateID:      u.UpdateID,
		ChatID:        msg.ChatIDString(),
		SenderID:      strconv.FormatInt(msg.From.ID, 10),
		Username:      msg.From.Username,
		Text:          strings.TrimSpace(msg.Text),
		Caption:       strings.TrimSpace(msg.Caption),
		HasAttachment: msg.HasAttachment(),
	}
	switch {
	case msg.Chat.Type == "private":
		ev.ChatKind = ChatDirect
	case msg.IsGroup():
		ev.ChatKind = ChatGroup
	default:
		ev.ChatKind = ChatOther
	}
	if reply := msg.ReplyToMessage; reply != nil && reply.From != nil {
		ev.ReplyToUsername = reply.From.Username
	}
	return ev, true
}

// mentionMatcher finds @bot mentions in group text.
type mentionMatcher struct {
	bot string
	re  *regexp.Regexp
}

func newMentionMatcher(bot string) *mentionMatcher {
	bot = strings.TrimPrefix(bot, "@")
	return &mentionMatcher{
		bot: bot,
		re:  regexp.MustCompile(`(?i)@` + regexp.QuoteMeta(bot) + `\b`),
	}
}

// addressed reports whether a group message is for the bot and returns the
// text with the mention removed.
func (m *mentionMatcher) addressed(ev Event) (string, bool) {
	text := ev.Text
	mentioned := m.re.MatchString(text) || (text == "" && m.re.MatchString(ev.Caption))
	if mentioned {
		text = strings.TrimSpace(strings.ReplaceAll(m.re.ReplaceAllString(text, ""), "  ", " "))
	}
	repliedToBot := ev.ReplyToUsername != "" && strings.EqualFold(ev.ReplyToUsername, m.bot)
	return text, mentioned || repliedToBot
}

// isBot reports whether target names this bot.
func (m *mentionMatcher) isBot(target string) bool {
	return strings.EqualFold(strings.TrimPrefix(target, "@"), m.bot)
}
