package telegram

import (
	"encoding/json"
	"strconv"
)

// Update is the webhook envelope. Only message updates are handled.
type Update struct {
	UpdateID int64    `json:"update_id" validate:"required"`
	Message  *Message `json:"message"`
}

// Message is the subset of the Bot API message object the gateway reads.
type Message struct {
	MessageID      int64           `json:"message_id"`
	From           *User           `json:"from"`
	Chat           Chat            `json:"chat"`
	Text           string          `json:"text"`
	Caption        string          `json:"caption"`
	ReplyToMessage *Message        `json:"reply_to_message"`
	Entities       []Entity        `json:"entities"`
	Photo          json.RawMessage `json:"photo"`
	Document       json.RawMessage `json:"document"`
	Sticker        json.RawMessage `json:"sticker"`
	Voice          json.RawMessage `json:"voice"`
	Audio          json.RawMessage `json:"audio"`
	Video          json.RawMessage `json:"video"`
	VideoNote      json.RawMessage `json:"video_note"`
	Animation      json.RawMessage `json:"animation"`
	Location       json.RawMessage `json:"location"`
	Contact        json.RawMessage `json:"contact"`
}

// User is a message sender.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// Chat identifies the conversation a message belongs to.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"` // private, group, supergroup or channel
}

// Entity marks a span of a message's text, such as a mention or command.
type Entity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
}

// ChatIDString returns the chat id in the form used for storage keys.
func (m *Message) ChatIDString() string {
	return strconv.FormatInt(m.Chat.ID, 10)
}

// IsGroup reports whether the message was posted in a group chat.
func (m *Message) IsGroup() bool {
	return m.Chat.Type == "group" || m.Chat.Type == "supergroup"
}

// HasAttachment reports whether the message carries non-text content.
func (m *Message) HasAttachment() bool {
	for _, raw := range []json.RawMessage{
		m.Photo, m.Document, m.Sticker, m.Voice, m.Audio,
		m.Video, m.VideoNote, m.Animation, m.Location, m.Contact,
	} {
		if len(raw) > 0 && string(raw) != "null" {
			return true
		}
	}
	return false
}
