// Package chat defines the boundary types exchanged between a host chat
// platform and the conversation engine: inbound messages, stream
// descriptors, and the bot persona.
package chat

import (
	"strings"
	"time"
)

// ChatType tells the engine whether a stream is a private conversation
// or a group channel. Prompt tone guidance differs between the two.
type ChatType string

const (
	ChatTypePrivate ChatType = "private"
	ChatTypeGroup   ChatType = "group"
)

// MediaType classifies inline message attachments the engine understands.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaEmoji MediaType = "emoji"
)

// Media is one inline attachment carried by a message. Data holds the
// base64 payload, optionally prefixed with "base64|" or a full data URL
// depending on what the host produces.
type Media struct {
	Type MediaType `json:"type"`
	Data string    `json:"data"`
}

// Message is a single inbound chat message as normalized by the host.
// Time is seconds since the Unix epoch; fractional parts are preserved.
type Message struct {
	MessageID  string  `json:"message_id"`
	SenderID   string  `json:"sender_id"`
	SenderName string  `json:"sender_name"`
	PlainText  string  `json:"plain_text"`
	Time       float64 `json:"time"`
	Media      []Media `json:"media,omitempty"`
}

// Text returns the displayable text of the message with surrounding
// whitespace removed.
func (m Message) Text() string {
	return strings.TrimSpace(m.PlainText)
}

// Timestamp converts the float epoch seconds into a time.Time. Messages
// without a usable timestamp map to the zero time.
func (m Message) Timestamp() time.Time {
	if m.Time <= 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(m.Time*float64(time.Second)))
}

// StreamInfo describes the chat stream a conversation runs in.
type StreamInfo struct {
	StreamID string   `json:"stream_id"`
	Platform string   `json:"platform"`
	ChatType ChatType `json:"chat_type"`
	BotID    string   `json:"bot_id"`
	Persona  Persona  `json:"persona"`
}
