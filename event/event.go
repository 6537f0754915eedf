// Package event models inbound messaging-platform events and decodes them
// from LINE webhook payloads.
package event

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Kind identifies what an inbound event carries.
type Kind string

const (
	KindText     Kind = "text"
	KindSticker  Kind = "sticker"
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindFile     Kind = "file"
	KindLocation Kind = "location"
	KindFollow   Kind = "follow"
	KindUnfollow Kind = "unfollow"
	KindJoin     Kind = "join"
	KindLeave    Kind = "leave"
	KindPostback Kind = "postback"
	KindBeacon   Kind = "beacon"
	KindUnknown  Kind = "unknown"
)

// IsMessage reports whether the kind is one of the message kinds.
func (k Kind) IsMessage() bool {
	switch k {
	case KindText, KindSticker, KindImage, KindVideo, KindAudio, KindFile, KindLocation:
		return true
	case KindFollow, KindUnfollow, KindJoin, KindLeave, KindPostback, KindBeacon, KindUnknown:
		return false
	default:
		return false
	}
}

// Location is the payload of a location message.
type Location struct {
	Title     string  `json:"title,omitempty"`
	Address   string  `json:"address,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Event is a single decoded inbound event for one user.
type Event struct {
	Kind         Kind      `json:"kind"`
	UserID       string    `json:"userId"`
	ReplyToken   string    `json:"replyToken,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	MessageID    string    `json:"messageId,omitempty"`
	Text         string    `json:"text,omitempty"`
	Location     *Location `json:"location,omitempty"`
	PostbackData string    `json:"postbackData,omitempty"`
	PackageID    string    `json:"packageId,omitempty"`
	StickerID    string    `json:"stickerId,omitempty"`
}

// IsMessage reports whether the event is a message event.
func (e *Event) IsMessage() bool {
	return e != nil && e.Kind.IsMessage()
}

// MessageType returns the message type ("text", "location", ...) for message
// events and an empty string otherwise.
func (e *Event) MessageType() string {
	if !e.IsMessage() {
		return ""
	}

	return string(e.Kind)
}

// HasReplyToken reports whether a reply can be sent for this event.
func (e *Event) HasReplyToken() bool {
	return e != nil && e.ReplyToken != ""
}

// Postback parses the postback data as a query string. Malformed data yields
// an empty set of values.
func (e *Event) Postback() url.Values {
	if e == nil || e.PostbackData == "" {
		return url.Values{}
	}

	values, err := url.ParseQuery(e.PostbackData)
	if err != nil {
		return url.Values{}
	}

	return values
}

// Subject returns the free text guards match against: the message text for
// text events and the postback data for postback events.
func (e *Event) Subject() string {
	if e == nil {
		return ""
	}

	switch e.Kind { //nolint:exhaustive
	case KindText:
		return e.Text
	case KindPostback:
		return e.PostbackData
	default:
		return ""
	}
}

// Content renders the event for conversation logs. Non-text messages are
// stored as a placeholder naming their type.
func (e *Event) Content() string {
	if e == nil {
		return ""
	}

	if e.Kind == KindText {
		return e.Text
	}

	return Placeholder(e.MessageType())
}

// Placeholder is the log content used for messages without text.
func Placeholder(messageType string) string {
	return fmt.Sprintf("===This is %s type message.===", messageType)
}

// String implements fmt.Stringer.
func (e *Event) String() string {
	if e == nil {
		return "<nil event>"
	}

	var sb strings.Builder

	sb.WriteString(string(e.Kind))
	sb.WriteString(" from ")
	sb.WriteString(e.UserID)

	if e.Kind == KindText {
		sb.WriteString(": ")
		sb.WriteString(e.Text)
	}

	return sb.String()
}
